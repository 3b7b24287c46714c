package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminTokenHeader carries a static operator token.
const AdminTokenHeader = "X-Admin-Token"

// AdminSessionCookie is the browser-session cookie name.
const AdminSessionCookie = "admin_session"

// Resolver computes the role for a request. Resolution order, first
// match wins: admin token header, admin session JWT, truck token,
// premium JWT, public.
type Resolver struct {
	trucks *TruckResolver

	jwtSecret []byte
	// adminTokens are accepted verbatim (constant-time compared).
	adminTokens []string
	// adminTokenHashes are bcrypt hashes, for deployments that refuse
	// to keep plaintext operator tokens in the environment.
	adminTokenHashes []string
}

// ResolverConfig wires a Resolver.
type ResolverConfig struct {
	Trucks           *TruckResolver
	JWTSecret        []byte
	AdminTokens      []string
	AdminTokenHashes []string
}

// NewResolver builds the request-role resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	return &Resolver{
		trucks:           cfg.Trucks,
		jwtSecret:        cfg.JWTSecret,
		adminTokens:      cfg.AdminTokens,
		adminTokenHashes: cfg.AdminTokenHashes,
	}
}

// Resolve computes the request identity. pathEventID is the event id
// from the URL when the route is event-scoped, empty otherwise; a truck
// token only earns RoleTeam for an event the vehicle is registered for.
func (r *Resolver) Resolve(req *http.Request, pathEventID string) AuthInfo {
	// 1. Static admin token.
	if tok := req.Header.Get(AdminTokenHeader); tok != "" && r.isAdminToken(tok) {
		return AuthInfo{Role: RoleAdmin}
	}

	// 2. Admin session JWT, cookie or Bearer.
	if claims := r.sessionClaims(req); claims != nil && claims.Type == TokenTypeAdminSession {
		return AuthInfo{Role: RoleAdmin}
	}

	// 3. Truck token → team, scoped to the vehicle's registrations.
	if tok := req.Header.Get(TruckTokenHeader); tok != "" && r.trucks != nil {
		if ident, err := r.trucks.Resolve(req.Context(), tok); err == nil {
			info := AuthInfo{Role: RoleTeam, VehicleID: ident.VehicleID, EventID: ident.EventID}
			if pathEventID == "" || pathEventID == ident.EventID {
				return info
			}
			if ok, err := r.trucks.RegisteredForEvent(req.Context(), ident.VehicleID, pathEventID); err == nil && ok {
				info.EventID = pathEventID
				return info
			}
			// Valid token, wrong event: public, never premium.
			return AuthInfo{Role: RolePublic}
		}
	}

	// 4. Premium subscription JWT.
	if claims := r.bearerClaims(req); claims != nil && claims.Type == TokenTypePremium {
		return AuthInfo{Role: RolePremium, SubscriberID: claims.SubscriberID}
	}

	return AuthInfo{Role: RolePublic}
}

// ViewerAccess resolves the viewer tier for an event-scoped stream.
func (r *Resolver) ViewerAccess(req *http.Request, eventID string) ViewerAccess {
	return r.Resolve(req, eventID).Viewer()
}

func (r *Resolver) isAdminToken(token string) bool {
	for _, want := range r.adminTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1 {
			return true
		}
	}
	for _, hash := range r.adminTokenHashes {
		if CheckPassword(token, hash) {
			return true
		}
	}
	return false
}

// sessionClaims pulls admin-session claims from the cookie or the
// Authorization header.
func (r *Resolver) sessionClaims(req *http.Request) *Claims {
	if len(r.jwtSecret) == 0 {
		return nil
	}
	if cookie, err := req.Cookie(AdminSessionCookie); err == nil && cookie.Value != "" {
		if claims, err := ValidateJWT(cookie.Value, r.jwtSecret); err == nil {
			return claims
		}
	}
	return r.bearerClaims(req)
}

func (r *Resolver) bearerClaims(req *http.Request) *Claims {
	if len(r.jwtSecret) == 0 {
		return nil
	}
	authz := req.Header.Get("Authorization")
	if authz == "" {
		return nil
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil
	}
	claims, err := ValidateJWT(parts[1], r.jwtSecret)
	if err != nil {
		return nil
	}
	return claims
}
