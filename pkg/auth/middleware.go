package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/waystellar/argusv4-sub001/pkg/errs"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

const ctxAuthInfo = "auth_info"
const ctxTruckIdentity = "truck_identity"

// TruckAuthMiddleware authenticates vehicle traffic by truck token and
// injects the resolved identity into the context.
func TruckAuthMiddleware(trucks *TruckResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := trucks.Resolve(c.Request.Context(), c.GetHeader(TruckTokenHeader))
		if err != nil {
			c.JSON(errs.HTTPStatus(errs.KindOf(err)), gin.H{"error": "invalid truck token"})
			c.Abort()
			return
		}

		c.Set(ctxTruckIdentity, ident)
		c.Set("vehicle_id", ident.VehicleID)
		c.Set("event_id", ident.EventID)
		c.Next()
	}
}

// TruckIdentityFrom returns the identity set by TruckAuthMiddleware.
func TruckIdentityFrom(c *gin.Context) *models.TruckIdentity {
	if v, ok := c.Get(ctxTruckIdentity); ok {
		if ident, ok := v.(*models.TruckIdentity); ok {
			return ident
		}
	}
	return nil
}

// RequireRole resolves the request role and rejects callers below min.
// Event-scoped routes pass the id param name so team tokens are checked
// against the right event.
func RequireRole(resolver *Resolver, min Role, eventIDParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		pathEventID := ""
		if eventIDParam != "" {
			pathEventID = c.Param(eventIDParam)
		}

		info := resolver.Resolve(c.Request, pathEventID)
		if !info.Role.AtLeast(min) {
			status := http.StatusForbidden
			if info.Role == RolePublic {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": "insufficient privileges"})
			c.Abort()
			return
		}

		c.Set(ctxAuthInfo, info)
		c.Next()
	}
}

// InfoFrom returns the AuthInfo set by RequireRole, defaulting to public.
func InfoFrom(c *gin.Context) AuthInfo {
	if v, ok := c.Get(ctxAuthInfo); ok {
		if info, ok := v.(AuthInfo); ok {
			return info
		}
	}
	return AuthInfo{Role: RolePublic}
}
