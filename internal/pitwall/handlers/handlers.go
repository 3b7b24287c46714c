// Package handlers is the pitwall HTTP surface: truck uplink, viewer
// reads, the SSE stream, and the operator/admin API. Handlers translate
// between the wire and the domain packages and map error kinds to HTTP
// statuses at this boundary only.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/waystellar/argusv4-sub001/internal/pitwall/course"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/leaderboard"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/live"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/policy"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/pubsub"
	"github.com/waystellar/argusv4-sub001/internal/pitwall/streamctl"
	"github.com/waystellar/argusv4-sub001/pkg/auth"
	"github.com/waystellar/argusv4-sub001/pkg/cache"
	"github.com/waystellar/argusv4-sub001/pkg/errs"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// Store is the persistence surface the HTTP layer reads and writes.
// *store.Store satisfies it.
type Store interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
	CreateEvent(ctx context.Context, name string, totalLaps int) (*models.Event, error)
	AdvanceEventStatus(ctx context.Context, eventID string, next models.EventStatus) (*models.Event, error)
	SetCourse(ctx context.Context, eventID string, courseGeoJSON []byte, courseMiles float64) error
	GetCourse(ctx context.Context, eventID string) ([]byte, error)
	ReplaceCheckpoints(ctx context.Context, eventID string, cps []models.Checkpoint) ([]models.Checkpoint, error)
	CreateVehicle(ctx context.Context, number, teamName, driverName, truckToken string) (*models.Vehicle, error)
	RegisterVehicle(ctx context.Context, eventID, vehicleID string) error
	SetVisibility(ctx context.Context, eventID, vehicleID string, visible bool) error
	UpsertPolicy(ctx context.Context, policy models.TelemetryPolicy) (*models.TelemetryPolicy, error)
	ListCrossings(ctx context.Context, eventID string) ([]models.SplitRow, error)
}

// Ingestor settles uplink batches. *ingest.Pipeline satisfies it.
type Ingestor interface {
	Ingest(ctx context.Context, identity *models.TruckIdentity, req *models.IngestRequest) (*models.IngestResponse, error)
}

// courseCacheTTL bounds how stale a parsed course may be after an
// operator re-uploads it.
const courseCacheTTL = 60 * time.Second

// Handlers carries every dependency of the pitwall API.
type Handlers struct {
	logger    logging.Logger
	store     Store
	pipeline  Ingestor
	tracker   *live.Tracker
	pub       *pubsub.Publisher
	hub       *pubsub.Hub
	projector *policy.Projector
	boards    *leaderboard.Engine
	streams   *streamctl.Controller
	resolver  *auth.Resolver
	trucks    *auth.TruckResolver

	courses *cache.Cache
}

// New wires the handler set.
func New(logger logging.Logger, st Store, pipeline Ingestor, tracker *live.Tracker, pub *pubsub.Publisher, hub *pubsub.Hub, projector *policy.Projector, boards *leaderboard.Engine, streams *streamctl.Controller, resolver *auth.Resolver, trucks *auth.TruckResolver) *Handlers {
	return &Handlers{
		logger:    logger,
		store:     st,
		pipeline:  pipeline,
		tracker:   tracker,
		pub:       pub,
		hub:       hub,
		projector: projector,
		boards:    boards,
		streams:   streams,
		resolver:  resolver,
		trucks:    trucks,
		courses:   cache.New(cache.Options{TTL: courseCacheTTL, MaxEntries: 100}, cache.MetricsHooks{}),
	}
}

// Register mounts every route on the router.
func (h *Handlers) Register(router *gin.Engine) {
	v1 := router.Group("/api/v1")

	truck := v1.Group("", auth.TruckAuthMiddleware(h.trucks))
	truck.POST("/telemetry/ingest", h.ingest)
	truck.POST("/telemetry/heartbeat", h.heartbeat)
	truck.GET("/truck/me", h.truckMe)
	truck.POST("/stream/ack", h.streamAck)

	events := v1.Group("/events/:event_id")
	events.GET("/stream", h.streamEvents)
	events.GET("/leaderboard", h.getLeaderboard)
	events.GET("/splits", h.getSplits)
	events.GET("/positions/latest", h.latestPositions)

	admin := v1.Group("/admin", auth.RequireRole(h.resolver, auth.RoleOrganizer, "id"))
	admin.POST("/events", h.createEvent)
	admin.PATCH("/events/:id/status", h.advanceStatus)
	admin.PUT("/events/:id/course", h.putCourse)
	admin.POST("/events/:id/checkpoints", h.putCheckpoints)
	admin.POST("/vehicles", h.createVehicle)
	admin.POST("/events/:id/vehicles", h.registerVehicle)
	admin.PATCH("/events/:id/vehicles/:vid/visibility", h.setVisibility)
	admin.PUT("/events/:id/vehicles/:vid/policy", h.putPolicy)

	// Stream control is team-or-above: a truck token may drive its own
	// vehicle's encoder.
	stream := v1.Group("/admin/vehicles/:vid/stream", auth.RequireRole(h.resolver, auth.RoleTeam, ""), h.requireOwnVehicle)
	stream.POST("/start", h.streamStart)
	stream.POST("/stop", h.streamStop)
	stream.POST("/retry", h.streamRetry)
	stream.GET("", h.streamState)
}

// respondError maps a domain error to its HTTP status.
func respondError(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(errs.KindOf(err)), gin.H{"error": err.Error()})
}

// requireOwnVehicle pins truck credentials to their own vehicle;
// organizer and admin pass untouched.
func (h *Handlers) requireOwnVehicle(c *gin.Context) {
	info := auth.InfoFrom(c)
	if info.Role == auth.RoleTeam && info.VehicleID != "" && info.VehicleID != c.Param("vid") {
		c.JSON(http.StatusForbidden, gin.H{"error": "credential is scoped to another vehicle"})
		c.Abort()
		return
	}
	c.Next()
}

// publishPermission invalidates local projector caches and announces
// the change so remote subscribers do the same.
func (h *Handlers) publishPermission(ctx context.Context, eventID, vehicleID string) {
	h.projector.Invalidate(eventID, vehicleID)
	change := models.PermissionChange{
		EventID:   eventID,
		VehicleID: vehicleID,
		TsMs:      time.Now().UnixMilli(),
		Type:      models.StreamEventPermission,
	}
	if _, err := h.pub.Publish(ctx, eventID, models.StreamEventPermission, change); err != nil {
		h.logger.WithFields(logging.Fields{
			"event_id":   eventID,
			"vehicle_id": vehicleID,
		}).WithError(err).Warn("Failed to publish permission change")
	}
}

// courseFor loads and parses the event's course through a short cache.
// Events without a course return nil.
func (h *Handlers) courseFor(ctx context.Context, eventID string) *course.Course {
	v, ok, err := h.courses.Get(ctx, eventID, func(ctx context.Context, key string) (interface{}, bool, error) {
		data, err := h.store.GetCourse(ctx, key)
		if errs.IsKind(err, errs.NotFound) {
			return (*course.Course)(nil), true, nil
		}
		if err != nil {
			return nil, false, err
		}
		crs, err := course.Parse(data)
		if err != nil {
			return nil, false, err
		}
		return crs, true, nil
	})
	if err != nil || !ok {
		if err != nil {
			h.logger.WithField("event_id", eventID).WithError(err).Warn("Failed to load course")
		}
		return nil
	}
	crs, _ := v.(*course.Course)
	return crs
}
