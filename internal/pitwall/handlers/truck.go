package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/waystellar/argusv4-sub001/pkg/auth"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// ingest settles one uplink batch from an authenticated truck.
func (h *Handlers) ingest(c *gin.Context) {
	identity := auth.TruckIdentityFrom(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing truck identity"})
		return
	}

	var req models.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed ingest batch"})
		return
	}

	resp, err := h.pipeline.Ingest(c.Request.Context(), identity, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// heartbeat records edge presence. Unlike ingest it accepts any event
// status so trucks stay reachable before the green flag and after the
// checkered one.
func (h *Handlers) heartbeat(c *gin.Context) {
	identity := auth.TruckIdentityFrom(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing truck identity"})
		return
	}
	ctx := c.Request.Context()

	status := identity.EventStatus
	if event, err := h.store.GetEvent(ctx, identity.EventID); err == nil {
		status = event.Status
	}

	if err := h.tracker.Touch(ctx, identity.EventID, identity.VehicleID, time.Now()); err != nil {
		h.logger.WithField("vehicle_id", identity.VehicleID).WithError(err).Warn("Failed to record heartbeat presence")
	}

	c.JSON(http.StatusOK, models.HeartbeatResponse{
		VehicleID:      identity.VehicleID,
		EventID:        identity.EventID,
		EventStatus:    status,
		ServerTsMs:     time.Now().UnixMilli(),
		PendingCommand: h.streams.Heartbeat(ctx, identity.VehicleID),
	})
}

// truckMe echoes what the presented token resolves to.
func (h *Handlers) truckMe(c *gin.Context) {
	identity := auth.TruckIdentityFrom(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing truck identity"})
		return
	}
	c.JSON(http.StatusOK, identity)
}

// streamAck applies an edge acknowledgment to the vehicle's pending
// stream command.
func (h *Handlers) streamAck(c *gin.Context) {
	identity := auth.TruckIdentityFrom(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing truck identity"})
		return
	}

	var ack models.StreamAck
	if err := c.ShouldBindJSON(&ack); err != nil || ack.CommandID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed ack"})
		return
	}

	if err := h.streams.Ack(c.Request.Context(), identity.VehicleID, ack); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.streams.Status(identity.VehicleID))
}
