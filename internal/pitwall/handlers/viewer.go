package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/waystellar/argusv4-sub001/pkg/auth"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// getLeaderboard returns the ranked standings for an event.
func (h *Handlers) getLeaderboard(c *gin.Context) {
	eventID := c.Param("event_id")
	ctx := c.Request.Context()

	event, err := h.store.GetEvent(ctx, eventID)
	if err != nil {
		respondError(c, err)
		return
	}

	board, err := h.boards.Build(ctx, event, h.courseFor(ctx, eventID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

// getSplits returns every crossing of the event in time order.
func (h *Handlers) getSplits(c *gin.Context) {
	eventID := c.Param("event_id")
	ctx := c.Request.Context()

	if _, err := h.store.GetEvent(ctx, eventID); err != nil {
		respondError(c, err)
		return
	}

	splits, err := h.store.ListCrossings(ctx, eventID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"event_id":     eventID,
		"splits":       splits,
		"server_ts_ms": time.Now().UnixMilli(),
	})
}

// latestPositions returns the live merged state of every vehicle,
// projected for the caller's viewer tier. Hidden vehicles disappear for
// non-team viewers.
func (h *Handlers) latestPositions(c *gin.Context) {
	eventID := c.Param("event_id")
	ctx := c.Request.Context()

	if _, err := h.store.GetEvent(ctx, eventID); err != nil {
		respondError(c, err)
		return
	}

	viewer := h.resolver.ViewerAccess(c.Request, eventID)
	latest, err := h.tracker.Latest(ctx, eventID)
	if err != nil {
		respondError(c, err)
		return
	}

	positions := h.projectSnapshot(c, viewer, latest)
	c.JSON(http.StatusOK, gin.H{
		"event_id":     eventID,
		"viewer":       viewer,
		"positions":    positions,
		"server_ts_ms": time.Now().UnixMilli(),
	})
}

// projectSnapshot filters a latest-positions set for one viewer.
func (h *Handlers) projectSnapshot(c *gin.Context, viewer auth.ViewerAccess, latest []models.LatestPosition) []map[string]interface{} {
	positions := make([]map[string]interface{}, 0, len(latest))
	for _, pos := range latest {
		projected, keep, err := h.projector.ProjectLatest(c.Request.Context(), viewer, pos)
		if err != nil {
			h.logger.WithField("vehicle_id", pos.VehicleID).WithError(err).Warn("Failed to project position")
			continue
		}
		if keep {
			positions = append(positions, projected)
		}
	}
	return positions
}
