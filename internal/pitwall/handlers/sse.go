package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/waystellar/argusv4-sub001/pkg/auth"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// sseHeartbeatInterval keeps proxies from reaping idle connections.
const sseHeartbeatInterval = 15 * time.Second

// streamEvents is the viewer SSE endpoint. Lifecycle: connected frame,
// then replay (when the client presents a resumable Last-Event-ID) or a
// snapshot of latest positions, then live events until the client goes
// away. Every data-bearing frame passes through the permission
// projector for this viewer's tier.
func (h *Handlers) streamEvents(c *gin.Context) {
	eventID := c.Param("event_id")
	ctx := c.Request.Context()

	if _, err := h.store.GetEvent(ctx, eventID); err != nil {
		respondError(c, err)
		return
	}
	viewer := h.resolver.ViewerAccess(c.Request, eventID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	// Subscribe before replaying so no event falls between the replay
	// scan and the live phase.
	events, release := h.hub.Subscribe(eventID)
	defer release()

	writeFrame(c.Writer, 0, models.StreamEventConnected, models.ConnectedFrame{
		ServerTsMs:   time.Now().UnixMilli(),
		ViewerAccess: string(viewer),
		EventID:      eventID,
	})
	flusher.Flush()

	if !h.replay(c, viewer, eventID, lastEventID(c)) {
		h.snapshot(c, viewer, eventID)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeFrame(c.Writer, 0, models.StreamEventHeartbeat, models.HeartbeatFrame{
				ServerTsMs: time.Now().UnixMilli(),
			})
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == models.StreamEventPermission {
				h.invalidateFromPermission(ev)
			}
			projected, keep, err := h.projector.Project(ctx, viewer, ev)
			if err != nil {
				h.logger.WithField("event_id", eventID).WithError(err).Warn("Failed to project stream event")
				continue
			}
			if !keep {
				continue
			}
			writeRawFrame(c.Writer, projected.Seq, projected.Type, projected.Data)
			flusher.Flush()
		}
	}
}

// lastEventID extracts the resume position: the standard header first,
// then the query fallback for EventSource polyfills. Absent or
// malformed means -1, never resume.
func lastEventID(c *gin.Context) int64 {
	raw := c.GetHeader("Last-Event-ID")
	if raw == "" {
		raw = c.Query("lastEventId")
	}
	if raw == "" {
		return -1
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return -1
	}
	return id
}

// replay emits buffered events newer than since with their original
// seqs. Returns false when the client must fall back to a snapshot:
// no resume position, a gap past the buffer, or nothing to replay.
func (h *Handlers) replay(c *gin.Context, viewer auth.ViewerAccess, eventID string, since int64) bool {
	if since < 0 {
		return false
	}
	ctx := c.Request.Context()

	buffered, ok, err := h.pub.ReplaySince(ctx, eventID, since)
	if err != nil {
		h.logger.WithField("event_id", eventID).WithError(err).Warn("Replay scan failed")
		return false
	}
	if !ok || len(buffered) == 0 {
		return false
	}

	for _, ev := range buffered {
		if ev.Type == models.StreamEventPermission {
			h.invalidateFromPermission(ev)
		}
		projected, keep, err := h.projector.Project(ctx, viewer, ev)
		if err != nil || !keep {
			continue
		}
		writeRawFrame(c.Writer, projected.Seq, projected.Type, projected.Data)
	}
	return true
}

// snapshot emits the projected latest positions as one frame.
func (h *Handlers) snapshot(c *gin.Context, viewer auth.ViewerAccess, eventID string) {
	latest, err := h.tracker.Latest(c.Request.Context(), eventID)
	if err != nil {
		h.logger.WithField("event_id", eventID).WithError(err).Warn("Snapshot load failed")
		latest = nil
	}
	writeFrame(c.Writer, 0, models.StreamEventSnapshot, gin.H{
		"event_id":     eventID,
		"positions":    h.projectSnapshot(c, viewer, latest),
		"server_ts_ms": time.Now().UnixMilli(),
	})
}

// invalidateFromPermission drops cached policy for the vehicle a
// permission event names.
func (h *Handlers) invalidateFromPermission(ev models.StreamEvent) {
	var change models.PermissionChange
	if err := json.Unmarshal(ev.Data, &change); err != nil {
		return
	}
	h.projector.Invalidate(change.EventID, change.VehicleID)
}

// writeFrame marshals data and emits one SSE frame. id 0 means the
// frame consumes no sequence number and carries no id line.
func writeFrame(w io.Writer, id int64, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	writeRawFrame(w, id, event, payload)
}

func writeRawFrame(w io.Writer, id int64, event string, payload []byte) {
	if id > 0 {
		fmt.Fprintf(w, "id: %d\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
