// Package status is copilot's local HTTP surface: crew laptops on the
// vehicle LAN poll it to see sensor health, queue depth, and uplink
// state without cloud connectivity.
package status

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/waystellar/argusv4-sub001/internal/copilot/collector"
	"github.com/waystellar/argusv4-sub001/internal/copilot/uploader"
	"github.com/waystellar/argusv4-sub001/pkg/models"
	"github.com/waystellar/argusv4-sub001/pkg/version"
)

// IdentityFetcher resolves the truck token against the cloud.
type IdentityFetcher interface {
	Me(ctx context.Context) (*models.TruckIdentity, error)
}

// identityTTL bounds how long a cloud identity lookup is reused; the
// registered event can change between races.
const identityTTL = 5 * time.Minute

// Response is the full local status document.
type Response struct {
	Service  string                   `json:"service"`
	Version  string                   `json:"version"`
	Identity *models.TruckIdentity    `json:"identity,omitempty"`
	Sources  []collector.SourceStatus `json:"sources"`
	Uploader uploader.Snapshot        `json:"uploader"`
	ServerTs int64                    `json:"server_ts_ms"`
}

// Handler serves the status document.
type Handler struct {
	collector *collector.Collector
	uploader  *uploader.Uploader
	cloud     IdentityFetcher

	mu        sync.Mutex
	identity  *models.TruckIdentity
	fetchedAt time.Time
}

// NewHandler builds the status handler. cloud may be nil for offline
// bench use; identity is then omitted.
func NewHandler(c *collector.Collector, u *uploader.Uploader, cloud IdentityFetcher) *Handler {
	return &Handler{collector: c, uploader: u, cloud: cloud}
}

// Register mounts the status route.
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/status", h.getStatus)
}

func (h *Handler) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Service:  "copilot",
		Version:  version.Version,
		Identity: h.cachedIdentity(c.Request.Context()),
		Sources:  h.collector.Snapshot(),
		Uploader: h.uploader.Status(),
		ServerTs: time.Now().UnixMilli(),
	})
}

// cachedIdentity returns the last known identity, refreshing it when
// stale. A cloud outage never fails the status page; the stale identity
// (or none) is returned instead.
func (h *Handler) cachedIdentity(ctx context.Context) *models.TruckIdentity {
	if h.cloud == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.identity != nil && time.Since(h.fetchedAt) < identityTTL {
		return h.identity
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	id, err := h.cloud.Me(fetchCtx)
	if err != nil {
		return h.identity
	}
	h.identity = id
	h.fetchedAt = time.Now()
	return h.identity
}
