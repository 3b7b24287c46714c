package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/waystellar/argusv4-sub001/internal/pitwall/course"
	"github.com/waystellar/argusv4-sub001/pkg/auth"
	"github.com/waystellar/argusv4-sub001/pkg/models"
)

// maxCourseBytes bounds a GeoJSON course upload.
const maxCourseBytes = 8 << 20

type createEventRequest struct {
	Name      string `json:"name" binding:"required"`
	TotalLaps int    `json:"total_laps" binding:"required,min=1"`
}

func (h *Handlers) createEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and total_laps >= 1 required"})
		return
	}

	event, err := h.store.CreateEvent(c.Request.Context(), req.Name, req.TotalLaps)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (h *Handlers) advanceStatus(c *gin.Context) {
	var req struct {
		Status models.EventStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status required"})
		return
	}

	event, err := h.store.AdvanceEventStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

// putCourse accepts a GeoJSON FeatureCollection body, validates it, and
// stores it with its derived length.
func (h *Handlers) putCourse(c *gin.Context) {
	eventID := c.Param("id")

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCourseBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable course body"})
		return
	}

	crs, err := course.Parse(data)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.store.SetCourse(c.Request.Context(), eventID, data, crs.TotalMiles()); err != nil {
		respondError(c, err)
		return
	}
	h.courses.Delete(eventID)

	c.JSON(http.StatusOK, gin.H{
		"event_id":     eventID,
		"course_miles": crs.TotalMiles(),
		"course":       crs.Describe(),
	})
}

func (h *Handlers) putCheckpoints(c *gin.Context) {
	var req struct {
		Checkpoints []models.Checkpoint `json:"checkpoints" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "checkpoints required"})
		return
	}

	saved, err := h.store.ReplaceCheckpoints(c.Request.Context(), c.Param("id"), req.Checkpoints)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": saved})
}

type createVehicleRequest struct {
	VehicleNumber string `json:"vehicle_number" binding:"required"`
	TeamName      string `json:"team_name" binding:"required"`
	DriverName    string `json:"driver_name"`
}

// createVehicle registers a vehicle and mints its truck token. The
// token appears in this response and never again.
func (h *Handlers) createVehicle(c *gin.Context) {
	var req createVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vehicle_number and team_name required"})
		return
	}

	token, err := auth.MintTruckToken()
	if err != nil {
		respondError(c, err)
		return
	}

	vehicle, err := h.store.CreateVehicle(c.Request.Context(), req.VehicleNumber, req.TeamName, req.DriverName, token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"vehicle":     vehicle,
		"truck_token": token,
	})
}

func (h *Handlers) registerVehicle(c *gin.Context) {
	var req struct {
		VehicleID string `json:"vehicle_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vehicle_id required"})
		return
	}

	if err := h.store.RegisterVehicle(c.Request.Context(), c.Param("id"), req.VehicleID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"event_id":   c.Param("id"),
		"vehicle_id": req.VehicleID,
	})
}

func (h *Handlers) setVisibility(c *gin.Context) {
	var req struct {
		Visible *bool `json:"visible" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "visible required"})
		return
	}

	eventID, vehicleID := c.Param("id"), c.Param("vid")
	if err := h.store.SetVisibility(c.Request.Context(), eventID, vehicleID, *req.Visible); err != nil {
		respondError(c, err)
		return
	}
	h.publishPermission(c.Request.Context(), eventID, vehicleID)

	c.JSON(http.StatusOK, gin.H{
		"event_id":   eventID,
		"vehicle_id": vehicleID,
		"visible":    *req.Visible,
	})
}

func (h *Handlers) putPolicy(c *gin.Context) {
	var req struct {
		AllowProduction []string `json:"allow_production"`
		AllowFans       []string `json:"allow_fans"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed policy"})
		return
	}

	eventID, vehicleID := c.Param("id"), c.Param("vid")
	saved, err := h.store.UpsertPolicy(c.Request.Context(), models.TelemetryPolicy{
		EventID:         eventID,
		VehicleID:       vehicleID,
		AllowProduction: req.AllowProduction,
		AllowFans:       req.AllowFans,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.publishPermission(c.Request.Context(), eventID, vehicleID)

	c.JSON(http.StatusOK, saved)
}

func (h *Handlers) streamStart(c *gin.Context) {
	var req struct {
		SourceID string `json:"source_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_id required"})
		return
	}

	cmd, err := h.streams.Start(c.Request.Context(), c.Param("vid"), req.SourceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"command": cmd,
		"state":   h.streams.Status(c.Param("vid")),
	})
}

func (h *Handlers) streamStop(c *gin.Context) {
	cmd, err := h.streams.Stop(c.Request.Context(), c.Param("vid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"command": cmd,
		"state":   h.streams.Status(c.Param("vid")),
	})
}

func (h *Handlers) streamRetry(c *gin.Context) {
	state, err := h.streams.Retry(c.Request.Context(), c.Param("vid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"vehicle_id": c.Param("vid"),
		"state":      state,
	})
}

func (h *Handlers) streamState(c *gin.Context) {
	c.JSON(http.StatusOK, h.streams.Status(c.Param("vid")))
}
