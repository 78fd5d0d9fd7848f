package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/ledger"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/service"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/pkg/dto"
)

// ImageSource serves stored snapshots. Implemented by storage.MinIOStore.
type ImageSource interface {
	GetObject(ctx context.Context, key string) ([]byte, string, error)
}

type AttendanceHandler struct {
	ledger *ledger.Ledger
	people *service.EnrollmentService
	images ImageSource // nil when snapshot storage is disabled
}

func NewAttendanceHandler(l *ledger.Ledger, people *service.EnrollmentService, images ImageSource) *AttendanceHandler {
	return &AttendanceHandler{ledger: l, people: people, images: images}
}

func (h *AttendanceHandler) List(c *gin.Context) {
	var q dto.AttendanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}

	query := models.EventQuery{
		IdentityID: strings.TrimSpace(q.IdentityID),
		Limit:      q.Limit,
		Offset:     q.Offset,
	}
	var err error
	if query.From, err = parseTime(q.From); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from, want RFC3339"})
		return
	}
	if query.To, err = parseTime(q.To); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to, want RFC3339"})
		return
	}

	ctx := c.Request.Context()
	events, total, err := h.ledger.List(ctx, query)
	if err != nil {
		respondError(c, err)
		return
	}

	ids := make([]string, 0, len(events))
	seen := make(map[string]bool)
	for _, ev := range events {
		if !seen[ev.IdentityID] {
			seen[ev.IdentityID] = true
			ids = append(ids, ev.IdentityID)
		}
	}
	// names are decoration; the listing still succeeds without them
	profiles, err := h.people.Profiles(ctx, ids)
	if err != nil {
		slog.Warn("resolve attendance names", "error", err)
	}

	resp := make([]dto.AttendanceEventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, service.EventView(ev, profiles[ev.IdentityID].DisplayName))
	}

	c.JSON(http.StatusOK, dto.AttendanceListResponse{Events: resp, Total: total})
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Image returns the snapshot captured with an attendance event.
func (h *AttendanceHandler) Image(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	ev, err := h.ledger.Get(c.Request.Context(), eventID)
	if err != nil {
		respondError(c, err)
		return
	}
	if ev == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	// Without snapshot storage the image string was kept verbatim.
	if snap, ok, err := service.ParseDataURL(ev.ImageRef); ok && err == nil {
		c.Data(http.StatusOK, snap.ContentType, snap.Data)
		return
	}

	if h.images == nil || !strings.HasPrefix(ev.ImageRef, service.SnapshotPrefix) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no stored image for this event"})
		return
	}

	data, contentType, err := h.images.GetObject(c.Request.Context(), ev.ImageRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "image storage unavailable"})
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}
