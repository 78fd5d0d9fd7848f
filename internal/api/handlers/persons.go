package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/service"
	"github.com/your-org/attendance/pkg/dto"
)

type PersonHandler struct {
	svc *service.EnrollmentService
}

func NewPersonHandler(svc *service.EnrollmentService) *PersonHandler {
	return &PersonHandler{svc: svc}
}

// Enroll adds one descriptor sample to an identity, creating it on first use.
func (h *PersonHandler) Enroll(c *gin.Context) {
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.EnrollResponse{Status: "error", Message: "invalid request body"})
		return
	}

	rec, err := h.svc.Enroll(c.Request.Context(), service.EnrollRequest{
		IdentityID: req.IdentityID,
		Profile: models.Profile{
			DisplayName: req.DisplayName,
			Category:    req.Category,
			Department:  req.Department,
		},
		Descriptor: descriptor.FromFloat64(req.Descriptor),
	})
	if err != nil {
		status, msg := statusFor(err)
		c.JSON(status, dto.EnrollResponse{Status: "error", Message: msg})
		return
	}

	c.JSON(http.StatusOK, enrolledResponse(rec))
}

func enrolledResponse(rec *models.EnrollmentRecord) dto.EnrollResponse {
	msg := "Registered " + rec.Profile.DisplayName
	if rec.SampleCount() > 1 {
		msg = "Added a sample for " + rec.Profile.DisplayName
	}
	return dto.EnrollResponse{
		Status:     "ok",
		Message:    msg,
		IdentityID: rec.IdentityID,
		Samples:    rec.SampleCount(),
	}
}

// Reenroll replaces every stored sample of the identity in the path.
func (h *PersonHandler) Reenroll(c *gin.Context) {
	var req dto.ReenrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ds := make([]descriptor.Vector, 0, len(req.Descriptors))
	for _, d := range req.Descriptors {
		ds = append(ds, descriptor.FromFloat64(d))
	}

	rec, err := h.svc.Reenroll(c.Request.Context(), service.ReenrollRequest{
		IdentityID: c.Param("id"),
		Profile: models.Profile{
			DisplayName: req.DisplayName,
			Category:    req.Category,
			Department:  req.Department,
		},
		Descriptors: ds,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, personResponse(rec))
}

func (h *PersonHandler) List(c *gin.Context) {
	records, err := h.svc.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.PersonResponse, 0, len(records))
	for i := range records {
		resp = append(resp, personResponse(&records[i]))
	}

	c.JSON(http.StatusOK, dto.PersonListResponse{Persons: resp, Total: len(resp)})
}

func (h *PersonHandler) Get(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}

	c.JSON(http.StatusOK, personResponse(rec))
}

func personResponse(rec *models.EnrollmentRecord) dto.PersonResponse {
	return dto.PersonResponse{
		IdentityID:  rec.IdentityID,
		DisplayName: rec.Profile.DisplayName,
		Category:    rec.Profile.Category,
		Department:  rec.Profile.Department,
		Samples:     rec.SampleCount(),
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
