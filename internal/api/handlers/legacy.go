package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/service"
	"github.com/your-org/attendance/pkg/dto"
)

// LegacyHandler answers the browser kiosk page, which posts to a single
// endpoint with ?action=register|mark and shows data.message to the user.
type LegacyHandler struct {
	identify *service.IdentificationService
	enroll   *service.EnrollmentService
}

func NewLegacyHandler(identify *service.IdentificationService, enroll *service.EnrollmentService) *LegacyHandler {
	return &LegacyHandler{identify: identify, enroll: enroll}
}

func (h *LegacyHandler) Exec(c *gin.Context) {
	var req dto.LegacyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.EnrollResponse{Status: "error", Message: "invalid request body"})
		return
	}

	switch c.Query("action") {
	case "register":
		h.register(c, req)
	case "mark":
		h.mark(c, req)
	default:
		c.JSON(http.StatusBadRequest, dto.EnrollResponse{Status: "error", Message: "unknown action"})
	}
}

func (h *LegacyHandler) register(c *gin.Context, req dto.LegacyRequest) {
	id := strings.TrimSpace(req.EmpID)
	if id == "" {
		id = req.Name
	}

	rec, err := h.enroll.Enroll(c.Request.Context(), service.EnrollRequest{
		IdentityID: id,
		Profile: models.Profile{
			DisplayName: req.Name,
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

func (h *LegacyHandler) mark(c *gin.Context, req dto.LegacyRequest) {
	res, err := h.identify.Identify(c.Request.Context(), service.IdentifyRequest{
		Descriptor: descriptor.FromFloat64(req.Descriptor),
		Image:      req.Image,
	})
	if err != nil {
		status, msg := statusFor(err)
		c.JSON(status, dto.IdentifyResponse{Found: false, Message: msg})
		return
	}

	resp := identifyResponse(res)
	switch res.State {
	case service.StateRecorded:
		resp.Message = "Attendance marked for " + res.Profile.DisplayName
	case service.StateDebounced:
		resp.Message = "Attendance already marked for " + res.Profile.DisplayName
	default:
		resp.Message = "Face not recognized"
	}
	c.JSON(http.StatusOK, resp)
}
