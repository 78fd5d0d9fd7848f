package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/service"
	"github.com/your-org/attendance/pkg/dto"
)

type IdentifyHandler struct {
	svc *service.IdentificationService
}

func NewIdentifyHandler(svc *service.IdentificationService) *IdentifyHandler {
	return &IdentifyHandler{svc: svc}
}

func (h *IdentifyHandler) Identify(c *gin.Context) {
	var req dto.IdentifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.svc.Identify(c.Request.Context(), service.IdentifyRequest{
		Descriptor: descriptor.FromFloat64(req.Descriptor),
		Image:      req.Image,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, identifyResponse(res))
}

func identifyResponse(res *service.Identification) dto.IdentifyResponse {
	if !res.Found() {
		return dto.IdentifyResponse{Found: false}
	}
	distance := res.Distance
	return dto.IdentifyResponse{
		Found:    true,
		Name:     res.Profile.DisplayName,
		EmpID:    res.IdentityID,
		Distance: &distance,
	}
}
