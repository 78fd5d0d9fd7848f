package dto

import "github.com/google/uuid"

// IdentifyRequest is the kiosk payload for POST /v1/identify.
// Image is optional: a data URL snapshot or an opaque reference.
type IdentifyRequest struct {
	Descriptor []float64 `json:"descriptor"`
	Image      string    `json:"image,omitempty"`
}

// IdentifyResponse collapses every rejection to {"found": false}.
type IdentifyResponse struct {
	Found    bool     `json:"found"`
	Name     string   `json:"name,omitempty"`
	EmpID    string   `json:"empId,omitempty"`
	Distance *float64 `json:"distance,omitempty"`
	Message  string   `json:"message,omitempty"`
}

type AttendanceEventResponse struct {
	ID          uuid.UUID `json:"id"`
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Timestamp   string    `json:"timestamp"`
	Distance    float64   `json:"match_distance"`
	ImageRef    string    `json:"image_ref,omitempty"`
	CreatedAt   string    `json:"created_at"`
}

type AttendanceListResponse struct {
	Events []AttendanceEventResponse `json:"events"`
	Total  int                       `json:"total"`
}

type AttendanceQuery struct {
	IdentityID string `form:"identity_id"`
	From       string `form:"from"`
	To         string `form:"to"`
	Limit      int    `form:"limit"`
	Offset     int    `form:"offset"`
}

// WSEvent is a WebSocket message for real-time attendance delivery.
type WSEvent struct {
	Type       string                  `json:"type"` // attendance_recorded
	IdentityID string                  `json:"identity_id"`
	Data       AttendanceEventResponse `json:"data"`
}

const WSTypeAttendanceRecorded = "attendance_recorded"
