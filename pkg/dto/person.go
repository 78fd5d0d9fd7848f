package dto

type EnrollRequest struct {
	IdentityID  string    `json:"identityId"`
	DisplayName string    `json:"displayName"`
	Category    string    `json:"category,omitempty"`
	Department  string    `json:"department,omitempty"`
	Descriptor  []float64 `json:"descriptor"`
}

type EnrollResponse struct {
	Status     string `json:"status"` // ok, error
	Message    string `json:"message"`
	IdentityID string `json:"identityId,omitempty"`
	Samples    int    `json:"samples,omitempty"`
}

// ReenrollRequest replaces the whole sample set of an identity.
type ReenrollRequest struct {
	DisplayName string      `json:"displayName"`
	Category    string      `json:"category,omitempty"`
	Department  string      `json:"department,omitempty"`
	Descriptors [][]float64 `json:"descriptors"`
}

type PersonResponse struct {
	IdentityID  string `json:"identity_id"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category,omitempty"`
	Department  string `json:"department,omitempty"`
	Samples     int    `json:"samples"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type PersonListResponse struct {
	Persons []PersonResponse `json:"persons"`
	Total   int              `json:"total"`
}

// LegacyRequest is the body the browser kiosk page posts to /exec for both
// register and mark actions.
type LegacyRequest struct {
	Name       string    `json:"name"`
	EmpID      string    `json:"empId"`
	Category   string    `json:"category,omitempty"`
	Department string    `json:"department,omitempty"`
	Descriptor []float64 `json:"descriptor"`
	Image      string    `json:"image,omitempty"`
}
