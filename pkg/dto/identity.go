package dto

type IdentityResponse struct {
	IdentityID   string `json:"identity_id"`
	DisplayName  string `json:"display_name"`
	ContactEmail string `json:"contact_email"`
	Department   string `json:"department"`
	EnrolledAt   string `json:"enrolled_at"`
}

type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Total      int                `json:"total"`
}

// MessageResponse is the body of operations with nothing else to return.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
