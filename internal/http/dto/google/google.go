package google

// InitiateResponse es la respuesta de POST /v2/tenants/{tenantID}/google/auth.
type InitiateResponse struct {
	AuthURL string `json:"auth_url"`
}

// UpdateStatusRequest es el body de PUT .../google/credential/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}
