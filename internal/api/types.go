package api

// SignupRequest represents the POST /auth/signup payload.
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents the POST /auth/login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the opaque bearer token for subsequent requests.
type LoginResponse struct {
	Token string `json:"token"`
}

// UserResponse is the authenticated user's own profile.
type UserResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateDocumentRequest represents the POST /documents payload.
// DeliveryDate is RFC3339 and must be strictly in the future.
type CreateDocumentRequest struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	DeliveryDate  string   `json:"delivery_date"`
	Collaborators []string `json:"collaborators"`
}

// UpdateDocumentRequest represents the PUT /documents/{id} payload.
// Nil fields are left unchanged; a new delivery date replaces the trigger.
type UpdateDocumentRequest struct {
	Title        *string `json:"title"`
	Content      *string `json:"content"`
	DeliveryDate *string `json:"delivery_date"`
}

// AddCollaboratorRequest represents the POST /documents/{id}/collaborators payload.
type AddCollaboratorRequest struct {
	Email string `json:"email"`
}

// DocumentResponse is the JSON shape of a document.
type DocumentResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Content      string `json:"content,omitempty"`
	DeliveryDate string `json:"delivery_date"`
	IsSent       bool   `json:"is_sent"`
	SentAt       string `json:"sent_at,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// ListDocumentsResponse wraps the document list.
type ListDocumentsResponse struct {
	Documents []DocumentResponse `json:"documents"`
}

// ValidateCollaboratorResponse reports whether an email belongs to a user.
type ValidateCollaboratorResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// ExportResponse reports where the PDF service put the rendered document.
type ExportResponse struct {
	PDFURL string `json:"pdf_url"`
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
