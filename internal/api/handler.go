package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dedysaragih123/TubesFutureMessage/internal/auth"
	"github.com/dedysaragih123/TubesFutureMessage/internal/delivery"
	"github.com/dedysaragih123/TubesFutureMessage/internal/domain"
	"github.com/dedysaragih123/TubesFutureMessage/internal/pdfgen"
)

// ErrEmailExists is returned by Store.CreateUser when the email is taken.
var ErrEmailExists = errors.New("email already registered")

type Store interface {
	CreateDocument(ctx context.Context, doc domain.Document, collaboratorIDs []uuid.UUID) error
	UpdateDocumentContent(ctx context.Context, id uuid.UUID, title, content *string, now time.Time) (domain.Document, error)
	RescheduleDocument(ctx context.Context, id uuid.UUID, deliveryDate, now time.Time) error
	AddCollaborator(ctx context.Context, documentID, userID uuid.UUID) error
	ListDocumentsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Document, error)
	GetDocumentForUser(ctx context.Context, documentID, userID uuid.UUID) (domain.Document, error)
	DeleteDocument(ctx context.Context, documentID, ownerID uuid.UUID) error
	CreateUser(ctx context.Context, user domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (domain.User, error)
}

// Scheduler manages one-shot delivery triggers for documents.
type Scheduler interface {
	Register(documentID uuid.UUID, fireAt time.Time)
	Cancel(documentID uuid.UUID)
}

// Sessions issues and resolves opaque bearer tokens.
type Sessions interface {
	Create(ctx context.Context, userID uuid.UUID) (string, error)
	Resolve(ctx context.Context, token string) (uuid.UUID, error)
	Destroy(ctx context.Context, token string) error
}

// PDFExporter renders a document through the external PDF service.
type PDFExporter interface {
	Generate(ctx context.Context, title, content string) (pdfgen.Result, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store     Store
	scheduler Scheduler
	sessions  Sessions
	pdf       PDFExporter
	db        HealthChecker
	now       func() time.Time
}

func NewHandler(store Store, scheduler Scheduler, sessions Sessions) *Handler {
	return &Handler{
		store:     store,
		scheduler: scheduler,
		sessions:  sessions,
		now:       time.Now,
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithPDFExporter enables the /documents/{id}/export endpoint.
func (h *Handler) WithPDFExporter(pdf PDFExporter) *Handler {
	h.pdf = pdf
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/auth/signup" && r.Method == http.MethodPost:
		h.signup(w, r)

	case path == "/auth/login" && r.Method == http.MethodPost:
		h.login(w, r)

	case path == "/auth/logout" && r.Method == http.MethodPost:
		h.logout(w, r)

	case path == "/auth/me" && r.Method == http.MethodGet:
		h.me(w, r)

	case path == "/collaborators/validate" && r.Method == http.MethodGet:
		h.validateCollaborator(w, r)

	case path == "/documents" && r.Method == http.MethodPost:
		h.createDocument(w, r)

	case path == "/documents" && r.Method == http.MethodGet:
		h.listDocuments(w, r)

	case strings.HasSuffix(path, "/collaborators") && r.Method == http.MethodPost:
		h.addCollaborator(w, r)

	case strings.HasSuffix(path, "/export") && r.Method == http.MethodPost:
		h.exportDocument(w, r)

	case strings.HasPrefix(path, "/documents/") && r.Method == http.MethodGet:
		h.getDocument(w, r)

	case strings.HasPrefix(path, "/documents/") && r.Method == http.MethodPut:
		h.updateDocument(w, r)

	case strings.HasPrefix(path, "/documents/") && r.Method == http.MethodDelete:
		h.deleteDocument(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := validateSignup(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("api: hash password error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	user := domain.User{
		ID:             uuid.New(),
		Name:           strings.TrimSpace(req.Name),
		Email:          strings.ToLower(req.Email),
		HashedPassword: hashed,
		CreatedAt:      h.now().UTC(),
	}

	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, ErrEmailExists) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		log.Printf("api: create user error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
			return
		}
		log.Printf("api: login lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	if !auth.CheckPassword(user.HashedPassword, req.Password) {
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
		return
	}

	token, err := h.sessions.Create(r.Context(), user.ID)
	if err != nil {
		log.Printf("api: create session error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	if err := h.sessions.Destroy(r.Context(), token); err != nil {
		log.Printf("api: destroy session error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to log out")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	user, err := h.store.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Session outlived the account.
			writeError(w, http.StatusUnauthorized, "account no longer exists")
			return
		}
		log.Printf("api: load user error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{
		ID:    user.ID.String(),
		Name:  user.Name,
		Email: user.Email,
	})
}

func (h *Handler) validateCollaborator(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	email := r.URL.Query().Get("email")
	if err := validateEmail(email); err != nil {
		writeJSON(w, http.StatusOK, ValidateCollaboratorResponse{Valid: false, Message: err.Error()})
		return
	}

	_, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusOK, ValidateCollaboratorResponse{Valid: false, Message: "no account with this email"})
			return
		}
		log.Printf("api: validate collaborator error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to validate collaborator")
		return
	}

	writeJSON(w, http.StatusOK, ValidateCollaboratorResponse{Valid: true, Message: "ok"})
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req CreateDocumentRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	now := h.now().UTC()
	deliveryDate, err := validateCreateDocument(req, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	collaboratorIDs := make([]uuid.UUID, 0, len(req.Collaborators))
	for _, email := range req.Collaborators {
		collab, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(email))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusBadRequest, "collaborator not registered: "+email)
				return
			}
			log.Printf("api: collaborator lookup error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to create document")
			return
		}
		if collab.ID == userID {
			continue
		}
		collaboratorIDs = append(collaboratorIDs, collab.ID)
	}

	doc := domain.Document{
		ID:           uuid.New(),
		OwnerID:      userID,
		Title:        req.Title,
		Content:      req.Content,
		DeliveryDate: deliveryDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.store.CreateDocument(r.Context(), doc, collaboratorIDs); err != nil {
		log.Printf("api: create document error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create document")
		return
	}

	h.scheduler.Register(doc.ID, doc.DeliveryDate)

	writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	docs, err := h.store.ListDocumentsForUser(r.Context(), userID)
	if err != nil {
		log.Printf("api: list documents error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}

	resp := ListDocumentsResponse{Documents: make([]DocumentResponse, len(docs))}
	for i, doc := range docs {
		resp.Documents[i] = toDocumentResponse(doc)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	docID, ok := documentIDFromPath(w, r.URL.Path)
	if !ok {
		return
	}

	doc, err := h.store.GetDocumentForUser(r.Context(), docID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		log.Printf("api: get document error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) updateDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	docID, ok := documentIDFromPath(w, r.URL.Path)
	if !ok {
		return
	}

	var req UpdateDocumentRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	doc, err := h.store.GetDocumentForUser(r.Context(), docID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		log.Printf("api: get document error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update document")
		return
	}

	now := h.now().UTC()

	if req.DeliveryDate != nil {
		deliveryDate, err := parseDeliveryDate(*req.DeliveryDate, now)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.store.RescheduleDocument(r.Context(), docID, deliveryDate, now); err != nil {
			if errors.Is(err, delivery.ErrAlreadySent) {
				writeError(w, http.StatusConflict, "document already sent")
				return
			}
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusNotFound, "document not found")
				return
			}
			log.Printf("api: reschedule document error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to update document")
			return
		}
		h.scheduler.Register(docID, deliveryDate)
		doc.DeliveryDate = deliveryDate
		doc.UpdatedAt = now
	}

	if req.Title != nil || req.Content != nil {
		doc, err = h.store.UpdateDocumentContent(r.Context(), docID, req.Title, req.Content, now)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusNotFound, "document not found")
				return
			}
			log.Printf("api: update document error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to update document")
			return
		}
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) addCollaborator(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	// Extract document ID from path: /documents/{id}/collaborators
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "documents" || parts[2] != "collaborators" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	docID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	var req AddCollaboratorRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := validateEmail(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.store.GetDocumentForUser(r.Context(), docID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		log.Printf("api: get document error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to add collaborator")
		return
	}

	collab, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusBadRequest, "collaborator not registered: "+req.Email)
			return
		}
		log.Printf("api: collaborator lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to add collaborator")
		return
	}

	if err := h.store.AddCollaborator(r.Context(), docID, collab.ID); err != nil {
		log.Printf("api: add collaborator error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to add collaborator")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) exportDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	// Extract document ID from path: /documents/{id}/export
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "documents" || parts[2] != "export" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	docID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	if h.pdf == nil {
		writeError(w, http.StatusServiceUnavailable, "pdf export not configured")
		return
	}

	doc, err := h.store.GetDocumentForUser(r.Context(), docID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		log.Printf("api: get document error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to export document")
		return
	}

	result, err := h.pdf.Generate(r.Context(), doc.Title, doc.Content)
	if err != nil {
		log.Printf("api: pdf export error: %v", err)
		writeError(w, http.StatusBadGateway, "pdf service unavailable")
		return
	}

	writeJSON(w, http.StatusOK, ExportResponse{PDFURL: result.PDFURL})
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	docID, ok := documentIDFromPath(w, r.URL.Path)
	if !ok {
		return
	}

	if err := h.store.DeleteDocument(r.Context(), docID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		log.Printf("api: delete document error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}

	h.scheduler.Cancel(docID)

	w.WriteHeader(http.StatusNoContent)
}

// authenticate resolves the bearer token to a user ID. On failure it writes
// a 401 response and returns false.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return uuid.Nil, false
	}

	userID, err := h.sessions.Resolve(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			writeError(w, http.StatusUnauthorized, "session expired or invalid")
			return uuid.Nil, false
		}
		log.Printf("api: resolve session error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return uuid.Nil, false
	}

	return userID, true
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// documentIDFromPath extracts the document ID from /documents/{id}. On
// failure it writes an error response and returns false.
func documentIDFromPath(w http.ResponseWriter, path string) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] != "documents" {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}

	docID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return uuid.Nil, false
	}

	return docID, true
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// decodeRequest decodes a JSON body with a size limit. On failure it writes
// an error response and returns false.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}

	return true
}

func toDocumentResponse(doc domain.Document) DocumentResponse {
	resp := DocumentResponse{
		ID:           doc.ID.String(),
		Title:        doc.Title,
		Content:      doc.Content,
		DeliveryDate: formatTime(doc.DeliveryDate),
		IsSent:       doc.IsSent,
		CreatedAt:    formatTime(doc.CreatedAt),
	}
	if doc.SentAt != nil {
		resp.SentAt = formatTime(*doc.SentAt)
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
