package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/dedysaragih123/TubesFutureMessage/internal/api"
	"github.com/dedysaragih123/TubesFutureMessage/internal/delivery"
	"github.com/dedysaragih123/TubesFutureMessage/internal/domain"
	"github.com/dedysaragih123/TubesFutureMessage/internal/scheduler"
)

// Store implements scheduler.Store, delivery.Store and api.Store using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a PostgreSQL store. opTimeout bounds every single operation;
// 0 means no per-operation timeout.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// GetDocumentByID returns a document by id, sql.ErrNoRows when absent.
func (s *Store) GetDocumentByID(ctx context.Context, id uuid.UUID) (domain.Document, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return scanDocument(s.db.QueryRowContext(ctx, queryGetDocumentByID, id))
}

// ListRecipients returns the distinct collaborator emails for a document.
func (s *Store) ListRecipients(ctx context.Context, documentID uuid.UUID) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRecipients, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		result = append(result, email)
	}
	return result, rows.Err()
}

// MarkSent closes the delivery latch: it sets is_sent/sent_at atomically and
// only when the latch is still open. Returns delivery.ErrAlreadySent when a
// concurrent wave won the race, sql.ErrNoRows when the document is gone.
func (s *Store) MarkSent(ctx context.Context, documentID uuid.UUID, sentAt time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	// Single atomic update with the guard in the WHERE clause. PostgreSQL
	// acquires the row lock before evaluating WHERE, serializing racing waves.
	result, err := s.db.ExecContext(ctx, queryMarkSent, documentID, sentAt)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Either (a) document not found, or (b) latch already closed.
		var isSent bool
		err := s.db.QueryRowContext(ctx, queryGetDocumentSentFlag, documentID).Scan(&isSent)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return err
		}
		return delivery.ErrAlreadySent
	}

	return nil
}

// InsertSendAttempt appends one per-recipient attempt record.
func (s *Store) InsertSendAttempt(ctx context.Context, attempt domain.SendAttempt) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertSendAttempt,
		attempt.ID,
		attempt.DocumentID,
		attempt.RecipientEmail,
		attempt.StatusCode,
		attempt.Error,
		attempt.StartedAt,
		attempt.FinishedAt,
	)
	return err
}

// ListPendingDue returns every undelivered document whose delivery date has
// passed, oldest first. This is the sweep's query.
func (s *Store) ListPendingDue(ctx context.Context, now time.Time) ([]domain.Document, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListPendingDue, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

// CreateDocument inserts a document and its collaborator links in one transaction.
func (s *Store) CreateDocument(ctx context.Context, doc domain.Document, collaboratorIDs []uuid.UUID) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertDocument,
		doc.ID,
		doc.OwnerID,
		doc.Title,
		doc.Content,
		doc.DeliveryDate,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for _, userID := range collaboratorIDs {
		if _, err := tx.ExecContext(ctx, queryInsertCollaborator, doc.ID, userID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpdateDocumentContent updates title and/or content (nil leaves a field as-is).
func (s *Store) UpdateDocumentContent(ctx context.Context, id uuid.UUID, title, content *string, now time.Time) (domain.Document, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return scanDocument(s.db.QueryRowContext(ctx, queryUpdateDocumentContent, id, title, content, now))
}

// RescheduleDocument moves the delivery date of a still-pending document.
// Returns delivery.ErrAlreadySent when the latch has closed.
func (s *Store) RescheduleDocument(ctx context.Context, id uuid.UUID, deliveryDate, now time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryRescheduleDocument, id, deliveryDate, now)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		var isSent bool
		err := s.db.QueryRowContext(ctx, queryGetDocumentSentFlag, id).Scan(&isSent)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return err
		}
		return delivery.ErrAlreadySent
	}
	return nil
}

// AddCollaborator links a user to a document; adding twice is a no-op.
func (s *Store) AddCollaborator(ctx context.Context, documentID, userID uuid.UUID) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertCollaborator, documentID, userID)
	return err
}

// ListDocumentsForUser returns documents the user owns or collaborates on.
func (s *Store) ListDocumentsForUser(ctx context.Context, userID uuid.UUID) ([]domain.Document, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListDocumentsForUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Document
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

// GetDocumentForUser returns the document only when the user owns it or
// collaborates on it; sql.ErrNoRows otherwise.
func (s *Store) GetDocumentForUser(ctx context.Context, documentID, userID uuid.UUID) (domain.Document, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return scanDocument(s.db.QueryRowContext(ctx, queryGetDocumentForUser, documentID, userID))
}

// DeleteDocument removes a document with its collaborator links and attempt
// history. Only the owner may delete; sql.ErrNoRows otherwise.
func (s *Store) DeleteDocument(ctx context.Context, documentID, ownerID uuid.UUID) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var deletedID uuid.UUID
	err := s.db.QueryRowContext(ctx, queryDeleteDocument, documentID, ownerID).Scan(&deletedID)
	if err != nil {
		return err
	}
	return nil
}

// CreateUser inserts a user. Returns api.ErrEmailExists on a duplicate email.
func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertUser,
		user.ID,
		user.Name,
		user.Email,
		user.HashedPassword,
		user.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return api.ErrEmailExists
		}
		return err
	}
	return nil
}

// GetUserByEmail returns a user by email, sql.ErrNoRows when absent.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return s.scanUser(s.db.QueryRowContext(ctx, queryGetUserByEmail, email))
}

// GetUserByID returns a user by id, sql.ErrNoRows when absent.
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return s.scanUser(s.db.QueryRowContext(ctx, queryGetUserByID, id))
}

func (s *Store) scanUser(row *sql.Row) (domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.HashedPassword,
		&user.CreatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func scanDocument(row *sql.Row) (domain.Document, error) {
	var doc domain.Document
	var sentAt sql.NullTime
	err := row.Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.Title,
		&doc.Content,
		&doc.DeliveryDate,
		&doc.IsSent,
		&sentAt,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	if sentAt.Valid {
		t := sentAt.Time
		doc.SentAt = &t
	}
	return doc, nil
}

func scanDocumentRows(rows *sql.Rows) (domain.Document, error) {
	var doc domain.Document
	var sentAt sql.NullTime
	err := rows.Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.Title,
		&doc.Content,
		&doc.DeliveryDate,
		&doc.IsSent,
		&sentAt,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	if sentAt.Valid {
		t := sentAt.Time
		doc.SentAt = &t
	}
	return doc, nil
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// PostgreSQL unique violation error code is 23505.
	errStr := err.Error()
	return containsStr(errStr, "23505") || containsStr(errStr, "unique constraint") || containsStr(errStr, "duplicate key")
}

func containsStr(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// Compile-time interface assertions
var (
	_ scheduler.Store = (*Store)(nil)
	_ delivery.Store  = (*Store)(nil)
	_ api.Store       = (*Store)(nil)
)
