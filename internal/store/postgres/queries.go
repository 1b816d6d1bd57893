package postgres

const queryGetDocumentByID = `
SELECT id, owner_id, title, content, delivery_date, is_sent, sent_at, created_at, updated_at
FROM documents
WHERE id = $1
`

const queryListRecipients = `
SELECT DISTINCT u.email
FROM users u
JOIN document_collaborators dc ON dc.user_id = u.id
WHERE dc.document_id = $1
`

const queryMarkSent = `
UPDATE documents
SET is_sent = true, sent_at = $2, updated_at = $2
WHERE id = $1
  AND is_sent = false
`

const queryGetDocumentSentFlag = `
SELECT is_sent FROM documents WHERE id = $1
`

const queryListPendingDue = `
SELECT id, owner_id, title, content, delivery_date, is_sent, sent_at, created_at, updated_at
FROM documents
WHERE is_sent = false
  AND delivery_date <= $1
ORDER BY delivery_date ASC
`

const queryInsertSendAttempt = `
INSERT INTO send_attempts (id, document_id, recipient_email, status_code, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryInsertDocument = `
INSERT INTO documents (id, owner_id, title, content, delivery_date, is_sent, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, false, $6, $7)
`

const queryInsertCollaborator = `
INSERT INTO document_collaborators (document_id, user_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING
`

const queryUpdateDocumentContent = `
UPDATE documents
SET title = COALESCE($2, title),
    content = COALESCE($3, content),
    updated_at = $4
WHERE id = $1
RETURNING id, owner_id, title, content, delivery_date, is_sent, sent_at, created_at, updated_at
`

const queryRescheduleDocument = `
UPDATE documents
SET delivery_date = $2, updated_at = $3
WHERE id = $1
  AND is_sent = false
`

const queryListDocumentsForUser = `
SELECT DISTINCT d.id, d.owner_id, d.title, d.content, d.delivery_date, d.is_sent, d.sent_at, d.created_at, d.updated_at
FROM documents d
LEFT JOIN document_collaborators dc ON dc.document_id = d.id
WHERE d.owner_id = $1 OR dc.user_id = $1
ORDER BY d.created_at DESC
`

const queryGetDocumentForUser = `
SELECT d.id, d.owner_id, d.title, d.content, d.delivery_date, d.is_sent, d.sent_at, d.created_at, d.updated_at
FROM documents d
WHERE d.id = $1
  AND (d.owner_id = $2 OR EXISTS (
      SELECT 1 FROM document_collaborators dc
      WHERE dc.document_id = d.id AND dc.user_id = $2
  ))
`

const queryDeleteDocument = `
WITH deleted_attempts AS (
    DELETE FROM send_attempts WHERE document_id = $1
),
deleted_collaborators AS (
    DELETE FROM document_collaborators WHERE document_id = $1
)
DELETE FROM documents WHERE id = $1 AND owner_id = $2
RETURNING id`

const queryInsertUser = `
INSERT INTO users (id, name, email, hashed_password, created_at)
VALUES ($1, $2, $3, $4, $5)
`

const queryGetUserByEmail = `
SELECT id, name, email, hashed_password, created_at
FROM users
WHERE email = $1
`

const queryGetUserByID = `
SELECT id, name, email, hashed_password, created_at
FROM users
WHERE id = $1
`
