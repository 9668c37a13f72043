package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const documentColumns = `
	d.id, d.title, d.owner_id, d.run_key, d.shared, d.is_main_document,
	d.read_access_key, d.read_write_access_key, d.parent_id,
	c.content, c.original_content, d.created_at, d.updated_at
`

const documentSelect = `
	SELECT ` + documentColumns + `
	FROM documents d
	LEFT JOIN document_contents c ON c.document_id = d.id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	err := row.Scan(
		&doc.ID, &doc.Title, &doc.OwnerID, &doc.RunKey, &doc.Shared, &doc.IsMainDocument,
		&doc.ReadAccessKey, &doc.ReadWriteAccessKey, &doc.ParentID,
		&doc.Content, &doc.OriginalContent, &doc.CreatedAt, &doc.UpdatedAt,
	)
	return doc, err
}

func (s *PostgresStore) GetDocument(ctx context.Context, id int64) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, documentSelect+` WHERE d.id = $1`, id))
}

// FindByOwnerTitleRunKey looks a document up by its identity triple. A nil
// ownerID matches ownerless documents and a nil runKey matches documents
// without a run key; neither nil acts as a wildcard.
func (s *PostgresStore) FindByOwnerTitleRunKey(ctx context.Context, ownerID *int64, title string, runKey *string) (Document, error) {
	const query = documentSelect + `
		WHERE d.owner_id IS NOT DISTINCT FROM $1
			AND d.title = $2
			AND d.run_key IS NOT DISTINCT FROM $3
		ORDER BY d.id
		LIMIT 1
	`
	return scanDocument(s.db.QueryRowContext(ctx, query, ownerID, title, runKey))
}

// FindByOwnerTitle looks a document up by owner and title regardless of its
// run key. Used when the caller supplied no run key at all.
func (s *PostgresStore) FindByOwnerTitle(ctx context.Context, ownerID *int64, title string) (Document, error) {
	const query = documentSelect + `
		WHERE d.owner_id IS NOT DISTINCT FROM $1
			AND d.title = $2
		ORDER BY d.id
		LIMIT 1
	`
	return scanDocument(s.db.QueryRowContext(ctx, query, ownerID, title))
}

func (s *PostgresStore) FindByReadAccessKey(ctx context.Context, key string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, documentSelect+` WHERE d.read_access_key = $1`, key))
}

func (s *PostgresStore) FindByReadWriteAccessKey(ctx context.Context, key string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, documentSelect+` WHERE d.read_write_access_key = $1`, key))
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID int64) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, documentSelect+` WHERE d.owner_id = $1 ORDER BY d.updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents by owner: %w", err)
	}
	return collectDocuments(rows)
}

// ListByRunKey lists ownerless documents tagged with the run key. Documents
// that belong to a user are never exposed through a run key alone.
func (s *PostgresStore) ListByRunKey(ctx context.Context, runKey string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, documentSelect+` WHERE d.owner_id IS NULL AND d.run_key = $1 ORDER BY d.updated_at DESC`, runKey)
	if err != nil {
		return nil, fmt.Errorf("list documents by run key: %w", err)
	}
	return collectDocuments(rows)
}

func collectDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	var documents []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return documents, nil
}

// InsertDocument creates the document row and its content row in one
// transaction and returns the stored document with its assigned id.
func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin insert document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertDocument = `
		INSERT INTO documents (title, owner_id, run_key, shared, is_main_document, read_access_key, read_write_access_key, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	if err := tx.QueryRowContext(ctx, insertDocument,
		doc.Title, doc.OwnerID, doc.RunKey, doc.Shared, doc.IsMainDocument,
		doc.ReadAccessKey, doc.ReadWriteAccessKey, doc.ParentID,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}

	const insertContent = `
		INSERT INTO document_contents (document_id, content, original_content)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.ExecContext(ctx, insertContent, doc.ID, nullableJSON(doc.Content), nullableJSON(doc.OriginalContent)); err != nil {
		return Document{}, fmt.Errorf("insert document content: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit insert document: %w", err)
	}
	return doc, nil
}

// UpdateContent writes new content and the columns derived from it. Both rows
// commit together so a patch can never leave the bookkeeping columns stale.
func (s *PostgresStore) UpdateContent(ctx context.Context, id int64, content json.RawMessage, shared, isMain bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update content: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE document_contents SET content = $2, updated_at = NOW() WHERE document_id = $1`,
		id, nullableJSON(content),
	); err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET shared = $2, is_main_document = $3, updated_at = NOW() WHERE id = $1`,
		id, shared, isMain,
	); err != nil {
		return fmt.Errorf("update document columns: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update content: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateOriginalContent(ctx context.Context, id int64, content json.RawMessage) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE document_contents SET original_content = $2 WHERE document_id = $1`,
		id, nullableJSON(content),
	); err != nil {
		return fmt.Errorf("update original content: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTitle(ctx context.Context, id int64, title string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE documents SET title = $2, updated_at = NOW() WHERE id = $1`,
		id, title,
	); err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	return nil
}

// DeleteDocument removes the document and every descendant reachable through
// parent_id. Content rows go with their documents via the FK cascade.
func (s *PostgresStore) DeleteDocument(ctx context.Context, id int64) error {
	const query = `
		WITH RECURSIVE doomed AS (
			SELECT id FROM documents WHERE id = $1
			UNION
			SELECT d.id FROM documents d JOIN doomed p ON d.parent_id = p.id
		)
		DELETE FROM documents WHERE id IN (SELECT id FROM doomed)
	`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// AccessKeysExist reports whether either candidate key is already stored for a
// key of its kind.
func (s *PostgresStore) AccessKeysExist(ctx context.Context, readKey, readWriteKey string) (bool, error) {
	const query = `
		SELECT EXISTS(SELECT 1 FROM documents WHERE read_access_key = $1)
			OR EXISTS(SELECT 1 FROM documents WHERE read_write_access_key = $2)
	`
	var taken bool
	if err := s.db.QueryRowContext(ctx, query, readKey, readWriteKey).Scan(&taken); err != nil {
		return false, fmt.Errorf("check access keys: %w", err)
	}
	return taken, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, name, created_at FROM users WHERE username = $1`, username,
	).Scan(&user.ID, &user.Username, &user.Name, &user.CreatedAt)
	return user, err
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// nullableJSON maps empty raw JSON to SQL NULL so an unsaved document keeps a
// NULL content column instead of an empty byte blob.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
