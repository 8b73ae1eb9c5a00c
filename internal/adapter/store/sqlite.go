package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver

	"docqa/internal/domain"
	"docqa/internal/port"
)

var _ port.Gateway = (*SQLiteStore)(nil)

// SQLiteStore is the relational Gateway. Chunks, sessions and turns hang off
// their document through ON DELETE CASCADE foreign keys.
type SQLiteStore struct {
	db *sqlx.DB
}

var schemaSteps = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS documents (
			id           TEXT PRIMARY KEY,
			filename     TEXT NOT NULL,
			content_type TEXT NOT NULL,
			body         TEXT NOT NULL,
			chunk_count  INTEGER NOT NULL DEFAULT 0,
			fingerprint  TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id          TEXT NOT NULL,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			ordinal     INTEGER NOT NULL,
			start_pos   INTEGER NOT NULL,
			end_pos     INTEGER NOT NULL,
			body        TEXT NOT NULL,
			vector      BLOB,
			PRIMARY KEY (document_id, ordinal)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			created_at  INTEGER NOT NULL,
			last_active INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			idx        INTEGER NOT NULL,
			question   TEXT NOT NULL,
			answer     TEXT NOT NULL,
			sources    TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	},
	2: {
		`CREATE INDEX IF NOT EXISTS idx_sessions_document ON sessions(document_id)`,
	},
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	// a single connection serialises every statement, reads included, so
	// writers never race for the database lock
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	// meta must exist before the schema version can be read
	if err := s.runMigration(0, 1); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

type documentRow struct {
	ID          string `db:"id"`
	Filename    string `db:"filename"`
	ContentType string `db:"content_type"`
	Body        string `db:"body"`
	ChunkCount  int    `db:"chunk_count"`
	Fingerprint string `db:"fingerprint"`
	CreatedAt   int64  `db:"created_at"`
}

func (r documentRow) toDomain() domain.Document {
	return domain.Document{
		ID:          r.ID,
		Filename:    r.Filename,
		ContentType: r.ContentType,
		Text:        r.Body,
		ChunkCount:  r.ChunkCount,
		Fingerprint: r.Fingerprint,
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
	}
}

type chunkRow struct {
	ID       string `db:"id"`
	DocID    string `db:"document_id"`
	Ordinal  int    `db:"ordinal"`
	StartPos int    `db:"start_pos"`
	EndPos   int    `db:"end_pos"`
	Body     string `db:"body"`
	Vector   []byte `db:"vector"`
}

type sessionRow struct {
	ID         string `db:"id"`
	DocumentID string `db:"document_id"`
	CreatedAt  int64  `db:"created_at"`
	LastActive int64  `db:"last_active"`
}

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		CreatedAt:  time.Unix(0, r.CreatedAt).UTC(),
		LastActive: time.Unix(0, r.LastActive).UTC(),
	}
}

type turnRow struct {
	SessionID string `db:"session_id"`
	Index     int    `db:"idx"`
	Question  string `db:"question"`
	Answer    string `db:"answer"`
	Sources   string `db:"sources"`
	CreatedAt int64  `db:"created_at"`
}

func (s *SQLiteStore) SaveDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// upsert rather than REPLACE: REPLACE deletes the row and would cascade
	// into the document's sessions
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, filename, content_type, body, chunk_count, fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			content_type = excluded.content_type,
			body = excluded.body,
			chunk_count = excluded.chunk_count,
			fingerprint = excluded.fingerprint,
			created_at = excluded.created_at`,
		doc.ID, doc.Filename, doc.ContentType, doc.Text, len(chunks), doc.Fingerprint, doc.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("clear chunks of %s: %w", doc.ID, err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO chunks (id, document_id, ordinal, start_pos, end_pos, body, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, ch.ID, doc.ID, ch.Ordinal, ch.Start, ch.End, ch.Text, encodeVector(ch.Vector)); err != nil {
			return fmt.Errorf("save chunk %s: %w", ch.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM documents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	var rows []documentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, filename, content_type, '' AS body, chunk_count, fingerprint, created_at
		FROM documents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]domain.Document, len(rows))
	for i, r := range rows {
		docs[i] = r.toDomain()
	}
	return docs, nil
}

func (s *SQLiteStore) LoadChunks(ctx context.Context, docID string) ([]domain.Chunk, error) {
	if _, err := s.GetDocument(ctx, docID); err != nil {
		return nil, err
	}

	var rows []chunkRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, document_id, ordinal, start_pos, end_pos, body, vector
		FROM chunks WHERE document_id = ? ORDER BY ordinal`, docID)
	if err != nil {
		return nil, fmt.Errorf("load chunks of %s: %w", docID, err)
	}

	chunks := make([]domain.Chunk, len(rows))
	for i, r := range rows {
		vec, err := decodeVector(r.Vector)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", r.ID, err)
		}
		chunks[i] = domain.Chunk{
			ID:      r.ID,
			DocID:   r.DocID,
			Ordinal: r.Ordinal,
			Start:   r.StartPos,
			End:     r.EndPos,
			Text:    r.Body,
			Vector:  vec,
		}
	}
	return chunks, nil
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess domain.Session) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM documents WHERE id = ?`, sess.DocumentID); err != nil {
		return fmt.Errorf("check document %s: %w", sess.DocumentID, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, sess.DocumentID)
	}

	var boundTo string
	err = tx.GetContext(ctx, &boundTo, `SELECT document_id FROM sessions WHERE id = ?`, sess.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("check session %s: %w", sess.ID, err)
	case boundTo != sess.DocumentID:
		return fmt.Errorf("%w: %s", domain.ErrSessionMismatch, sess.ID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, document_id, created_at, last_active) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_active = excluded.last_active`,
		sess.ID, sess.DocumentID, sess.CreatedAt.UnixNano(), sess.LastActive.UnixNano())
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT id, document_id, created_at, last_active FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, docID string) ([]domain.Session, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, document_id, created_at, last_active
		FROM sessions WHERE document_id = ? ORDER BY created_at, id`, docID)
	if err != nil {
		return nil, fmt.Errorf("list sessions of %s: %w", docID, err)
	}
	sessions := make([]domain.Session, len(rows))
	for i, r := range rows {
		sessions[i] = r.toDomain()
	}
	return sessions, nil
}

func (s *SQLiteStore) SaveTurn(ctx context.Context, t domain.Turn) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var lastActive int64
	err = tx.GetContext(ctx, &lastActive, `SELECT last_active FROM sessions WHERE id = ?`, t.SessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, t.SessionID)
	}
	if err != nil {
		return fmt.Errorf("check session %s: %w", t.SessionID, err)
	}

	var next int
	if err := tx.GetContext(ctx, &next, `SELECT COALESCE(MAX(idx) + 1, 0) FROM turns WHERE session_id = ?`, t.SessionID); err != nil {
		return fmt.Errorf("next turn of %s: %w", t.SessionID, err)
	}
	if t.Index != next {
		return fmt.Errorf("turn %d out of sequence for session %s (next is %d)", t.Index, t.SessionID, next)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (session_id, idx, question, answer, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.Index, t.Question, t.Answer, strings.Join(t.SourceChunkIDs, ","), t.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save turn %d of %s: %w", t.Index, t.SessionID, err)
	}

	if ts := t.CreatedAt.UnixNano(); ts > lastActive {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET last_active = ? WHERE id = ?`, ts, t.SessionID); err != nil {
			return fmt.Errorf("touch session %s: %w", t.SessionID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	var rows []turnRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT session_id, idx, question, answer, sources, created_at
		FROM turns WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load turns of %s: %w", sessionID, err)
	}
	turns := make([]domain.Turn, len(rows))
	for i, r := range rows {
		var sources []string
		if r.Sources != "" {
			sources = strings.Split(r.Sources, ",")
		}
		turns[i] = domain.Turn{
			SessionID:      r.SessionID,
			Index:          r.Index,
			Question:       r.Question,
			Answer:         r.Answer,
			SourceChunkIDs: sources,
			CreatedAt:      time.Unix(0, r.CreatedAt).UTC(),
		}
	}
	return turns, nil
}

func (s *SQLiteStore) DeleteTurns(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete turns of %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := s.db.Select(&rows, `SELECT key, value FROM meta`); err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	for _, r := range rows {
		switch r.Key {
		case string(keySchemaVersion):
			v, err := strconv.Atoi(r.Value)
			if err != nil {
				return nil, fmt.Errorf("schema version %q: %w", r.Value, err)
			}
			info.Version = v
		case string(keyConfigHash):
			info.ConfigHash = r.Value
		}
	}
	return &info, nil
}

func (s *SQLiteStore) SetSchemaInfo(info *SchemaInfo) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.Exec(upsert, string(keySchemaVersion), strconv.Itoa(info.Version)); err != nil {
		return err
	}
	if _, err := tx.Exec(upsert, string(keyConfigHash), info.ConfigHash); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) runMigration(_, to int) error {
	for _, stmt := range schemaSteps[to] {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema v%d: %w", to, err)
		}
	}
	return nil
}
