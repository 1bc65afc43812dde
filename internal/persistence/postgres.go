package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgres returns a Store backed by a pgx pool.
func NewPostgres(ctx context.Context, url string) (Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &pgStore{pool: pool}, nil
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *pgStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS users (
    user_id BIGSERIAL PRIMARY KEY,
    emp_no TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS trade_flows (
    trade_id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(user_id),
    title TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'in_progress',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS documents (
    doc_id BIGSERIAL PRIMARY KEY,
    trade_id BIGINT NOT NULL REFERENCES trade_flows(trade_id) ON DELETE CASCADE,
    doc_type TEXT NOT NULL,
    doc_mode TEXT NOT NULL DEFAULT 'manual',
    original_filename TEXT NOT NULL DEFAULT '',
    raw_object_key TEXT NOT NULL DEFAULT '',
    file_size BIGINT NOT NULL DEFAULT 0,
    mime_type TEXT NOT NULL DEFAULT '',
    upload_status TEXT NOT NULL DEFAULT 'none',
    upload_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS doc_versions (
    version_id BIGSERIAL PRIMARY KEY,
    doc_id BIGINT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
    title TEXT NOT NULL DEFAULT '',
    html TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS doc_messages (
    doc_message_id BIGSERIAL PRIMARY KEY,
    doc_id BIGINT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS gen_chats (
    gen_chat_id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(user_id),
    title TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS gen_messages (
    gen_message_id BIGSERIAL PRIMARY KEY,
    gen_chat_id BIGINT NOT NULL REFERENCES gen_chats(gen_chat_id) ON DELETE CASCADE,
    sender_type TEXT NOT NULL,
    content TEXT NOT NULL,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS doc_messages_doc_created_idx ON doc_messages(doc_id, created_at);
CREATE INDEX IF NOT EXISTS gen_messages_chat_created_idx ON gen_messages(gen_chat_id, created_at);
CREATE INDEX IF NOT EXISTS documents_trade_idx ON documents(trade_id);
`)
	return err
}

func (s *pgStore) GetUser(ctx context.Context, ident string) (User, error) {
	var u User
	// Employee number first, then numeric id.
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, emp_no, name FROM users WHERE emp_no = $1`, ident).
		Scan(&u.ID, &u.EmpNo, &u.Name)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return User{}, err
	}
	if id, perr := strconv.ParseInt(strings.TrimSpace(ident), 10, 64); perr == nil {
		err = s.pool.QueryRow(ctx,
			`SELECT user_id, emp_no, name FROM users WHERE user_id = $1`, id).
			Scan(&u.ID, &u.EmpNo, &u.Name)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return User{}, err
		}
	}
	return User{}, ErrNotFound
}

func (s *pgStore) CreateUser(ctx context.Context, empNo, name string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (emp_no, name) VALUES ($1, $2) RETURNING user_id, emp_no, name`,
		empNo, name).Scan(&u.ID, &u.EmpNo, &u.Name)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *pgStore) GetDocument(ctx context.Context, docID int64) (Document, error) {
	var d Document
	err := s.pool.QueryRow(ctx, `
SELECT doc_id, trade_id, doc_type, doc_mode, original_filename, raw_object_key,
       file_size, mime_type, upload_status, upload_error, created_at
FROM documents WHERE doc_id = $1`, docID).
		Scan(&d.ID, &d.TradeID, &d.DocType, &d.DocMode, &d.OriginalFilename, &d.RawObjectKey,
			&d.FileSize, &d.MimeType, &d.UploadStatus, &d.UploadError, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

func (s *pgStore) SiblingDocuments(ctx context.Context, tradeID, excludeDocID int64) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
SELECT doc_id, trade_id, doc_type, doc_mode, original_filename, raw_object_key,
       file_size, mime_type, upload_status, upload_error, created_at
FROM documents WHERE trade_id = $1 AND doc_id <> $2 ORDER BY doc_id`, tradeID, excludeDocID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.TradeID, &d.DocType, &d.DocMode, &d.OriginalFilename, &d.RawObjectKey,
			&d.FileSize, &d.MimeType, &d.UploadStatus, &d.UploadError, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *pgStore) LatestDocVersion(ctx context.Context, docID int64) (DocVersion, error) {
	var v DocVersion
	err := s.pool.QueryRow(ctx, `
SELECT version_id, doc_id, title, html, created_at
FROM doc_versions WHERE doc_id = $1 ORDER BY created_at DESC, version_id DESC LIMIT 1`, docID).
		Scan(&v.ID, &v.DocID, &v.Title, &v.HTML, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocVersion{}, ErrNotFound
	}
	if err != nil {
		return DocVersion{}, err
	}
	return v, nil
}

func (s *pgStore) SetUploadInfo(ctx context.Context, docID int64, filename, objectKey string, size int64, mimeType string) error {
	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if !ValidTransition(doc.UploadStatus, "uploading") {
		return fmt.Errorf("%w: %s -> uploading", ErrBadTransition, doc.UploadStatus)
	}
	_, err = s.pool.Exec(ctx, `
UPDATE documents SET doc_mode = 'upload', original_filename = $2, raw_object_key = $3,
       file_size = $4, mime_type = $5, upload_status = 'uploading', upload_error = ''
WHERE doc_id = $1`, docID, filename, objectKey, size, mimeType)
	return err
}

func (s *pgStore) SetUploadStatus(ctx context.Context, docID int64, status, errMsg string) error {
	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if !ValidTransition(doc.UploadStatus, status) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, doc.UploadStatus, status)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE documents SET upload_status = $2, upload_error = $3 WHERE doc_id = $1`,
		docID, status, errMsg)
	return err
}

func (s *pgStore) AddDocMessage(ctx context.Context, docID int64, role, content string, metadata map[string]any) (Message, error) {
	var m Message
	m.Role = role
	m.Content = content
	m.Metadata = metadata
	err := s.pool.QueryRow(ctx, `
INSERT INTO doc_messages (doc_id, role, content, metadata)
VALUES ($1, $2, $3, $4) RETURNING doc_message_id, created_at`,
		docID, role, content, metadata).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert doc message: %w", err)
	}
	return m, nil
}

func (s *pgStore) scanMessages(rows pgx.Rows, roleOf func(string) string) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var sender string
		if err := rows.Scan(&m.ID, &sender, &m.Content, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = roleOf(sender)
		out = append(out, m)
	}
	return out, rows.Err()
}

func docRole(s string) string { return s }

func genRole(s string) string {
	if s == "U" {
		return "user"
	}
	return "agent"
}

func (s *pgStore) RecentDocMessages(ctx context.Context, docID, excludeID int64, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT doc_message_id, role, content, metadata, created_at FROM (
    SELECT doc_message_id, role, content, metadata, created_at
    FROM doc_messages WHERE doc_id = $1 AND doc_message_id <> $2
    ORDER BY created_at DESC, doc_message_id DESC LIMIT $3
) sub ORDER BY created_at ASC, doc_message_id ASC`, docID, excludeID, limit)
	if err != nil {
		return nil, err
	}
	return s.scanMessages(rows, docRole)
}

func (s *pgStore) CountDocMessages(ctx context.Context, docID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM doc_messages WHERE doc_id = $1`, docID).Scan(&n)
	return n, err
}

func (s *pgStore) LastDocMessages(ctx context.Context, docID int64, n int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT doc_message_id, role, content, metadata, created_at FROM (
    SELECT doc_message_id, role, content, metadata, created_at
    FROM doc_messages WHERE doc_id = $1
    ORDER BY created_at DESC, doc_message_id DESC LIMIT $2
) sub ORDER BY created_at ASC, doc_message_id ASC`, docID, n)
	if err != nil {
		return nil, err
	}
	return s.scanMessages(rows, docRole)
}

func (s *pgStore) GetGenChat(ctx context.Context, genChatID int64) (GenChat, error) {
	var g GenChat
	err := s.pool.QueryRow(ctx,
		`SELECT gen_chat_id, user_id, title, created_at FROM gen_chats WHERE gen_chat_id = $1`, genChatID).
		Scan(&g.ID, &g.UserID, &g.Title, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return GenChat{}, ErrNotFound
	}
	if err != nil {
		return GenChat{}, err
	}
	return g, nil
}

func (s *pgStore) CreateGenChat(ctx context.Context, userID int64, title string) (GenChat, error) {
	var g GenChat
	err := s.pool.QueryRow(ctx,
		`INSERT INTO gen_chats (user_id, title) VALUES ($1, $2) RETURNING gen_chat_id, user_id, title, created_at`,
		userID, title).Scan(&g.ID, &g.UserID, &g.Title, &g.CreatedAt)
	if err != nil {
		return GenChat{}, fmt.Errorf("create gen chat: %w", err)
	}
	return g, nil
}

func (s *pgStore) DeleteGenChat(ctx context.Context, genChatID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM gen_chats WHERE gen_chat_id = $1`, genChatID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) AddGenMessage(ctx context.Context, genChatID int64, role, content string, metadata map[string]any) (Message, error) {
	sender := "A"
	if role == "user" {
		sender = "U"
	}
	var m Message
	m.Role = role
	m.Content = content
	m.Metadata = metadata
	err := s.pool.QueryRow(ctx, `
INSERT INTO gen_messages (gen_chat_id, sender_type, content, metadata)
VALUES ($1, $2, $3, $4) RETURNING gen_message_id, created_at`,
		genChatID, sender, content, metadata).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert gen message: %w", err)
	}
	return m, nil
}

func (s *pgStore) RecentGenMessages(ctx context.Context, genChatID, excludeID int64, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT gen_message_id, sender_type, content, metadata, created_at FROM (
    SELECT gen_message_id, sender_type, content, metadata, created_at
    FROM gen_messages WHERE gen_chat_id = $1 AND gen_message_id <> $2
    ORDER BY created_at DESC, gen_message_id DESC LIMIT $3
) sub ORDER BY created_at ASC, gen_message_id ASC`, genChatID, excludeID, limit)
	if err != nil {
		return nil, err
	}
	return s.scanMessages(rows, genRole)
}

func (s *pgStore) CountGenMessages(ctx context.Context, genChatID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM gen_messages WHERE gen_chat_id = $1`, genChatID).Scan(&n)
	return n, err
}

func (s *pgStore) LastGenMessages(ctx context.Context, genChatID int64, n int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT gen_message_id, sender_type, content, metadata, created_at FROM (
    SELECT gen_message_id, sender_type, content, metadata, created_at
    FROM gen_messages WHERE gen_chat_id = $1
    ORDER BY created_at DESC, gen_message_id DESC LIMIT $2
) sub ORDER BY created_at ASC, gen_message_id ASC`, genChatID, n)
	if err != nil {
		return nil, err
	}
	return s.scanMessages(rows, genRole)
}
