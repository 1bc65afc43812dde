// Package persistence is the authoritative relational store for conversation
// history and the document lifecycle.
package persistence

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// ErrBadTransition is returned when an upload status would move backward.
var ErrBadTransition = errors.New("invalid upload status transition")

type User struct {
	ID    int64
	EmpNo string
	Name  string
}

type TradeFlow struct {
	ID        int64
	UserID    int64
	Title     string
	Status    string // in_progress | completed
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Document struct {
	ID               int64
	TradeID          int64
	DocType          string // offer | pi | contract | ci | pl
	DocMode          string // manual | upload
	OriginalFilename string
	RawObjectKey     string
	FileSize         int64
	MimeType         string
	UploadStatus     string // none | uploading | processing | ready | error
	UploadError      string
	CreatedAt        time.Time
}

type DocVersion struct {
	ID        int64
	DocID     int64
	Title     string
	HTML      string
	CreatedAt time.Time
}

type GenChat struct {
	ID        int64
	UserID    int64
	Title     string
	CreatedAt time.Time
}

// Message is one conversation turn, either a DocMessage or a GenMessage.
// Role is "user" or "agent".
type Message struct {
	ID        int64
	Role      string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Store is the surface the orchestrator and handlers need. Messages are
// append-only; ordering by created_at is authoritative.
type Store interface {
	Init(ctx context.Context) error
	Close()

	// Users. ident is a numeric id or an employee-number string.
	GetUser(ctx context.Context, ident string) (User, error)
	CreateUser(ctx context.Context, empNo, name string) (User, error)

	// Documents.
	GetDocument(ctx context.Context, docID int64) (Document, error)
	SiblingDocuments(ctx context.Context, tradeID, excludeDocID int64) ([]Document, error)
	LatestDocVersion(ctx context.Context, docID int64) (DocVersion, error)
	SetUploadInfo(ctx context.Context, docID int64, filename, objectKey string, size int64, mimeType string) error
	SetUploadStatus(ctx context.Context, docID int64, status, errMsg string) error

	// Document chat.
	AddDocMessage(ctx context.Context, docID int64, role, content string, metadata map[string]any) (Message, error)
	RecentDocMessages(ctx context.Context, docID, excludeID int64, limit int) ([]Message, error)
	CountDocMessages(ctx context.Context, docID int64) (int, error)
	LastDocMessages(ctx context.Context, docID int64, n int) ([]Message, error)

	// General chat.
	GetGenChat(ctx context.Context, genChatID int64) (GenChat, error)
	CreateGenChat(ctx context.Context, userID int64, title string) (GenChat, error)
	DeleteGenChat(ctx context.Context, genChatID int64) error
	AddGenMessage(ctx context.Context, genChatID int64, role, content string, metadata map[string]any) (Message, error)
	RecentGenMessages(ctx context.Context, genChatID, excludeID int64, limit int) ([]Message, error)
	CountGenMessages(ctx context.Context, genChatID int64) (int, error)
	LastGenMessages(ctx context.Context, genChatID int64, n int) ([]Message, error)
}

// uploadRank orders the forward-only status machine. "error" is terminal for
// an attempt but a new attempt may restart from "uploading".
var uploadRank = map[string]int{"none": 0, "uploading": 1, "processing": 2, "ready": 3}

// ValidTransition reports whether an upload status change is allowed.
func ValidTransition(from, to string) bool {
	if to == "error" {
		return from == "uploading" || from == "processing"
	}
	if to == "uploading" {
		// New attempt.
		return true
	}
	fr, fok := uploadRank[from]
	tr, tok := uploadRank[to]
	return fok && tok && tr > fr
}
