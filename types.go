package main

import (
	"tradeassist/internal/chat"
	"tradeassist/internal/memory"
)

// Streaming chat requests.

type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toChatHistory(turns []historyTurn) []chat.HistoryTurn {
	out := make([]chat.HistoryTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, chat.HistoryTurn{Role: t.Role, Content: t.Content})
	}
	return out
}

type tradeChatRequest struct {
	Message   string        `json:"message"`
	UserID    any           `json:"user_id"` // numeric id or employee-number string
	GenChatID int64         `json:"gen_chat_id"`
	Context   string        `json:"context"`
	History   []historyTurn `json:"history"`
}

type documentWriteRequest struct {
	DocID           int64         `json:"doc_id"`
	Message         string        `json:"message"`
	UserID          any           `json:"user_id"`
	DocumentContent string        `json:"document_content"`
	History         []historyTurn `json:"history"`
}

type documentReadRequest struct {
	DocID        int64         `json:"doc_id"`
	Message      string        `json:"message"`
	UserID       any           `json:"user_id"`
	DocumentName string        `json:"document_name"`
	DocumentType string        `json:"document_type"`
	History      []historyTurn `json:"history"`
}

// Memory endpoints.

type memorySearchRequest struct {
	Query     string `json:"query"`
	UserID    int64  `json:"user_id"`
	DocID     int64  `json:"doc_id"`
	BuyerName string `json:"buyer_name"`
	Limit     int    `json:"limit"`
}

type memorySearchResponse struct {
	Memories []memory.Item `json:"memories"`
	Count    int           `json:"count"`
}

type memorySaveRequest struct {
	Messages  []memory.Message `json:"messages"`
	UserID    int64            `json:"user_id"`
	DocID     int64            `json:"doc_id"`
	GenChatID int64            `json:"gen_chat_id"`
	BuyerName string           `json:"buyer_name"`
	SaveUser  bool             `json:"save_user"`
	SaveDoc   bool             `json:"save_doc"`
	SaveBuyer bool             `json:"save_buyer"`
}

type memorySaveResponse struct {
	Success    bool `json:"success"`
	SavedCount int  `json:"saved_count"`
	User       int  `json:"user"`
	Doc        int  `json:"doc"`
	Buyer      int  `json:"buyer"`
}

type memoryContextRequest struct {
	DocID     int64  `json:"doc_id"`
	UserID    int64  `json:"user_id"`
	Query     string `json:"query"`
	BuyerName string `json:"buyer_name"`
}

type memoryDeleteRequest struct {
	TradeID int64   `json:"trade_id"`
	DocIDs  []int64 `json:"doc_ids"`
}

type genChatMemoryDeleteRequest struct {
	GenChatID int64 `json:"gen_chat_id"`
}

type memoryDeleteResponse struct {
	Success      bool `json:"success"`
	DeletedCount int  `json:"deleted_count"`
}

// Ingest endpoints.

type ingestRequest struct {
	DocID          int64  `json:"doc_id"`
	S3Key          string `json:"s3_key"`
	CollectionName string `json:"collection_name"`
}

type ingestResponse struct {
	Success     bool   `json:"success"`
	DocID       int64  `json:"doc_id"`
	ChunksCount int    `json:"chunks_count"`
	Collection  string `json:"collection"`
}

type ingestDeleteRequest struct {
	DocID          int64  `json:"doc_id"`
	CollectionName string `json:"collection_name"`
}

type ingestDeleteResponse struct {
	Success      bool  `json:"success"`
	DocID        int64 `json:"doc_id"`
	DeletedCount int   `json:"deleted_count"`
}

// Document upload flow.

type uploadRequest struct {
	DocID    int64  `json:"doc_id"`
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

type uploadResponse struct {
	DocID     int64  `json:"doc_id"`
	UploadURL string `json:"upload_url"`
	S3Key     string `json:"s3_key"`
	ExpiresIn int    `json:"expires_in"`
}

type uploadCompleteRequest struct {
	DocID int64  `json:"doc_id"`
	S3Key string `json:"s3_key"`
}
