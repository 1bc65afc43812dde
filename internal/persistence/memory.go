package persistence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NewMemory returns an in-process Store used by tests and as the dev
// fallback when no DATABASE_URL is configured.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:       map[int64]User{},
		trades:      map[int64]TradeFlow{},
		documents:   map[int64]Document{},
		versions:    map[int64][]DocVersion{},
		docMessages: map[int64][]Message{},
		genChats:    map[int64]GenChat{},
		genMessages: map[int64][]Message{},
	}
}

type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64

	users       map[int64]User
	trades      map[int64]TradeFlow
	documents   map[int64]Document
	versions    map[int64][]DocVersion
	docMessages map[int64][]Message
	genChats    map[int64]GenChat
	genMessages map[int64][]Message
}

func (s *MemoryStore) Init(ctx context.Context) error { return nil }
func (s *MemoryStore) Close()                         {}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// SeedTrade inserts a trade flow with documents, for tests and dev mode.
func (s *MemoryStore) SeedTrade(userID int64, docTypes ...string) (TradeFlow, []Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	tf := TradeFlow{ID: s.id(), UserID: userID, Title: "Trade", Status: "in_progress", CreatedAt: now, UpdatedAt: now}
	s.trades[tf.ID] = tf
	var docs []Document
	for _, dt := range docTypes {
		d := Document{ID: s.id(), TradeID: tf.ID, DocType: dt, DocMode: "manual", UploadStatus: "none", CreatedAt: now}
		s.documents[d.ID] = d
		docs = append(docs, d)
	}
	return tf, docs
}

// SeedDocVersion appends a version blob for a document.
func (s *MemoryStore) SeedDocVersion(docID int64, title, html string) DocVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := DocVersion{ID: s.id(), DocID: docID, Title: title, HTML: html, CreatedAt: time.Now().UTC()}
	s.versions[docID] = append(s.versions[docID], v)
	return v
}

// SetDocMode directly sets a document's mode and upload status (test helper).
func (s *MemoryStore) SetDocMode(docID int64, mode, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.documents[docID]
	d.DocMode = mode
	d.UploadStatus = status
	s.documents[docID] = d
}

func (s *MemoryStore) GetUser(ctx context.Context, ident string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.EmpNo == ident {
			return u, nil
		}
	}
	if id, err := strconv.ParseInt(strings.TrimSpace(ident), 10, 64); err == nil {
		if u, ok := s.users[id]; ok {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) CreateUser(ctx context.Context, empNo, name string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := User{ID: s.id(), EmpNo: empNo, Name: name}
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, docID int64) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[docID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) SiblingDocuments(ctx context.Context, tradeID, excludeDocID int64) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, d := range s.documents {
		if d.TradeID == tradeID && d.ID != excludeDocID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) LatestDocVersion(ctx context.Context, docID int64) (DocVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.versions[docID]
	if len(vs) == 0 {
		return DocVersion{}, ErrNotFound
	}
	return vs[len(vs)-1], nil
}

func (s *MemoryStore) SetUploadInfo(ctx context.Context, docID int64, filename, objectKey string, size int64, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[docID]
	if !ok {
		return ErrNotFound
	}
	if !ValidTransition(d.UploadStatus, "uploading") {
		return fmt.Errorf("%w: %s -> uploading", ErrBadTransition, d.UploadStatus)
	}
	d.DocMode = "upload"
	d.OriginalFilename = filename
	d.RawObjectKey = objectKey
	d.FileSize = size
	d.MimeType = mimeType
	d.UploadStatus = "uploading"
	d.UploadError = ""
	s.documents[docID] = d
	return nil
}

func (s *MemoryStore) SetUploadStatus(ctx context.Context, docID int64, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[docID]
	if !ok {
		return ErrNotFound
	}
	if !ValidTransition(d.UploadStatus, status) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, d.UploadStatus, status)
	}
	d.UploadStatus = status
	d.UploadError = errMsg
	s.documents[docID] = d
	return nil
}

func (s *MemoryStore) appendMessage(m map[int64][]Message, key int64, role, content string, metadata map[string]any) Message {
	msg := Message{
		ID:        s.id(),
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	m[key] = append(m[key], msg)
	return msg
}

func recentWindow(all []Message, excludeID int64, limit int) []Message {
	var filtered []Message
	for _, m := range all {
		if m.ID != excludeID {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

func (s *MemoryStore) AddDocMessage(ctx context.Context, docID int64, role, content string, metadata map[string]any) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[docID]; !ok {
		return Message{}, ErrNotFound
	}
	return s.appendMessage(s.docMessages, docID, role, content, metadata), nil
}

func (s *MemoryStore) RecentDocMessages(ctx context.Context, docID, excludeID int64, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recentWindow(s.docMessages[docID], excludeID, limit), nil
}

func (s *MemoryStore) CountDocMessages(ctx context.Context, docID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docMessages[docID]), nil
}

func (s *MemoryStore) LastDocMessages(ctx context.Context, docID int64, n int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.docMessages[docID]
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (s *MemoryStore) GetGenChat(ctx context.Context, genChatID int64) (GenChat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.genChats[genChatID]
	if !ok {
		return GenChat{}, ErrNotFound
	}
	return g, nil
}

func (s *MemoryStore) CreateGenChat(ctx context.Context, userID int64, title string) (GenChat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := GenChat{ID: s.id(), UserID: userID, Title: title, CreatedAt: time.Now().UTC()}
	s.genChats[g.ID] = g
	return g, nil
}

func (s *MemoryStore) DeleteGenChat(ctx context.Context, genChatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.genChats[genChatID]; !ok {
		return ErrNotFound
	}
	delete(s.genChats, genChatID)
	delete(s.genMessages, genChatID)
	return nil
}

func (s *MemoryStore) AddGenMessage(ctx context.Context, genChatID int64, role, content string, metadata map[string]any) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.genChats[genChatID]; !ok {
		return Message{}, ErrNotFound
	}
	return s.appendMessage(s.genMessages, genChatID, role, content, metadata), nil
}

func (s *MemoryStore) RecentGenMessages(ctx context.Context, genChatID, excludeID int64, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recentWindow(s.genMessages[genChatID], excludeID, limit), nil
}

func (s *MemoryStore) CountGenMessages(ctx context.Context, genChatID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.genMessages[genChatID]), nil
}

func (s *MemoryStore) LastGenMessages(ctx context.Context, genChatID int64, n int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.genMessages[genChatID]
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}
