// Package ingest materializes an uploaded document into retrievable vector
// chunks: object-store download, format-specific parsing, sliding-window
// chunking, batch embedding, and a qdrant upsert.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tradeassist/internal/llm"
	"tradeassist/internal/objectstore"
	"tradeassist/internal/vectorstore"
)

// ErrNoText is returned when a document yields no extractable text at all.
var ErrNoText = errors.New("no text extracted from document")

type Service struct {
	objects      objectstore.Store
	vectors      vectorstore.Store
	embedder     llm.Embedder
	converterURL string
	httpClient   *http.Client
}

func NewService(objects objectstore.Store, vectors vectorstore.Store, embedder llm.Embedder, converterURL string) *Service {
	return &Service{
		objects:      objects,
		vectors:      vectors,
		embedder:     embedder,
		converterURL: converterURL,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
	}
}

// Result reports the outcome of an ingest run.
type Result struct {
	DocID       int64
	ChunksCount int
	Warnings    []string
}

// Ingest downloads the object, parses and chunks it, embeds all chunks in a
// single batch, and upserts one point per chunk. Any existing points for the
// document are deleted first so re-ingest never duplicates chunks.
func (s *Service) Ingest(ctx context.Context, docID int64, objectKey, collection string) (*Result, error) {
	log.Info().Int64("doc_id", docID).Str("key", objectKey).Str("collection", collection).Msg("ingesting document")

	data, err := s.objects.Get(ctx, objectKey)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", objectKey, err)
	}

	pages, warnings, err := parseDocument(data, objectKey)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Warn().Int64("doc_id", docID).Str("warning", w).Msg("ingest parser warning")
	}

	total := 0
	for _, p := range pages {
		total += len(strings.TrimSpace(p.Text))
	}
	if total == 0 {
		return nil, ErrNoText
	}

	// Optional preview conversion for non-PDF sources; never fatal.
	ext := strings.ToLower(filepath.Ext(objectKey))
	if s.converterURL != "" && (ext == ".docx" || ext == ".hwp") {
		s.convertPreview(ctx, docID, data, ext)
	}

	chunks := chunkPages(pages, defaultChunkSize, defaultOverlap)
	if len(chunks) == 0 {
		return nil, ErrNoText
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}

	if err := s.vectors.EnsureCollection(ctx, collection, s.embedder.Dimensions()); err != nil {
		return nil, err
	}
	// Idempotent re-ingest: clear any prior chunks for this document.
	if err := s.vectors.Delete(ctx, collection, vectorstore.Filter{"doc_id": docID}); err != nil {
		log.Warn().Err(err).Int64("doc_id", docID).Msg("pre-ingest delete failed, relying on deterministic ids")
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		payload := map[string]any{
			"doc_id":            docID,
			"chunk_index":       c.Index,
			"text":              c.Text,
			"source_object_key": objectKey,
		}
		if c.Page > 0 {
			payload["page"] = c.Page
		}
		points[i] = vectorstore.Point{
			ID:      fmt.Sprintf("doc_%d_chunk_%d", docID, c.Index),
			Vector:  vectors[i],
			Payload: payload,
		}
	}
	if err := s.vectors.Upsert(ctx, collection, points); err != nil {
		return nil, err
	}

	log.Info().Int64("doc_id", docID).Int("chunks", len(chunks)).Msg("document indexed")
	return &Result{DocID: docID, ChunksCount: len(chunks), Warnings: warnings}, nil
}

// DeleteDocument removes every chunk for the document via a payload filter.
func (s *Service) DeleteDocument(ctx context.Context, docID int64, collection string) (int, error) {
	err := s.vectors.Delete(ctx, collection, vectorstore.Filter{"doc_id": docID})
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// convertPreview posts the raw bytes to the external converter and uploads
// the returned PDF to a deterministic key. Failures only warn.
func (s *Service) convertPreview(ctx context.Context, docID int64, data []byte, ext string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.converterURL, bytes.NewReader(data))
	if err != nil {
		log.Warn().Err(err).Int64("doc_id", docID).Msg("preview conversion request failed")
		return
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Source-Format", strings.TrimPrefix(ext, "."))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Int64("doc_id", docID).Msg("preview conversion failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Int64("doc_id", docID).Msg("preview converter returned error")
		return
	}
	pdfBytes := new(bytes.Buffer)
	if _, err := pdfBytes.ReadFrom(resp.Body); err != nil {
		log.Warn().Err(err).Int64("doc_id", docID).Msg("preview read failed")
		return
	}
	key := fmt.Sprintf("previews/%d.pdf", docID)
	if err := s.objects.Put(ctx, key, pdfBytes.Bytes(), "application/pdf"); err != nil {
		log.Warn().Err(err).Int64("doc_id", docID).Str("key", key).Msg("preview upload failed")
		return
	}
	log.Info().Int64("doc_id", docID).Str("key", key).Msg("preview uploaded")
}
