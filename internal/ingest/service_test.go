package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeassist/internal/objectstore"
	"tradeassist/internal/vectorstore"
)

type fakeObjects struct {
	objects map[string][]byte
}

func (f *fakeObjects) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return data, nil
}

func (f *fakeObjects) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.objects[key] = data
	return nil
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeObjects) PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	return "https://example.com/put/" + key, nil
}

func (f *fakeObjects) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "https://example.com/get/" + key, nil
}

type recordingVectors struct {
	deletes []vectorstore.Filter
	points  []vectorstore.Point
}

func (r *recordingVectors) EnsureCollection(ctx context.Context, name string, dim int) error {
	return nil
}

func (r *recordingVectors) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	r.points = append(r.points, points...)
	return nil
}

func (r *recordingVectors) Search(ctx context.Context, collection string, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	return nil, nil
}

func (r *recordingVectors) Scroll(ctx context.Context, collection string, filter vectorstore.Filter, limit int) ([]vectorstore.Result, error) {
	return nil, nil
}

func (r *recordingVectors) Delete(ctx context.Context, collection string, filter vectorstore.Filter) error {
	r.deletes = append(r.deletes, filter)
	return nil
}

func (r *recordingVectors) Close() error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int { return 3 }

func docxBytes(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<w:document xmlns:w="x"><w:body><w:p><w:r><w:t>` + body + `</w:t></w:r></w:p></w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestIngestDocx(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]byte{
		"documents/offer.docx": docxBytes(t, strings.Repeat("trade terms ", 200)),
	}}
	vectors := &recordingVectors{}
	svc := NewService(objects, vectors, fakeEmbedder{}, "")

	res, err := svc.Ingest(context.Background(), 5, "documents/offer.docx", "user_documents")
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.DocID)
	assert.Greater(t, res.ChunksCount, 0)
	assert.Len(t, vectors.points, res.ChunksCount)

	// Re-ingest clears old chunks first.
	require.NotEmpty(t, vectors.deletes)
	assert.Equal(t, vectorstore.Filter{"doc_id": int64(5)}, vectors.deletes[0])

	p := vectors.points[0]
	assert.Equal(t, int64(5), p.Payload["doc_id"])
	assert.Equal(t, 0, p.Payload["chunk_index"])
	assert.Equal(t, "documents/offer.docx", p.Payload["source_object_key"])
	assert.NotEmpty(t, p.Payload["text"])
	assert.Equal(t, "doc_5_chunk_0", p.ID)
}

func TestIngestNoText(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]byte{
		"documents/blank.docx": docxBytes(t, "   "),
	}}
	svc := NewService(objects, &recordingVectors{}, fakeEmbedder{}, "")

	_, err := svc.Ingest(context.Background(), 6, "documents/blank.docx", "user_documents")
	assert.ErrorIs(t, err, ErrNoText)
}

func TestIngestMissingObject(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]byte{}}
	svc := NewService(objects, &recordingVectors{}, fakeEmbedder{}, "")

	_, err := svc.Ingest(context.Background(), 7, "documents/missing.pdf", "user_documents")
	assert.Error(t, err)
}

func TestDeleteDocument(t *testing.T) {
	vectors := &recordingVectors{}
	svc := NewService(&fakeObjects{objects: map[string][]byte{}}, vectors, fakeEmbedder{}, "")

	n, err := svc.DeleteDocument(context.Background(), 9, "user_documents")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, vectors.deletes, 1)
	assert.Equal(t, vectorstore.Filter{"doc_id": int64(9)}, vectors.deletes[0])
}
