package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"tradeassist/internal/config"
)

// Qdrant only allows UUIDs and positive integers as point IDs, so arbitrary
// ids are mapped to deterministic UUIDs with the original kept in the payload.
const payloadIDField = "_original_id"

type qdrantStore struct {
	client *qdrant.Client
}

// NewQdrant creates a Store backed by Qdrant's gRPC API (port 6334 by default).
// Either cfg.URL or cfg.Host/cfg.Port selects the instance.
func NewQdrant(cfg config.QdrantConfig) (Store, error) {
	qc := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	}
	if cfg.URL != "" {
		parsed, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse qdrant URL: %w", err)
		}
		if h := parsed.Hostname(); h != "" {
			qc.Host = h
		}
		if p := parsed.Port(); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid port in qdrant URL: %w", err)
			}
			qc.Port = n
		}
		if parsed.Scheme == "https" {
			qc.UseTLS = true
		}
	}
	if qc.Host == "" {
		qc.Host = "localhost"
	}
	if qc.Port == 0 {
		qc.Port = 6334
	}
	client, err := qdrant.NewClient(qc)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &qdrantStore{client: client}, nil
}

// PointID returns the deterministic UUID qdrant stores for an arbitrary id.
func PointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *qdrantStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

func (q *qdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		uuidStr := PointID(p.ID)
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		if uuidStr != p.ID {
			payload[payloadIDField] = p.ID
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

func buildFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		switch val := v.(type) {
		case string:
			must = append(must, qdrant.NewMatch(k, val))
		case int:
			must = append(must, qdrant.NewMatchInt(k, int64(val)))
		case int64:
			must = append(must, qdrant.NewMatchInt(k, val))
		default:
			must = append(must, qdrant.NewMatch(k, fmt.Sprintf("%v", val)))
		}
	}
	return &qdrant.Filter{Must: must}
}

func decodePayload(payload map[string]*qdrant.Value) (map[string]any, string) {
	out := make(map[string]any, len(payload))
	var originalID string
	for k, v := range payload {
		if k == payloadIDField {
			originalID = v.GetStringValue()
			continue
		}
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = kind.BoolValue
		default:
			out[k] = v.String()
		}
	}
	return out, originalID
}

func (q *qdrantStore) Search(ctx context.Context, collection string, vector []float32, k int, filter Filter) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		payload, originalID := decodePayload(hit.Payload)
		id := originalID
		if id == "" {
			id = hit.Id.GetUuid()
		}
		results = append(results, Result{
			ID:      id,
			Score:   float64(hit.Score),
			Payload: payload,
		})
	}
	return results, nil
}

func (q *qdrantStore) Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 50
	}
	points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("scroll %s: %w", collection, err)
	}
	results := make([]Result, 0, len(points))
	for _, p := range points {
		payload, originalID := decodePayload(p.Payload)
		id := originalID
		if id == "" {
			id = p.Id.GetUuid()
		}
		results = append(results, Result{ID: id, Payload: payload})
	}
	return results, nil
}

func (q *qdrantStore) Delete(ctx context.Context, collection string, filter Filter) error {
	qf := buildFilter(filter)
	if qf == nil {
		return fmt.Errorf("refusing to delete without a filter")
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorFilter(qf),
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", collection, err)
	}
	return nil
}

func (q *qdrantStore) Close() error { return q.client.Close() }
