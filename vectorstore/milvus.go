package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/MercatoLabs/dealkit/logger"
	"github.com/MercatoLabs/dealkit/privacy"
)

// PII density gates: above the redact threshold the stored variant is
// redacted; above the refuse threshold the text is essentially all PII and
// is not stored at all.
const (
	piiRedactThreshold = 0.25
	piiRefuseThreshold = 0.8
)

// MilvusStore is the Milvus-backed semantic store. The collection holds
// id, user_id, content, embedding, metadata, and timestamp fields with a
// cosine IVF_FLAT index on the embedding.
type MilvusStore struct {
	client     client.Client
	collection string
	embedder   Embedder
	redactor   privacy.Redactor
	now        func() time.Time
}

// MilvusOption configures a MilvusStore.
type MilvusOption func(*MilvusStore)

// WithClock overrides the clock for tests.
func WithClock(now func() time.Time) MilvusOption {
	return func(s *MilvusStore) { s.now = now }
}

// NewMilvusStore connects to Milvus and ensures the collection exists and
// is loaded.
func NewMilvusStore(ctx context.Context, address, collection string, embedder Embedder, redactor privacy.Redactor, opts ...MilvusOption) (*MilvusStore, error) {
	c, err := client.NewClient(ctx, client.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	s := &MilvusStore{
		client:     c,
		collection: collection,
		embedder:   embedder,
		redactor:   redactor,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return s, nil
}

func (s *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if !has {
		if err := s.client.CreateCollection(ctx, collectionSchema(s.collection), 1); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.COSINE, 128)
		if err != nil {
			return fmt.Errorf("build index spec: %w", err)
		}
		if err := s.client.CreateIndex(ctx, s.collection, "embedding", idx, false); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	if err := s.client.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

// maxContentChars bounds the stored memory text.
const maxContentChars = 1000

// collectionSchema builds the semantic memory schema: an auto-assigned
// int64 primary key, bounded varchar text fields, a JSON metadata field,
// and a millisecond timestamp.
func collectionSchema(name string) *entity.Schema {
	return entity.NewSchema().WithName(name).WithAutoID(true).
		WithField(entity.NewField().WithName("id").
			WithDataType(entity.FieldTypeInt64).
			WithIsPrimaryKey(true).WithIsAutoID(true)).
		WithField(entity.NewField().WithName("user_id").
			WithDataType(entity.FieldTypeVarChar).WithMaxLength(100)).
		WithField(entity.NewField().WithName("content").
			WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxContentChars)).
		WithField(entity.NewField().WithName("embedding").
			WithDataType(entity.FieldTypeFloatVector).WithDim(EmbeddingDim)).
		WithField(entity.NewField().WithName("metadata").
			WithDataType(entity.FieldTypeJSON)).
		WithField(entity.NewField().WithName("timestamp").
			WithDataType(entity.FieldTypeInt64))
}

// AddMemory implements SemanticStore. Unsafe text is stored redacted with
// a pii_redacted flag; text still unsafe after redaction is refused.
func (s *MilvusStore) AddMemory(ctx context.Context, userID, text, memType string, metadata map[string]any) error {
	if userID == "" {
		return ErrInvalidUser
	}

	content, redacted, err := gateText(s.redactor, text)
	if err != nil {
		return err
	}
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed memory: %w", err)
	}
	if len(vec) != EmbeddingDim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimMismatch, len(vec), EmbeddingDim)
	}

	meta := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		meta[k] = v
	}
	if memType != "" {
		meta["type"] = memType
	}
	if redacted {
		meta["pii_redacted"] = true
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	// The primary key is auto-assigned; no id column on insert.
	_, err = s.client.Insert(ctx, s.collection, "",
		entity.NewColumnVarChar("user_id", []string{userID}),
		entity.NewColumnVarChar("content", []string{content}),
		entity.NewColumnFloatVector("embedding", EmbeddingDim, [][]float32{vec}),
		entity.NewColumnJSONBytes("metadata", [][]byte{metaJSON}),
		entity.NewColumnInt64("timestamp", []int64{s.now().UnixMilli()}),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// gateText applies the PII policy: low-density text passes through,
// mid-density text is stored redacted and flagged, and text that is
// essentially all PII is refused.
func gateText(redactor privacy.Redactor, text string) (string, bool, error) {
	if redactor == nil || redactor.IsTextSafeForStorage(text, piiRedactThreshold) {
		return text, false, nil
	}
	if !redactor.IsTextSafeForStorage(text, piiRefuseThreshold) {
		return "", false, ErrUnsafeText
	}
	logger.Debug("semantic memory stored redacted")
	return redactor.Redact(text, privacy.MethodPlaceholder), true, nil
}

// SearchMemories implements SemanticStore.
func (s *MilvusStore) SearchMemories(ctx context.Context, userID, query string, topK int, threshold float64) ([]Match, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("build search params: %w", err)
	}
	results, err := s.client.Search(ctx, s.collection, nil,
		fmt.Sprintf("user_id == %q", userID),
		[]string{"id", "user_id", "content", "metadata", "timestamp"},
		[]entity.Vector{entity.FloatVector(vec)},
		"embedding", entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}

	var matches []Match
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			score := float64(result.Scores[i])
			if score < threshold {
				continue
			}
			m, err := memoryFromResult(result, i)
			if err != nil {
				return nil, err
			}
			matches = append(matches, Match{Memory: m, Score: score})
		}
	}
	return matches, nil
}

// memoryFromResult reconstructs one Memory from a search result row.
func memoryFromResult(result client.SearchResult, i int) (Memory, error) {
	var m Memory
	for _, col := range result.Fields {
		switch col.Name() {
		case "id":
			id, _ := col.GetAsInt64(i)
			m.ID = strconv.FormatInt(id, 10)
		case "user_id":
			m.UserID, _ = col.GetAsString(i)
		case "content":
			m.Content, _ = col.GetAsString(i)
		case "metadata":
			raw, _ := col.GetAsString(i)
			if raw != "" {
				if err := json.Unmarshal([]byte(raw), &m.Metadata); err != nil {
					return m, fmt.Errorf("unmarshal metadata: %w", err)
				}
			}
		case "timestamp":
			ts, _ := col.GetAsInt64(i)
			m.Timestamp = time.UnixMilli(ts).UTC()
		}
	}
	if t, ok := m.Metadata["type"].(string); ok {
		m.Type = t
	}
	if r, ok := m.Metadata["pii_redacted"].(bool); ok {
		m.PIIRedacted = r
	}
	return m, nil
}

// DeleteUserMemories implements SemanticStore.
func (s *MilvusStore) DeleteUserMemories(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUser
	}
	if err := s.client.Delete(ctx, s.collection, "", fmt.Sprintf("user_id == %q", userID)); err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}
	return nil
}

// Close releases the Milvus connection.
func (s *MilvusStore) Close() error {
	return s.client.Close()
}
