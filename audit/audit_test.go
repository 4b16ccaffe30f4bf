package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MercatoLabs/dealkit/contract"
	"github.com/MercatoLabs/dealkit/types"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, 7, 9, 14, 30, 45, 0, time.UTC)
	return func() time.Time { return at }
}

func decodeArtifact(t *testing.T, data []byte) map[string]any {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestWriteContractArtifact(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, WithClock(fixedClock()))

	sc := contract.NewSessionContext("sess-9", "purchase_item", fixedClock()())
	sc.ProductQuery = "gpu"
	sc.ContractStatus = contract.ContractCompleted
	require.NoError(t, w.WriteContract(context.Background(), sc))

	objects := store.Objects()
	require.Len(t, objects, 1)

	key := "audit/contracts/2026/07/09/sess-9_143045.json.gz"
	obj, ok := objects[key]
	require.True(t, ok, "unexpected keys: %v", objects)
	assert.Equal(t, "sess-9", obj.Metadata["session_id"])
	assert.Equal(t, KindContracts, obj.Metadata["artifact_type"])

	payload := decodeArtifact(t, obj.Data)
	assert.Equal(t, KindContracts, payload["artifact_type"])
	assert.Equal(t, RetentionPolicy, payload["retention_policy"])
	assert.Equal(t, "2026-07-09T14:30:45Z", payload["timestamp"])
	inner, ok := payload["contract"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "gpu", inner["product_query"])
}

func TestWriteChatArtifact(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, WithClock(fixedClock()))

	msgs := []types.Message{
		types.NewMessage("user", "I want to buy a GPU"),
		types.NewMessage("assistant", "Here are the top options:"),
	}
	require.NoError(t, w.WriteChat(context.Background(), "sess-9", "user-1", msgs))

	for key, obj := range store.Objects() {
		assert.Contains(t, key, "audit/chat/2026/07/09/")
		assert.Equal(t, "user-1", obj.Metadata["user_id"])
		payload := decodeArtifact(t, obj.Data)
		assert.Len(t, payload["messages"], 2)
	}
}

func TestFileStoreLayout(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(NewFileStore(root), WithClock(fixedClock()))

	sc := contract.NewSessionContext("sess-9", "purchase_item", fixedClock()())
	sc.StepLog = []string{"start -> search"}
	require.NoError(t, w.WriteFSM(context.Background(), sc))

	path := filepath.Join(root, "audit", "fsm", "2026", "07", "09", "sess-9_143045.json.gz")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	payload := decodeArtifact(t, data)
	assert.Equal(t, KindFSM, payload["artifact_type"])
	assert.Equal(t, []any{"start -> search"}, payload["step_log"])

	meta, err := os.ReadFile(path + ".meta.json")
	require.NoError(t, err)
	assert.Contains(t, string(meta), "sess-9")
}
