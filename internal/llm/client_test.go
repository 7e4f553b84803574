package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skilllab/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{GenerateURL: srv.URL + "/api/generate", Model: "mistral:7b"}, nil)
}

func TestExtractJSON(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		m, ok := ExtractJSON(`{"Name": "Alice"}`)
		require.True(t, ok)
		assert.Equal(t, "Alice", m["Name"])
	})

	t.Run("surrounded by prose", func(t *testing.T) {
		m, ok := ExtractJSON("Here is the extraction:\n```json\n{\"Name\": \"Alice\", \"Skills\": [\"Go\"]}\n```\nDone.")
		require.True(t, ok)
		assert.Equal(t, "Alice", m["Name"])
	})

	t.Run("nested objects balance", func(t *testing.T) {
		m, ok := ExtractJSON(`prefix {"Experience": [{"company": "Acme"}]} suffix`)
		require.True(t, ok)
		exp := m["Experience"].([]any)
		require.Len(t, exp, 1)
	})

	t.Run("braces inside strings ignored", func(t *testing.T) {
		m, ok := ExtractJSON(`{"Name": "Alice {the} Smith"}`)
		require.True(t, ok)
		assert.Equal(t, "Alice {the} Smith", m["Name"])
	})

	t.Run("no json", func(t *testing.T) {
		_, ok := ExtractJSON("I could not parse the resume.")
		assert.False(t, ok)
	})

	t.Run("unbalanced", func(t *testing.T) {
		_, ok := ExtractJSON(`{"Name": "Alice"`)
		assert.False(t, ok)
	})
}

func TestGenerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mistral:7b", req.Model)
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(generateResponse{Response: `{"Name": "Alice"}`})
	})

	out, err := c.Generate(context.Background(), "extract")
	require.NoError(t, err)
	assert.Equal(t, `{"Name": "Alice"}`, out)
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "loading model", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "{}"})
	})

	out, err := c.Generate(context.Background(), "extract")
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model name", http.StatusBadRequest)
	})

	_, err := c.Generate(context.Background(), "extract")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindServiceUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateRecord(t *testing.T) {
	t.Run("parseable response", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var req generateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Contains(t, req.Prompt, "Resume text:")
			assert.Contains(t, req.Prompt, "Alice Smith")

			json.NewEncoder(w).Encode(generateResponse{
				Response: `{"Name": "Alice Smith", "Email": "alice@example.com"}`,
			})
		})

		record, err := c.GenerateRecord(context.Background(), "Alice Smith\nalice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "Alice Smith", record["Name"])
		// Missing keys are filled in so the full key set is always present.
		assert.Contains(t, record, "Phone")
		assert.Contains(t, record, "Skills")
		assert.Equal(t, []any{}, record["Experience"])
	})

	t.Run("unparseable response falls back to empty template", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(generateResponse{Response: "I cannot read this resume."})
		})

		record, err := c.GenerateRecord(context.Background(), "garbled")
		require.NoError(t, err)
		for _, key := range types.RecordKeys {
			assert.Contains(t, record, key)
		}
		assert.Nil(t, record["Name"])
	})
}

func TestRegenerate(t *testing.T) {
	t.Run("improved record returned", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var req generateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Contains(t, req.Prompt, "Problems detected:")
			assert.Contains(t, req.Prompt, "Missing Email")

			json.NewEncoder(w).Encode(generateResponse{
				Response: `{"Name": "Alice Smith", "Email": "alice@example.com"}`,
			})
		})

		prev := map[string]any{"Name": "Alice Smith", "Email": nil}
		record, err := c.Regenerate(context.Background(), prev, "source", []string{"Missing Email"})
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", record["Email"])
	})

	t.Run("unparseable response keeps previous record", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(generateResponse{Response: "no json here"})
		})

		prev := map[string]any{"Name": "Alice Smith"}
		record, err := c.Regenerate(context.Background(), prev, "source", []string{"Missing Email"})
		require.NoError(t, err)
		assert.Equal(t, "Alice Smith", record["Name"])
	})
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{{"name": "mistral:7b"}, {"name": "llama3:8b"}},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{GenerateURL: srv.URL + "/api/generate"}, nil)
	names, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mistral:7b", "llama3:8b"}, names)
}

func TestHealthUnreachable(t *testing.T) {
	c := NewClient(Config{GenerateURL: "http://127.0.0.1:1/api/generate"}, nil)
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindServiceUnavailable))
}
