package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto-morph/newsfinder/internal/domain"
)

func sampleRecord() domain.StoredRecord {
	published := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	return domain.StoredRecord{
		Article: domain.AnalyzedArticle{
			Candidate: domain.RawCandidate{
				URL:         "https://news.example.com/a",
				Title:       "Rival opens clinic",
				SourceName:  "wire",
				PublishedAt: &published,
			},
			Fingerprint:        domain.Fingerprint("abc123"),
			SummaryText:        "A rival opened a clinic.",
			Scores:             domain.Scores{Relevance: 8, Impact: 6},
			RelevanceReasoning: "direct competitor",
			TopicTags:          []string{"expansion"},
			KeyEntities:        []string{"Rival"},
			Model:              "llama3.1",
		},
		Embedding:   []float32{0.1, 0.2},
		FirstSeenAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		StoredAt:    time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestDocumentMapping(t *testing.T) {
	t.Parallel()

	record := sampleRecord()
	doc := ToDocument(record)
	assert.Equal(t, "abc123", doc.ID)
	assert.Equal(t, 8, doc.RelevanceScore)
	assert.Equal(t, record.StoredAt.Unix(), doc.StoredAt)

	back := FromDocument(doc)
	assert.Equal(t, record.Article.Fingerprint, back.Fingerprint())
	assert.Equal(t, record.Article.Scores, back.Article.Scores)
	assert.Equal(t, record.Article.TopicTags, back.Article.TopicTags)
	require.NotNil(t, back.Article.Candidate.PublishedAt)
	assert.True(t, back.Article.Candidate.PublishedAt.Equal(*record.Article.Candidate.PublishedAt))
	assert.True(t, back.StoredAt.Equal(record.StoredAt))
	assert.False(t, back.HasVector(), "vectors are not mirrored")
}

func TestDecodeHits(t *testing.T) {
	t.Parallel()

	hits := []any{
		map[string]any{"id": "one", "title": "First", "stored_at": 10},
		map[string]any{"id": "two", "title": "Second", "stored_at": 20},
	}
	docs, err := decodeHits(hits)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Second", docs[1].Title)
	assert.Equal(t, int64(20), docs[1].StoredAt)
}

func TestPersistServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom","code":"internal","type":"internal","link":""}`))
	}))
	defer server.Close()

	archive := NewMeiliArchive(server.URL, "key", "")
	assert.Error(t, archive.Persist(context.Background(), sampleRecord()))
	assert.Error(t, archive.Healthy())
}

func TestPersistCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	archive := NewMeiliArchive("http://127.0.0.1:1", "", "")
	assert.ErrorIs(t, archive.Persist(ctx, sampleRecord()), context.Canceled)
	_, err := archive.List(ctx, 5)
	assert.ErrorIs(t, err, context.Canceled)
}
