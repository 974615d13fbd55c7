package storage

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crypto-morph/newsfinder/internal/domain"
)

func sampleRecord() domain.StoredRecord {
	published := time.Date(2026, 4, 2, 7, 30, 0, 0, time.UTC)
	return domain.StoredRecord{
		Article: domain.AnalyzedArticle{
			Candidate: domain.RawCandidate{
				URL:         "https://example.com/a",
				Title:       "Rival opens clinic",
				SourceName:  "Wire",
				PublishedAt: &published,
				FetchedAt:   published.Add(time.Hour),
			},
			Fingerprint: testFP,
			SummaryText: "summary",
			Scores:      domain.Scores{Relevance: 8, Impact: 6},
			TopicTags:   []string{"clinics"},
			AnalyzedAt:  published.Add(2 * time.Hour),
		},
		Embedding: []float32{0.1, 0.2},
	}
}

func TestUpsertQueryKeepsFirstSeen(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)
	query, args, err := upsertArticleQuery(sampleRecord(), now)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "INSERT INTO articles ("))
	assert.Contains(t, query, "ON CONFLICT (fingerprint) DO UPDATE SET")
	assert.NotContains(t, query, "first_seen_at = EXCLUDED")
	assert.Contains(t, query, "$23")
	require.Len(t, args, len(articleColumns))

	assert.Equal(t, pgvector.NewVector([]float32{0.1, 0.2}), args[16])
	assert.Equal(t, now, args[18], "first_seen_at defaults to now")
	assert.Equal(t, []string{}, args[11], "nil arrays are sent as empty")
	assert.Nil(t, args[21])
}

func TestUpsertQueryWithoutVector(t *testing.T) {
	t.Parallel()

	rec := sampleRecord()
	rec.Embedding = nil
	rec.NeedsReembed = true
	rec.PreviousScores = &domain.Scores{Relevance: 4, Impact: 4}

	_, args, err := upsertArticleQuery(rec, time.Now())
	require.NoError(t, err)
	assert.Nil(t, args[16])
	assert.Equal(t, true, args[17])
	assert.Equal(t, 4, args[21])
}

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	entries, err := fs.Glob(migrationFS, "migrations/*.sql")
	require.NoError(t, err)
	assert.Contains(t, entries, "migrations/000001_init.up.sql")
	assert.Contains(t, entries, "migrations/000001_init.down.sql")
}

// TestPostgresRoundTrip runs against a live database when NEWSFINDER_TEST_DATABASE_DSN is set.
func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("NEWSFINDER_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("NEWSFINDER_TEST_DATABASE_DSN not set")
	}
	ctx := context.Background()

	pool, err := NewPostgresPool(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, _, err = RunMigrations(pool)
	require.NoError(t, err)

	repo := NewPostgresRepository(pool)
	require.NoError(t, repo.Ping(ctx))
	_, err = pool.Exec(ctx, `DELETE FROM articles WHERE fingerprint = $1`, testFP.String())
	require.NoError(t, err)

	first := sampleRecord()
	first.FirstSeenAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx, first))

	second := sampleRecord()
	second.FirstSeenAt = time.Now().UTC()
	second.ReappraisedCount = 1
	require.NoError(t, repo.Upsert(ctx, second))

	got, err := repo.Get(ctx, testFP)
	require.NoError(t, err)
	assert.True(t, first.FirstSeenAt.Equal(got.FirstSeenAt))
	assert.Equal(t, 1, got.ReappraisedCount)
	assert.Equal(t, []float32{0.1, 0.2}, got.Embedding)

	stored, err := repo.AlreadyStored(ctx, []domain.Fingerprint{testFP, "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[domain.Fingerprint]bool{testFP: true}, stored)
}
