package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var articleColumns = []string{
	"fingerprint", "url", "title", "source_name", "raw_text", "published_at", "fetched_at",
	"summary_text", "relevance_score", "impact_score", "relevance_reasoning",
	"key_entities", "topic_tags", "goal_matches", "model", "analyzed_at",
	"embedding", "needs_reembed", "first_seen_at", "stored_at",
	"reappraised_count", "previous_relevance", "previous_impact",
}

// PostgresRepository persists analyzed articles, verdicts, history and discoveries in Postgres.
// Embeddings use the pgvector extension.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var (
	_ ports.KnowledgeStore = (*PostgresRepository)(nil)
	_ ports.VerdictStore   = (*PostgresRepository)(nil)
	_ ports.HistoryStore   = (*PostgresRepository)(nil)
	_ ports.DiscoveryStore = (*PostgresRepository)(nil)
)

// NewPostgresPool opens a pool with pgvector types registered on every connection.
func NewPostgresPool(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return pool, nil
}

// NewPostgresRepository wires a pgx pool implementation.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Upsert writes the record. first_seen_at is never overwritten on conflict.
func (r *PostgresRepository) Upsert(ctx context.Context, record domain.StoredRecord) error {
	query, args, err := upsertArticleQuery(record, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}
	return nil
}

func upsertArticleQuery(record domain.StoredRecord, now time.Time) (string, []any, error) {
	a := record.Article
	firstSeen := record.FirstSeenAt
	if firstSeen.IsZero() {
		firstSeen = now
	}

	var embedding any
	if record.HasVector() {
		embedding = pgvector.NewVector(record.Embedding)
	}
	var prevRelevance, prevImpact any
	if record.PreviousScores != nil {
		prevRelevance, prevImpact = record.PreviousScores.Relevance, record.PreviousScores.Impact
	}

	return psql.Insert("articles").
		Columns(articleColumns...).
		Values(
			a.Fingerprint.String(), a.Candidate.URL, a.Candidate.Title, a.Candidate.SourceName, a.Candidate.RawText,
			a.Candidate.PublishedAt, a.Candidate.FetchedAt,
			a.SummaryText, a.Scores.Relevance, a.Scores.Impact, a.RelevanceReasoning,
			nonNil(a.KeyEntities), nonNil(a.TopicTags), nonNil(a.GoalMatches), a.Model, a.AnalyzedAt,
			embedding, record.NeedsReembed, firstSeen, now,
			record.ReappraisedCount, prevRelevance, prevImpact,
		).
		Suffix(`ON CONFLICT (fingerprint) DO UPDATE SET
            url = EXCLUDED.url,
            title = EXCLUDED.title,
            source_name = EXCLUDED.source_name,
            raw_text = EXCLUDED.raw_text,
            published_at = EXCLUDED.published_at,
            fetched_at = EXCLUDED.fetched_at,
            summary_text = EXCLUDED.summary_text,
            relevance_score = EXCLUDED.relevance_score,
            impact_score = EXCLUDED.impact_score,
            relevance_reasoning = EXCLUDED.relevance_reasoning,
            key_entities = EXCLUDED.key_entities,
            topic_tags = EXCLUDED.topic_tags,
            goal_matches = EXCLUDED.goal_matches,
            model = EXCLUDED.model,
            analyzed_at = EXCLUDED.analyzed_at,
            embedding = EXCLUDED.embedding,
            needs_reembed = EXCLUDED.needs_reembed,
            stored_at = EXCLUDED.stored_at,
            reappraised_count = EXCLUDED.reappraised_count,
            previous_relevance = EXCLUDED.previous_relevance,
            previous_impact = EXCLUDED.previous_impact`).
		ToSql()
}

func (r *PostgresRepository) Exists(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM articles WHERE fingerprint = $1)`, fp.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query article exists: %w", err)
	}
	return exists, nil
}

// AlreadyStored returns the subset of fingerprints that already have a record.
func (r *PostgresRepository) AlreadyStored(ctx context.Context, fps []domain.Fingerprint) (map[domain.Fingerprint]bool, error) {
	result := make(map[domain.Fingerprint]bool)
	if len(fps) == 0 {
		return result, nil
	}
	ids := make([]string, len(fps))
	for i, fp := range fps {
		ids[i] = fp.String()
	}

	rows, err := r.pool.Query(ctx, `SELECT fingerprint FROM articles WHERE fingerprint = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query stored: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		result[domain.Fingerprint(id)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Get(ctx context.Context, fp domain.Fingerprint) (*domain.StoredRecord, error) {
	query, args, err := psql.Select(articleColumns...).From("articles").
		Where(sq.Eq{"fingerprint": fp.String()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get: %w", err)
	}
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return &rec, nil
}

func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]domain.StoredRecord, error) {
	return r.listRecords(ctx, psql.Select(articleColumns...).From("articles"), limit)
}

func (r *PostgresRepository) ListNeedingEmbedding(ctx context.Context, limit int) ([]domain.StoredRecord, error) {
	return r.listRecords(ctx,
		psql.Select(articleColumns...).From("articles").
			Where(sq.Or{sq.Eq{"needs_reembed": true}, sq.Eq{"embedding": nil}}),
		limit)
}

func (r *PostgresRepository) listRecords(ctx context.Context, builder sq.SelectBuilder, limit int) ([]domain.StoredRecord, error) {
	builder = builder.OrderBy("stored_at DESC", "fingerprint")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (domain.StoredRecord, error) {
	var (
		rec           domain.StoredRecord
		a             = &rec.Article
		fp            string
		embedding     *pgvector.Vector
		relevance     int
		impact        int
		prevRelevance *int
		prevImpact    *int
	)
	err := row.Scan(
		&fp, &a.Candidate.URL, &a.Candidate.Title, &a.Candidate.SourceName, &a.Candidate.RawText,
		&a.Candidate.PublishedAt, &a.Candidate.FetchedAt,
		&a.SummaryText, &relevance, &impact, &a.RelevanceReasoning,
		&a.KeyEntities, &a.TopicTags, &a.GoalMatches, &a.Model, &a.AnalyzedAt,
		&embedding, &rec.NeedsReembed, &rec.FirstSeenAt, &rec.StoredAt,
		&rec.ReappraisedCount, &prevRelevance, &prevImpact,
	)
	if err != nil {
		return domain.StoredRecord{}, err
	}
	a.Fingerprint = domain.Fingerprint(fp)
	a.Scores = domain.Scores{Relevance: relevance, Impact: impact}
	if embedding != nil {
		rec.Embedding = embedding.Slice()
	}
	if prevRelevance != nil && prevImpact != nil {
		rec.PreviousScores = &domain.Scores{Relevance: *prevRelevance, Impact: *prevImpact}
	}
	return rec, nil
}

func (r *PostgresRepository) AppendVerdict(ctx context.Context, v domain.VerificationVerdict) error {
	var corrRelevance, corrImpact any
	if v.CorrectedScores != nil {
		corrRelevance, corrImpact = v.CorrectedScores.Relevance, v.CorrectedScores.Impact
	}
	query, args, err := psql.Insert("verification_verdicts").
		Columns("id", "fingerprint", "agrees", "original_relevance", "original_impact",
			"corrected_relevance", "corrected_impact", "hallucination_flags",
			"verifier_identity", "reasoning", "discrepancy", "flagged", "created_at").
		Values(v.ID, v.Fingerprint.String(), v.Agrees, v.OriginalScores.Relevance, v.OriginalScores.Impact,
			corrRelevance, corrImpact, nonNil(v.HallucinationFlags),
			v.VerifierIdentity, v.Reasoning, v.Discrepancy, v.Flagged, v.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build verdict insert: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AppendCorrection(ctx context.Context, c domain.ScoreCorrection) error {
	query, args, err := psql.Insert("score_corrections").
		Columns("fingerprint", "verdict_id", "original_relevance", "original_impact", "corrected_relevance", "corrected_impact").
		Values(c.Fingerprint.String(), c.VerdictID, c.Original.Relevance, c.Original.Impact, c.Corrected.Relevance, c.Corrected.Impact).
		ToSql()
	if err != nil {
		return fmt.Errorf("build correction insert: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert correction: %w", err)
	}
	return nil
}

var verdictColumns = []string{
	"id::text", "fingerprint", "agrees", "original_relevance", "original_impact",
	"corrected_relevance", "corrected_impact", "hallucination_flags",
	"verifier_identity", "reasoning", "discrepancy", "flagged", "created_at",
}

func (r *PostgresRepository) ListVerdicts(ctx context.Context, fp domain.Fingerprint) ([]domain.VerificationVerdict, error) {
	return r.listVerdicts(ctx, psql.Select(verdictColumns...).From("verification_verdicts").
		Where(sq.Eq{"fingerprint": fp.String()}).
		OrderBy("created_at"))
}

func (r *PostgresRepository) ListRecentVerdicts(ctx context.Context, limit int) ([]domain.VerificationVerdict, error) {
	builder := psql.Select(verdictColumns...).From("verification_verdicts").OrderBy("created_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return r.listVerdicts(ctx, builder)
}

func (r *PostgresRepository) listVerdicts(ctx context.Context, builder sq.SelectBuilder) ([]domain.VerificationVerdict, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build verdict list: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	defer rows.Close()

	var out []domain.VerificationVerdict
	for rows.Next() {
		var (
			v                domain.VerificationVerdict
			fp               string
			origRel, origImp int
			corrRel, corrImp *int
		)
		if err := rows.Scan(&v.ID, &fp, &v.Agrees, &origRel, &origImp, &corrRel, &corrImp,
			&v.HallucinationFlags, &v.VerifierIdentity, &v.Reasoning, &v.Discrepancy, &v.Flagged, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		v.Fingerprint = domain.Fingerprint(fp)
		v.OriginalScores = domain.Scores{Relevance: origRel, Impact: origImp}
		if corrRel != nil && corrImp != nil {
			v.CorrectedScores = &domain.Scores{Relevance: *corrRel, Impact: *corrImp}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) AppendHistory(ctx context.Context, entry domain.HistoryEntry) error {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("encode history changes: %w", err)
	}
	query, args, err := psql.Insert("article_history").
		Columns("fingerprint", "change_type", "changes", "recorded_at").
		Values(entry.Fingerprint.String(), entry.ChangeType, changes, entry.RecordedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build history insert: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (r *PostgresRepository) History(ctx context.Context, fp domain.Fingerprint) ([]domain.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT change_type, changes, recorded_at FROM article_history WHERE fingerprint = $1 ORDER BY recorded_at, id`,
		fp.String())
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		entry := domain.HistoryEntry{Fingerprint: fp}
		var raw []byte
		if err := rows.Scan(&entry.ChangeType, &raw, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if err := json.Unmarshal(raw, &entry.Changes); err != nil {
			return nil, fmt.Errorf("decode history changes: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) SaveDiscovery(ctx context.Context, item domain.DiscoveryItem) error {
	query, args, err := psql.Insert("discoveries").
		Columns("fingerprint", "url", "title", "source_name", "published_at", "keyword_hits", "known", "run_id", "discovered_at").
		Values(item.Fingerprint.String(), item.Candidate.URL, item.Candidate.Title, item.Candidate.SourceName,
			item.Candidate.PublishedAt, nonNil(item.KeywordHits), item.Known, item.RunID, item.DiscoveredAt).
		Suffix(`ON CONFLICT (fingerprint) DO UPDATE SET
            keyword_hits = EXCLUDED.keyword_hits,
            known = EXCLUDED.known,
            run_id = EXCLUDED.run_id,
            discovered_at = EXCLUDED.discovered_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build discovery upsert: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert discovery: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListDiscoveries(ctx context.Context, limit int) ([]domain.DiscoveryItem, error) {
	builder := psql.Select("fingerprint", "url", "title", "source_name", "published_at", "keyword_hits", "known", "run_id", "discovered_at").
		From("discoveries").
		OrderBy("discovered_at DESC", "fingerprint")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build discovery list: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list discoveries: %w", err)
	}
	defer rows.Close()

	var out []domain.DiscoveryItem
	for rows.Next() {
		var (
			item domain.DiscoveryItem
			fp   string
		)
		if err := rows.Scan(&fp, &item.Candidate.URL, &item.Candidate.Title, &item.Candidate.SourceName,
			&item.Candidate.PublishedAt, &item.KeywordHits, &item.Known, &item.RunID, &item.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan discovery: %w", err)
		}
		item.Fingerprint = domain.Fingerprint(fp)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
