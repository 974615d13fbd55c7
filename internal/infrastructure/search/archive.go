package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/meilisearch/meilisearch-go"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

const (
	defaultIndex     = "articles"
	taskPollInterval = 50 * time.Millisecond
)

// Document is the shape mirrored into Meilisearch. Vectors are not mirrored.
type Document struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	URL            string   `json:"url"`
	Source         string   `json:"source"`
	Summary        string   `json:"summary"`
	Reasoning      string   `json:"reasoning"`
	RelevanceScore int      `json:"relevance_score"`
	ImpactScore    int      `json:"impact_score"`
	Tags           []string `json:"tags"`
	Entities       []string `json:"entities"`
	GoalMatches    []string `json:"goal_matches"`
	Model          string   `json:"model"`
	PublishedAt    int64    `json:"published_at,omitempty"`
	FirstSeenAt    int64    `json:"first_seen_at"`
	StoredAt       int64    `json:"stored_at"`
	NeedsReembed   bool     `json:"needs_reembed"`
}

// MeiliArchive mirrors stored records into a Meilisearch index.
type MeiliArchive struct {
	client meilisearch.ServiceManager
	index  meilisearch.IndexManager
}

var _ ports.Archive = (*MeiliArchive)(nil)

// NewMeiliArchive connects to host; an empty index name uses "articles".
func NewMeiliArchive(host, apiKey, indexName string) *MeiliArchive {
	if indexName == "" {
		indexName = defaultIndex
	}
	client := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))
	return &MeiliArchive{client: client, index: client.Index(indexName)}
}

// Healthy reports whether the server answers its health endpoint.
func (a *MeiliArchive) Healthy() error {
	if _, err := a.client.Health(); err != nil {
		return fmt.Errorf("meilisearch health: %w", err)
	}
	return nil
}

// Persist adds or replaces the document for the record and waits for indexing.
func (a *MeiliArchive) Persist(ctx context.Context, record domain.StoredRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	task, err := a.index.AddDocuments([]Document{ToDocument(record)}, nil)
	if err != nil {
		return fmt.Errorf("archive %s: %w", record.Fingerprint().Short(), err)
	}
	if _, err := a.index.WaitForTask(task.TaskUID, taskPollInterval); err != nil {
		return fmt.Errorf("archive %s: wait for task: %w", record.Fingerprint().Short(), err)
	}
	return nil
}

// List returns up to limit mirrored records, most recently stored first.
func (a *MeiliArchive) List(ctx context.Context, limit int) ([]domain.StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	result, err := a.index.Search("", &meilisearch.SearchRequest{Limit: int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("archive search: %w", err)
	}

	docs, err := decodeHits(result.Hits)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].StoredAt > docs[j].StoredAt })

	records := make([]domain.StoredRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, FromDocument(doc))
	}
	return records, nil
}

// decodeHits goes through JSON so it does not depend on the client's hit representation.
func decodeHits(hits any) ([]Document, error) {
	raw, err := json.Marshal(hits)
	if err != nil {
		return nil, fmt.Errorf("archive hits: %w", err)
	}
	var docs []Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("archive hits: %w", err)
	}
	return docs, nil
}

// ToDocument flattens a record for indexing.
func ToDocument(record domain.StoredRecord) Document {
	a := record.Article
	doc := Document{
		ID:             record.Fingerprint().String(),
		Title:          a.Candidate.Title,
		URL:            a.Candidate.URL,
		Source:         a.Candidate.SourceName,
		Summary:        a.SummaryText,
		Reasoning:      a.RelevanceReasoning,
		RelevanceScore: a.Scores.Relevance,
		ImpactScore:    a.Scores.Impact,
		Tags:           a.TopicTags,
		Entities:       a.KeyEntities,
		GoalMatches:    a.GoalMatches,
		Model:          a.Model,
		FirstSeenAt:    record.FirstSeenAt.Unix(),
		StoredAt:       record.StoredAt.Unix(),
		NeedsReembed:   record.NeedsReembed,
	}
	if a.Candidate.PublishedAt != nil {
		doc.PublishedAt = a.Candidate.PublishedAt.Unix()
	}
	return doc
}

// FromDocument rebuilds the vector-less record view of a document.
func FromDocument(doc Document) domain.StoredRecord {
	candidate := domain.RawCandidate{
		URL:        doc.URL,
		Title:      doc.Title,
		SourceName: doc.Source,
	}
	if doc.PublishedAt != 0 {
		t := time.Unix(doc.PublishedAt, 0).UTC()
		candidate.PublishedAt = &t
	}
	return domain.StoredRecord{
		Article: domain.AnalyzedArticle{
			Candidate:          candidate,
			Fingerprint:        domain.Fingerprint(doc.ID),
			SummaryText:        doc.Summary,
			Scores:             domain.Scores{Relevance: doc.RelevanceScore, Impact: doc.ImpactScore},
			RelevanceReasoning: doc.Reasoning,
			KeyEntities:        doc.Entities,
			TopicTags:          doc.Tags,
			GoalMatches:        doc.GoalMatches,
			Model:              doc.Model,
		},
		NeedsReembed: doc.NeedsReembed,
		FirstSeenAt:  time.Unix(doc.FirstSeenAt, 0).UTC(),
		StoredAt:     time.Unix(doc.StoredAt, 0).UTC(),
	}
}
