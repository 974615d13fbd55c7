// Package memstore is an in-process knowledge store used for local runs and tests.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

// Store keeps records, verdicts, history and discoveries in maps.
type Store struct {
	mu          sync.RWMutex
	records     map[domain.Fingerprint]domain.StoredRecord
	verdicts    []domain.VerificationVerdict
	corrections []domain.ScoreCorrection
	history     []domain.HistoryEntry
	discoveries map[domain.Fingerprint]domain.DiscoveryItem
	now         func() time.Time
}

var (
	_ ports.KnowledgeStore = (*Store)(nil)
	_ ports.VerdictStore   = (*Store)(nil)
	_ ports.HistoryStore   = (*Store)(nil)
	_ ports.DiscoveryStore = (*Store)(nil)
)

func New() *Store {
	return &Store{
		records:     map[domain.Fingerprint]domain.StoredRecord{},
		discoveries: map[domain.Fingerprint]domain.DiscoveryItem{},
		now:         time.Now,
	}
}

// Upsert inserts or replaces a record, keeping the original FirstSeenAt.
func (s *Store) Upsert(_ context.Context, record domain.StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if prev, ok := s.records[record.Fingerprint()]; ok && !prev.FirstSeenAt.IsZero() {
		record.FirstSeenAt = prev.FirstSeenAt
	}
	if record.FirstSeenAt.IsZero() {
		record.FirstSeenAt = now
	}
	record.StoredAt = now
	record.Embedding = slices.Clone(record.Embedding)
	s.records[record.Fingerprint()] = record
	return nil
}

func (s *Store) Exists(_ context.Context, fp domain.Fingerprint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[fp]
	return ok, nil
}

func (s *Store) AlreadyStored(_ context.Context, fps []domain.Fingerprint) (map[domain.Fingerprint]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[domain.Fingerprint]bool)
	for _, fp := range fps {
		if _, ok := s.records[fp]; ok {
			result[fp] = true
		}
	}
	return result, nil
}

func (s *Store) Get(_ context.Context, fp domain.Fingerprint) (*domain.StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[fp]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]domain.StoredRecord, error) {
	return s.list(limit, func(domain.StoredRecord) bool { return true }), nil
}

func (s *Store) ListNeedingEmbedding(_ context.Context, limit int) ([]domain.StoredRecord, error) {
	return s.list(limit, func(r domain.StoredRecord) bool { return r.NeedsReembed || !r.HasVector() }), nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) list(limit int, keep func(domain.StoredRecord) bool) []domain.StoredRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StoredRecord, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b domain.StoredRecord) int {
		if c := b.StoredAt.Compare(a.StoredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Fingerprint(), b.Fingerprint())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) AppendVerdict(_ context.Context, verdict domain.VerificationVerdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts = append(s.verdicts, verdict)
	return nil
}

func (s *Store) AppendCorrection(_ context.Context, correction domain.ScoreCorrection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrections = append(s.corrections, correction)
	return nil
}

// Corrections returns every stored score correction in insertion order.
func (s *Store) Corrections() []domain.ScoreCorrection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.corrections)
}

func (s *Store) ListVerdicts(_ context.Context, fp domain.Fingerprint) ([]domain.VerificationVerdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.VerificationVerdict
	for _, v := range s.verdicts {
		if v.Fingerprint == fp {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) ListRecentVerdicts(_ context.Context, limit int) ([]domain.VerificationVerdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.verdicts)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendHistory(_ context.Context, entry domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

func (s *Store) History(_ context.Context, fp domain.Fingerprint) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.HistoryEntry
	for _, h := range s.history {
		if h.Fingerprint == fp {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *Store) SaveDiscovery(_ context.Context, item domain.DiscoveryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discoveries[item.Fingerprint] = item
	return nil
}

func (s *Store) ListDiscoveries(_ context.Context, limit int) ([]domain.DiscoveryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DiscoveryItem, 0, len(s.discoveries))
	for _, d := range s.discoveries {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b domain.DiscoveryItem) int {
		if c := b.DiscoveredAt.Compare(a.DiscoveredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Fingerprint, b.Fingerprint)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
