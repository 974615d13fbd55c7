// Package alertlog stores alert events as JSON lines.
package alertlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gofrs/flock"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

// FileLog appends one JSON object per line. A sibling .lock file guards appends
// against other processes sharing the same log.
type FileLog struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

var _ ports.AlertLog = (*FileLog)(nil)

// NewFileLog prepares the log directory.
func NewFileLog(path string) (*FileLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create alert log dir: %w", err)
		}
	}
	return &FileLog{path: path, lock: flock.New(path + ".lock")}, nil
}

func (l *FileLog) Append(ctx context.Context, event domain.AlertEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode alert event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("lock alert log: %w", err)
	}
	defer func() { _ = l.lock.Unlock() }()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open alert log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write alert log: %w", err)
	}
	return f.Close()
}

// List returns the newest events first. A non-positive limit returns everything.
func (l *FileLog) List(ctx context.Context, limit int) ([]domain.AlertEvent, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open alert log: %w", err)
	}
	defer f.Close()

	var events []domain.AlertEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev domain.AlertEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			// a torn trailing line from a crashed writer is skipped
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read alert log: %w", err)
	}
	return newestFirst(events, limit), nil
}

func newestFirst(events []domain.AlertEvent, limit int) []domain.AlertEvent {
	slices.Reverse(events)
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

// MemoryLog keeps events in memory.
type MemoryLog struct {
	mu     sync.Mutex
	events []domain.AlertEvent
}

var _ ports.AlertLog = (*MemoryLog)(nil)

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Append(_ context.Context, event domain.AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryLog) List(_ context.Context, limit int) ([]domain.AlertEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newestFirst(slices.Clone(m.events), limit), nil
}
