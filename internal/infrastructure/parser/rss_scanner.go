package parser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/scanner"
)

const defaultMaxItems = 50

// RSSScanner reads RSS, Atom and JSON feeds.
type RSSScanner struct {
	client *http.Client
}

// NewRSSScanner wires an HTTP client; a nil client gets a 20s timeout.
func NewRSSScanner(client *http.Client) *RSSScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &RSSScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (r *RSSScanner) Name() string {
	return "rss"
}

// Scan fetches every feed of the source. Candidates from healthy feeds are
// returned together with the joined errors of the failing ones.
func (r *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.RawCandidate, error) {
	if len(req.Feeds) == 0 {
		return nil, fmt.Errorf("no feeds provided for source %s", req.SiteName)
	}

	maxItems := defaultMaxItems
	if v, err := strconv.Atoi(req.Options["max_items"]); err == nil && v > 0 {
		maxItems = v
	}

	var (
		results []domain.RawCandidate
		errs    []error
	)
	for _, feed := range req.Feeds {
		items, err := r.scanFeed(ctx, feed, req, maxItems)
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.Name, err))
			continue
		}
		results = append(results, items...)
	}
	return results, errors.Join(errs...)
}

func (r *RSSScanner) scanFeed(ctx context.Context, feed scanner.Feed, req scanner.Request, maxItems int) ([]domain.RawCandidate, error) {
	resp, err := fetch(ctx, r.client, feed.URL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	source := req.SiteName
	if feed.Name != "" && feed.Name != req.SiteName {
		source = req.SiteName + "/" + feed.Name
	}

	out := make([]domain.RawCandidate, 0, min(len(parsed.Items), maxItems))
	for _, item := range parsed.Items {
		if len(out) == maxItems {
			break
		}
		candidate, ok := candidateFromItem(item, source, req.Now)
		if !ok {
			continue
		}
		out = append(out, candidate)
	}
	return out, nil
}

func candidateFromItem(item *gofeed.Item, source string, fetchedAt time.Time) (domain.RawCandidate, bool) {
	if item == nil {
		return domain.RawCandidate{}, false
	}
	link := strings.TrimSpace(item.Link)
	if link == "" && len(item.Links) > 0 {
		link = strings.TrimSpace(item.Links[0])
	}
	title := collapse(item.Title)
	if link == "" || title == "" {
		return domain.RawCandidate{}, false
	}

	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}

	published := item.PublishedParsed
	if published == nil {
		published = item.UpdatedParsed
	}
	if published != nil {
		t := published.UTC()
		published = &t
	}

	return domain.RawCandidate{
		URL:         link,
		Title:       title,
		RawText:     PlainText(body),
		SourceName:  source,
		PublishedAt: published,
		FetchedAt:   fetchedAt,
	}, true
}
