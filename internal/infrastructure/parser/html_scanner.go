package parser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/scanner"
)

var dateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

// Selectors locate article fields on a listing page.
type Selectors struct {
	Item    string
	Link    string
	Title   string
	Summary string
	Date    string
}

func selectorsFrom(options map[string]string) Selectors {
	s := Selectors{
		Item:    "article",
		Link:    "a[href]",
		Title:   "h2, h3",
		Summary: "p",
		Date:    "time",
	}
	if v := options["item"]; v != "" {
		s.Item = v
	}
	if v := options["link"]; v != "" {
		s.Link = v
	}
	if v := options["title"]; v != "" {
		s.Title = v
	}
	if v := options["summary"]; v != "" {
		s.Summary = v
	}
	if v := options["date"]; v != "" {
		s.Date = v
	}
	return s
}

// HTMLScanner crawls listing pages with CSS selectors taken from source options.
// Pagination uses skip/show query parameters when page_size is set.
type HTMLScanner struct {
	client *http.Client
}

// NewHTMLScanner wires an HTTP client; a nil client gets a 20s timeout.
func NewHTMLScanner(client *http.Client) *HTMLScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTMLScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (h *HTMLScanner) Name() string {
	return "html"
}

// Scan walks every listing URL and returns the entries it can parse.
func (h *HTMLScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.RawCandidate, error) {
	if len(req.Feeds) == 0 {
		return nil, fmt.Errorf("no listing pages provided for source %s", req.SiteName)
	}

	sel := selectorsFrom(req.Options)
	pageSize, _ := strconv.Atoi(req.Options["page_size"])
	maxPages := 1
	if v, err := strconv.Atoi(req.Options["max_pages"]); err == nil && v > 0 {
		maxPages = v
	}

	var (
		results []domain.RawCandidate
		errs    []error
		seen    = map[string]struct{}{}
	)
	for _, feed := range req.Feeds {
		for page := 0; page < maxPages; page++ {
			pageURL := feed.URL
			if pageSize > 0 {
				var err error
				pageURL, err = buildPageURL(feed.URL, page*pageSize, pageSize)
				if err != nil {
					errs = append(errs, fmt.Errorf("listing %s: %w", feed.Name, err))
					break
				}
			}

			doc, err := h.fetchDocument(ctx, pageURL)
			if err != nil {
				errs = append(errs, fmt.Errorf("listing %s: %w", feed.Name, err))
				break
			}

			entries, processed := extractEntries(doc, sel, pageURL, req.SiteName, req.Now)
			for _, entry := range entries {
				if _, ok := seen[entry.URL]; ok {
					continue
				}
				seen[entry.URL] = struct{}{}
				results = append(results, entry)
			}

			if pageSize <= 0 || processed < pageSize {
				break
			}
		}
	}

	return results, errors.Join(errs...)
}

func (h *HTMLScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	resp, err := fetch(ctx, h.client, pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func extractEntries(doc *goquery.Document, sel Selectors, pageURL, source string, now time.Time) ([]domain.RawCandidate, int) {
	base, _ := url.Parse(pageURL)

	var (
		collected []domain.RawCandidate
		processed int
	)
	doc.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
		processed++
		if entry, ok := parseEntry(item, sel, base, source, now); ok {
			collected = append(collected, entry)
		}
	})
	return collected, processed
}

func parseEntry(item *goquery.Selection, sel Selectors, base *url.URL, source string, now time.Time) (domain.RawCandidate, bool) {
	link := item.Find(sel.Link).First()
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return domain.RawCandidate{}, false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return domain.RawCandidate{}, false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}

	title := collapse(item.Find(sel.Title).First().Text())
	if title == "" {
		title = collapse(link.Text())
	}
	if title == "" {
		return domain.RawCandidate{}, false
	}

	return domain.RawCandidate{
		URL:         ref.String(),
		Title:       title,
		RawText:     collapse(item.Find(sel.Summary).First().Text()),
		SourceName:  source,
		PublishedAt: parseDate(item.Find(sel.Date).First()),
		FetchedAt:   now,
	}, true
}

func parseDate(node *goquery.Selection) *time.Time {
	if node.Length() == 0 {
		return nil
	}
	if v, ok := node.Attr("datetime"); ok {
		if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(v)); err == nil {
			t := parsed.UTC()
			return &t
		}
	}
	match := dateExpr.FindString(node.Text())
	if match == "" {
		return nil
	}
	parsed, err := time.Parse("2 Jan 2006", match)
	if err != nil {
		return nil
	}
	return &parsed
}

func buildPageURL(base string, skip, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid listing url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
