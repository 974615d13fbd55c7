package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/crypto-morph/newsfinder/internal/scanner"
)

func TestBuildPageURL(t *testing.T) {
	t.Parallel()

	base := "https://news.example.com/list?section=health"
	u, err := buildPageURL(base, 200, 100)
	if err != nil {
		t.Fatalf("buildPageURL returned error: %v", err)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}

	q := parsed.Query()
	if q.Get("skip") != "200" || q.Get("show") != "100" || q.Get("section") != "health" {
		t.Fatalf("unexpected query %s", parsed.RawQuery)
	}
}

func TestParseEntry(t *testing.T) {
	t.Parallel()

	html := `
	<section>
	  <article>
	    <h2>Sample Title</h2>
	    <a href="/story/1">read</a>
	    <p>Sample summary text.</p>
	    <time>Date: 8 Nov 2025</time>
	  </article>
	</section>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	base, _ := url.Parse("https://news.example.com/list")

	entry, ok := parseEntry(doc.Find("article").First(), selectorsFrom(nil), base, "example", testNow)
	if !ok {
		t.Fatal("expected entry")
	}
	if entry.URL != "https://news.example.com/story/1" {
		t.Fatalf("unexpected url %s", entry.URL)
	}
	if entry.Title != "Sample Title" || entry.RawText != "Sample summary text." {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.PublishedAt == nil || entry.PublishedAt.Format("2006-01-02") != "2025-11-08" {
		t.Fatalf("unexpected published %v", entry.PublishedAt)
	}
}

func TestHTMLScannerPagination(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("skip") {
		case "0":
			_, _ = w.Write([]byte(`<li class="row"><a class="t" href="/a">A</a></li><li class="row"><a class="t" href="/b">B</a></li>`))
		case "2":
			_, _ = w.Write([]byte(`<li class="row"><a class="t" href="/a">A again</a></li>`))
		default:
			t.Errorf("unexpected page %s", r.URL.RawQuery)
		}
	}))
	defer server.Close()

	got, err := NewHTMLScanner(server.Client()).Scan(context.Background(), scanner.Request{
		Now:      testNow,
		SiteName: "example",
		Feeds:    []scanner.Feed{{Name: "list", URL: server.URL}},
		Options: map[string]string{
			"item":      "li.row",
			"link":      "a.t",
			"title":     "a.t",
			"page_size": "2",
			"max_pages": "5",
		},
	})
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 unique entries, got %+v", got)
	}
	if got[0].URL != server.URL+"/a" || got[1].Title != "B" {
		t.Fatalf("unexpected entries %+v", got)
	}
}
