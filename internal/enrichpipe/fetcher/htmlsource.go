package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/article"
	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/credential"
)

const fetchTimeout = 15 * time.Second

var articleNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// ItemSelector names the CSS selectors an HTMLSource uses to extract a
// listing page's items; each publisher's section index page has a
// different markup shape but the same title/link/abstract/image
// extraction.
type ItemSelector struct {
	ListingURL string
	Item       string // selector for each item container
	Title      string // selector for title, relative to Item
	Link       string // selector for link, relative to Item (href attr)
	Abstract   string // selector for dek/summary, relative to Item
	Image      string // selector for thumbnail img, relative to Item (src attr)
}

// HTMLSource pulls a section's listing page over HTTP and extracts
// items via goquery, rotating through a publisher credential pool for
// the request.
type HTMLSource struct {
	Selector   ItemSelector
	Source     string
	Credential *credential.Pool
	client     *http.Client
}

func NewHTMLSource(selector ItemSelector, sourceName string, pool *credential.Pool) *HTMLSource {
	return &HTMLSource{
		Selector:   selector,
		Source:     sourceName,
		Credential: pool,
		client:     &http.Client{Timeout: fetchTimeout},
	}
}

func (s *HTMLSource) Fetch(ctx context.Context, section string, max int) ([]article.Article, error) {
	var body []byte
	_, err := s.Credential.Dispatch(ctx, func(ctx context.Context, secret string) (int64, error) {
		b, ferr := s.fetchOnce(ctx, secret)
		if ferr != nil {
			return 0, ferr
		}
		body = b
		return 1, nil
	})
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytesReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	var items []article.Article
	doc.Find(s.Selector.Item).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if len(items) >= max {
			return false
		}
		title := text(sel, s.Selector.Title)
		link := attr(sel, s.Selector.Link, "href")
		if title == "" || link == "" {
			return true
		}
		items = append(items, article.Article{
			ID:            uuid.NewSHA1(articleNamespace, []byte(link)).String(),
			Title:         title,
			Abstract:      text(sel, s.Selector.Abstract),
			URL:           link,
			ImageURL:      attr(sel, s.Selector.Image, "src"),
			Source:        s.Source,
			Section:       section,
			PublishedDate: time.Now(),
		})
		return true
	})
	return items, nil
}

func (s *HTMLSource) fetchOnce(ctx context.Context, secret string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Selector.ListingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build listing request: %w", err)
	}
	req.Header.Set("User-Agent", "WebstorybackendEnrichmentFetcher/1.0")
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing page returned status %d", resp.StatusCode)
	}
	return readAll(resp.Body)
}

func text(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return trimmed(sel.Text())
	}
	return trimmed(sel.Find(selector).First().Text())
}

func attr(sel *goquery.Selection, selector, name string) string {
	target := sel
	if selector != "" {
		target = sel.Find(selector).First()
	}
	v, _ := target.Attr(name)
	return v
}
