package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"fundscan/internal/domain"
	"fundscan/internal/scan"
)

// ListingSelectors describe where announcement entries live on a listing page.
type ListingSelectors struct {
	Item    string // one announcement entry
	Title   string // within Item
	Link    string // within Item, href is taken
	Summary string // within Item, optional
}

// HTMLSource scrapes a static announcement listing page with CSS selectors.
// JS-rendered pages are out of scope for this adapter.
type HTMLSource struct {
	name      string
	pageURL   string
	selectors ListingSelectors
	client    *http.Client
}

var _ scan.Source = (*HTMLSource)(nil)

// NewHTMLSource wires a listing-page adapter.
func NewHTMLSource(name, pageURL string, selectors ListingSelectors, client *http.Client) *HTMLSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTMLSource{name: name, pageURL: pageURL, selectors: selectors, client: client}
}

func (s *HTMLSource) Name() string { return s.name }

// Fetch downloads the listing page and extracts one item per matched entry.
func (s *HTMLSource) Fetch(ctx context.Context) ([]domain.NormalizedItem, error) {
	body, err := fetchURL(ctx, s.client, s.pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.pageURL, err)
	}

	base, err := url.Parse(s.pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	var items []domain.NormalizedItem
	doc.Find(s.selectors.Item).Each(func(_ int, entry *goquery.Selection) {
		title := strings.TrimSpace(entry.Find(s.selectors.Title).First().Text())
		href, _ := entry.Find(s.selectors.Link).First().Attr("href")
		link := resolveLink(base, href)
		if title == "" || link == "" {
			return
		}

		text := title
		if s.selectors.Summary != "" {
			if summary := strings.TrimSpace(entry.Find(s.selectors.Summary).First().Text()); summary != "" {
				text = title + "\n\n" + summary
			}
		}

		items = append(items, domain.NormalizedItem{
			Text:      text,
			URL:       link,
			Title:     title,
			SourceTag: s.name,
			SourceID:  link,
		})
	})
	return items, nil
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
