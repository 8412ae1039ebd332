package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fundscan/internal/domain"
	"fundscan/internal/scan"
)

const userAgent = "fundscan/1.0"

// maxFeedBytes bounds how much of a feed response is read.
const maxFeedBytes = 4 << 20

// FeedSource ingests an RSS 2.0 or Atom feed of funding announcements.
type FeedSource struct {
	name   string
	url    string
	client *http.Client
}

var _ scan.Source = (*FeedSource)(nil)

// NewFeedSource wires a feed adapter; a nil client gets a default with a
// request timeout.
func NewFeedSource(name, url string, client *http.Client) *FeedSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FeedSource{name: name, url: url, client: client}
}

func (s *FeedSource) Name() string { return s.name }

// Fetch downloads and parses the feed. An empty feed is success.
func (s *FeedSource) Fetch(ctx context.Context) ([]domain.NormalizedItem, error) {
	body, err := fetchURL(ctx, s.client, s.url)
	if err != nil {
		return nil, err
	}

	entries, err := parseFeed(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", s.url, err)
	}

	items := make([]domain.NormalizedItem, 0, len(entries))
	for _, e := range entries {
		if e.link == "" {
			continue
		}
		text := strings.TrimSpace(e.title)
		if desc := strings.TrimSpace(e.description); desc != "" {
			text = text + "\n\n" + desc
		}
		items = append(items, domain.NormalizedItem{
			Text:        text,
			URL:         e.link,
			Title:       strings.TrimSpace(e.title),
			PublishedAt: e.published,
			SourceTag:   s.name,
			SourceID:    e.id(),
		})
	}
	return items, nil
}

// fetchURL GETs a URL, classifying rate limits and upstream 5xx as transient
// so the orchestrator's retry policy applies.
func fetchURL(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s returned %s: %w", url, resp.Status, scan.ErrTransient)
	default:
		return nil, fmt.Errorf("%s returned %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}

type feedEntry struct {
	title       string
	link        string
	description string
	guid        string
	published   *time.Time
}

func (e feedEntry) id() string {
	if e.guid != "" {
		return e.guid
	}
	return e.link
}

type rssDoc struct {
	XMLName xml.Name `xml:"rss"`
	Items   []struct {
		Title       string `xml:"title"`
		Link        string `xml:"link"`
		Description string `xml:"description"`
		GUID        string `xml:"guid"`
		PubDate     string `xml:"pubDate"`
	} `xml:"channel>item"`
}

type atomDoc struct {
	XMLName xml.Name `xml:"feed"`
	Entries []struct {
		Title   string `xml:"title"`
		ID      string `xml:"id"`
		Updated string `xml:"updated"`
		Summary string `xml:"summary"`
		Links   []struct {
			Rel  string `xml:"rel,attr"`
			Href string `xml:"href,attr"`
		} `xml:"link"`
	} `xml:"entry"`
}

func parseFeed(body []byte) ([]feedEntry, error) {
	// Unmarshal enforces the root element name, so success here means the
	// document really is RSS, even with zero items.
	var rss rssDoc
	if err := xml.Unmarshal(body, &rss); err == nil {
		entries := make([]feedEntry, 0, len(rss.Items))
		for _, it := range rss.Items {
			entries = append(entries, feedEntry{
				title:       it.Title,
				link:        strings.TrimSpace(it.Link),
				description: it.Description,
				guid:        it.GUID,
				published:   parseFeedTime(it.PubDate),
			})
		}
		return entries, nil
	}

	var atom atomDoc
	if err := xml.Unmarshal(body, &atom); err != nil {
		return nil, err
	}
	entries := make([]feedEntry, 0, len(atom.Entries))
	for _, e := range atom.Entries {
		link := ""
		for _, l := range e.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		entries = append(entries, feedEntry{
			title:       e.Title,
			link:        strings.TrimSpace(link),
			description: e.Summary,
			guid:        e.ID,
			published:   parseFeedTime(e.Updated),
		})
	}
	return entries, nil
}

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02",
}

func parseFeedTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
