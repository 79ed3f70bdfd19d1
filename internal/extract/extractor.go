// Package extract fetches page metadata used to prefill new bookmarks.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Metadata is what could be scraped from a page. Absent values stay
// zero; extraction is best effort and never blocks a bookmark from being
// created.
type Metadata struct {
	Title       string
	Author      string
	PublishDate *time.Time
}

// Extractor resolves metadata for a URL.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (Metadata, error)
}

// maxBodyBytes caps how much of a page is read. Metadata lives in the
// head, so a partial read is fine.
const maxBodyBytes = 128 << 10

// HTTPExtractor fetches the page and parses title, author and publish
// date out of the HTML head.
type HTTPExtractor struct {
	Client *http.Client
}

// NewHTTPExtractor returns an extractor with a bounded-timeout client.
func NewHTTPExtractor() *HTTPExtractor {
	return &HTTPExtractor{
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (e *HTTPExtractor) Extract(ctx context.Context, rawURL string) (Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Metadata{}, err
	}
	req.Header.Set("User-Agent", "automark/1.0")

	resp, err := e.Client.Do(req)
	if err != nil {
		return Metadata{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Metadata{}, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return fromDocument(doc), nil
}

func fromDocument(doc *html.Node) Metadata {
	var md Metadata
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if md.Title == "" && n.FirstChild != nil {
					md.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				handleMeta(n, &md)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return md
}

func handleMeta(n *html.Node, md *Metadata) {
	var name, property, content string
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "name":
			name = strings.ToLower(a.Val)
		case "property":
			property = strings.ToLower(a.Val)
		case "content":
			content = strings.TrimSpace(a.Val)
		}
	}
	if content == "" {
		return
	}
	switch {
	case property == "og:title" && md.Title == "":
		md.Title = content
	case name == "author" || property == "article:author":
		if md.Author == "" {
			md.Author = content
		}
	case property == "article:published_time" || name == "date":
		if md.PublishDate == nil {
			if t, ok := parseDate(content); ok {
				md.PublishDate = &t
			}
		}
	}
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Static is a test double returning fixed metadata.
type Static struct {
	Metadata Metadata
	Err      error
}

func (s *Static) Extract(ctx context.Context, rawURL string) (Metadata, error) {
	return s.Metadata, s.Err
}
