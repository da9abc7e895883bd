// Package tools holds the built-in local capabilities compiled into the
// engine: arXiv paper search, the vector memory, and repository sync.
// Drop-in extensions complement these at runtime; built-ins go through
// the same Guardian admission.
package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"piebrain/internal/capability"
	"piebrain/internal/config"
	"piebrain/internal/guardian"
)

const (
	arxivName       = "arxiv-search"
	summaryTruncate = 400
)

// Arxiv searches the arXiv Atom API and writes a Markdown digest of the
// matching papers to the inbox.
type Arxiv struct {
	client     *http.Client
	baseURL    string
	maxResults int
	log        *zap.Logger
}

func NewArxiv(cfg config.ArxivConfig, log *zap.Logger) *Arxiv {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://export.arxiv.org/api/query"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Arxiv{
		client:     &http.Client{Timeout: 30 * time.Second},
		baseURL:    cfg.BaseURL,
		maxResults: cfg.MaxResults,
		log:        log,
	}
}

func (a *Arxiv) Name() string { return arxivName }

func (a *Arxiv) Run(ctx context.Context, params map[string]string, artifacts *capability.ArtifactWriter) (string, error) {
	if capability.IsProbe(params) {
		return artifacts.Write(arxivName, "# arXiv search\n\n_Probe run; no query issued._\n")
	}

	query := params["query"]
	if query == "" {
		return "", fmt.Errorf("arxiv search requires a query param")
	}
	max := a.maxResults
	if raw := params["max_results"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return "", fmt.Errorf("invalid max_results %q", raw)
		}
		if n > 50 {
			n = 50
		}
		max = n
	}

	feed, err := a.fetch(ctx, query, max)
	if err != nil {
		return "", err
	}

	a.log.Info("arxiv search complete",
		zap.String("query", query),
		zap.Int("papers", len(feed.Entries)))
	return artifacts.Write(arxivName, formatPapers(query, feed.Entries))
}

// Command renders the equivalent standalone fetch for detached runs.
func (a *Arxiv) Command(params map[string]string) (string, error) {
	query := params["query"]
	if query == "" {
		return "", fmt.Errorf("arxiv search requires a query param")
	}
	return "curl -s " + guardian.Quote(a.queryURL(query, a.maxResults)), nil
}

func (a *Arxiv) queryURL(query string, max int) string {
	v := url.Values{}
	v.Set("search_query", query)
	v.Set("max_results", strconv.Itoa(max))
	v.Set("sortBy", "relevance")
	return a.baseURL + "?" + v.Encode()
}

func (a *Arxiv) fetch(ctx context.Context, query string, max int) (*atomFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.queryURL(query, max), nil)
	if err != nil {
		return nil, fmt.Errorf("build arxiv request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv api returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read arxiv response: %w", err)
	}
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parse arxiv feed: %w", err)
	}
	return &feed, nil
}

// Atom subset the digest needs.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Summary    string         `xml:"summary"`
	Published  string         `xml:"published"`
	Authors    []atomAuthor   `xml:"author"`
	Links      []atomLink     `xml:"link"`
	Categories []atomCategory `xml:"category"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

func formatPapers(query string, entries []atomEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# arXiv: %s\n\n", query)

	if len(entries) == 0 {
		b.WriteString("_No papers found._\n")
		return b.String()
	}
	fmt.Fprintf(&b, "_%d paper(s)_\n\n", len(entries))

	for i, e := range entries {
		shortID := shortEntryID(e.ID)
		fmt.Fprintf(&b, "## %d. %s\n", i+1, collapseSpace(e.Title))
		fmt.Fprintf(&b, "**ID:** `%s`  \n", shortID)
		fmt.Fprintf(&b, "**Authors:** %s  \n", formatAuthors(e.Authors))
		if len(e.Published) >= 10 {
			fmt.Fprintf(&b, "**Published:** %s  \n", e.Published[:10])
		}
		if terms := formatCategories(e.Categories); terms != "" {
			fmt.Fprintf(&b, "**Categories:** %s  \n", terms)
		}
		fmt.Fprintf(&b, "[Abstract](https://arxiv.org/abs/%s) | [PDF](%s)\n\n", shortID, pdfLink(e, shortID))

		summary := collapseSpace(e.Summary)
		if r := []rune(summary); len(r) > summaryTruncate {
			summary = string(r[:summaryTruncate]) + "…"
		}
		fmt.Fprintf(&b, "> %s\n\n---\n\n", summary)
	}
	return b.String()
}

func shortEntryID(entryID string) string {
	if idx := strings.LastIndex(entryID, "/abs/"); idx >= 0 {
		return entryID[idx+len("/abs/"):]
	}
	return entryID
}

func formatAuthors(authors []atomAuthor) string {
	names := make([]string, 0, 3)
	for _, a := range authors {
		if len(names) == 3 {
			return strings.Join(names, ", ") + " et al."
		}
		names = append(names, a.Name)
	}
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, ", ")
}

func formatCategories(cats []atomCategory) string {
	terms := make([]string, 0, 3)
	for _, c := range cats {
		if len(terms) == 3 {
			break
		}
		if c.Term != "" {
			terms = append(terms, c.Term)
		}
	}
	return strings.Join(terms, ", ")
}

func pdfLink(e atomEntry, shortID string) string {
	for _, l := range e.Links {
		if l.Title == "pdf" && l.Href != "" {
			return l.Href
		}
	}
	return "https://arxiv.org/pdf/" + shortID
}

// collapseSpace flattens the newline-wrapped text arXiv returns.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
