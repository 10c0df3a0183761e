package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/sagekit/sage/pkg/config"
	"github.com/sagekit/sage/pkg/errors"
	"github.com/sagekit/sage/pkg/logging"
	"github.com/sagekit/sage/pkg/trace"
)

const (
	defaultSearchEndpoint = "https://lite.duckduckgo.com/lite/"
	searchUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxBackoff            = 30 * time.Second
	snippetFetchWorkers   = 4
	snippetFetchLimit     = 64 * 1024
)

// SearchResult is one hit returned by the search tool.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// WebSearch queries DuckDuckGo's lite HTML interface. Queries are rate
// limited to one per second per instance, and 429 responses back off
// with doubling delays.
type WebSearch struct {
	client        *http.Client
	endpoint      string
	maxResults    int
	fetchSnippets bool

	mu   sync.Mutex
	last time.Time
}

// WebSearchOption configures a WebSearch tool.
type WebSearchOption func(*WebSearch)

// WithSearchEndpoint overrides the search endpoint.
func WithSearchEndpoint(endpoint string) WebSearchOption {
	return func(w *WebSearch) {
		w.endpoint = endpoint
	}
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) WebSearchOption {
	return func(w *WebSearch) {
		w.client = client
	}
}

// NewWebSearch creates a search tool from configuration.
func NewWebSearch(cfg config.ToolsConfig, opts ...WebSearchOption) *WebSearch {
	timeout := cfg.SearchTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxResults := cfg.MaxSearchResults
	if maxResults <= 0 {
		maxResults = 5
	}

	w := &WebSearch{
		client:        &http.Client{Timeout: timeout},
		endpoint:      defaultSearchEndpoint,
		maxResults:    maxResults,
		fetchSnippets: cfg.FetchSnippets,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name implements Tool.
func (w *WebSearch) Name() trace.ToolName {
	return trace.ToolSearch
}

// Execute runs the query and returns the results as numbered text lines.
func (w *WebSearch) Execute(ctx context.Context, input string) (string, error) {
	results, err := w.Search(ctx, input)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", errors.WithFields(
			errors.New(errors.ToolExecutionFailed, "search returned no results"),
			errors.Fields{"query": input},
		)
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Search scrapes the lite HTML page for results.
func (w *WebSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New(errors.InvalidInput, "search query is empty")
	}

	if err := w.waitRateLimit(ctx); err != nil {
		return nil, err
	}

	formData := url.Values{}
	formData.Set("q", query)

	var resp *http.Response
	delay := time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, strings.NewReader(formData.Encode()))
		if err != nil {
			return nil, errors.Wrap(err, errors.ToolExecutionFailed, "failed to build search request")
		}
		req.Header.Set("User-Agent", searchUserAgent)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err = w.client.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, errors.ToolExecutionFailed, "search request failed")
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()

		logging.GetLogger().Warn(ctx, "search rate limited, retrying in %s", delay)
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.Canceled, "search canceled during backoff")
		case <-time.After(delay):
		}
		if delay < maxBackoff {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithFields(
			errors.New(errors.ToolExecutionFailed, "search returned an error status"),
			errors.Fields{"status": resp.StatusCode},
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ToolExecutionFailed, "failed to read search response")
	}

	results := parseResults(string(body), w.maxResults)
	if w.fetchSnippets {
		w.fillSnippets(ctx, results)
	}
	return results, nil
}

// One query per second, waiting out the remainder of the window if the
// previous query was too recent.
func (w *WebSearch) waitRateLimit(ctx context.Context) error {
	w.mu.Lock()
	if wait := time.Until(w.last.Add(time.Second)); wait > 0 {
		w.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.Canceled, "search canceled while rate limited")
		}
		w.mu.Lock()
	}
	w.last = time.Now()
	w.mu.Unlock()
	return nil
}

// fillSnippets fetches result pages concurrently to backfill snippets
// the results page did not carry. Fetch failures leave the snippet
// empty.
func (w *WebSearch) fillSnippets(ctx context.Context, results []SearchResult) {
	p := pool.New().WithMaxGoroutines(snippetFetchWorkers)
	for i := range results {
		if results[i].Snippet != "" {
			continue
		}
		i := i
		p.Go(func() {
			snippet, err := w.fetchSnippet(ctx, results[i].URL)
			if err != nil {
				logging.GetLogger().Debug(ctx, "snippet fetch failed for %s: %v", results[i].URL, err)
				return
			}
			results[i].Snippet = snippet
		})
	}
	p.Wait()
}

func (w *WebSearch) fetchSnippet(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, snippetFetchLimit))
	if err != nil {
		return "", err
	}

	text := cleanHTML(string(body))
	if len(text) > 300 {
		text = text[:300]
	}
	return text, nil
}

var (
	resultLinkPattern    = regexp.MustCompile(`<a[^>]*class=['"]result-link['"][^>]*href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	resultLinkPatternAlt = regexp.MustCompile(`<a[^>]*href=['"]([^'"]+)['"][^>]*class=['"]result-link['"][^>]*>([^<]+)</a>`)
	resultSnippetPattern = regexp.MustCompile(`<td[^>]*class=['"]result-snippet['"][^>]*>([^<]+(?:<[^>]+>[^<]*</[^>]+>)*[^<]*)</td>`)
	anyLinkPattern       = regexp.MustCompile(`<a[^>]+href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	htmlTagPattern       = regexp.MustCompile(`<[^>]+>`)
)

// parseResults extracts results from the lite HTML page, which pairs
// result-link anchors with result-snippet table cells.
func parseResults(html string, limit int) []SearchResult {
	var results []SearchResult

	matches := resultLinkPattern.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		matches = resultLinkPatternAlt.FindAllStringSubmatch(html, -1)
	}
	snippets := resultSnippetPattern.FindAllStringSubmatch(html, -1)

	for i, match := range matches {
		if len(match) < 3 {
			continue
		}

		urlStr := strings.TrimSpace(match[1])
		title := cleanHTML(match[2])
		if urlStr == "" || title == "" {
			continue
		}

		snippet := ""
		if i < len(snippets) && len(snippets[i]) > 1 {
			snippet = cleanHTML(snippets[i][1])
		}

		results = append(results, SearchResult{Title: title, URL: urlStr, Snippet: snippet})
		if len(results) >= limit {
			break
		}
	}

	if len(results) == 0 {
		results = parseAnyLinks(html, limit)
	}
	return results
}

// parseAnyLinks is the fallback when the page layout does not match the
// expected structure: keep external links with plausible titles.
func parseAnyLinks(html string, limit int) []SearchResult {
	var results []SearchResult
	seen := make(map[string]bool)

	for _, match := range anyLinkPattern.FindAllStringSubmatch(html, -1) {
		if len(match) < 3 {
			continue
		}

		urlStr := strings.TrimSpace(match[1])
		title := cleanHTML(match[2])

		if strings.Contains(urlStr, "duckduckgo.com") ||
			strings.HasPrefix(urlStr, "/") ||
			strings.HasPrefix(urlStr, "#") ||
			strings.HasPrefix(urlStr, "javascript:") {
			continue
		}
		if len(title) < 5 || seen[urlStr] {
			continue
		}
		seen[urlStr] = true

		results = append(results, SearchResult{Title: title, URL: urlStr})
		if len(results) >= limit {
			break
		}
	}
	return results
}

func cleanHTML(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}

var _ Tool = (*WebSearch)(nil)
