package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const (
	// webContentLimit caps how much page text the model sees.
	webContentLimit = 5000
	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 10 << 20

	webRequestTimeout = 30 * time.Second
	maxRedirects      = 10
	maxSearchResults  = 5

	defaultSearchURL = "https://api.duckduckgo.com/"
	webUserAgent     = "Mozilla/5.0 (compatible; aicore/1.0)"
)

// WebToolConfig configures the web_search tool.
type WebToolConfig struct {
	SearchURL string       // instant-answer endpoint (default: DuckDuckGo)
	Client    *http.Client // override for tests

	// AllowPrivateHosts disables the private-address guard on fetched
	// URLs. Tests only.
	AllowPrivateHosts bool
}

// WebTool searches the web and fetches pages on behalf of the model.
// Fetched URLs come from model output, so they are validated against
// loopback, private, and cloud-metadata addresses before any request.
type WebTool struct {
	searchURL    string
	client       *http.Client
	allowPrivate bool
	logger       *slog.Logger
}

// NewWebTool creates the web_search tool.
func NewWebTool(cfg WebToolConfig, logger *slog.Logger) *WebTool {
	if cfg.SearchURL == "" {
		cfg.SearchURL = defaultSearchURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{
			Timeout: webRequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebTool{
		searchURL:    cfg.SearchURL,
		client:       cfg.Client,
		allowPrivate: cfg.AllowPrivateHosts,
		logger:       logger,
	}
}

// Definition implements Tool.
func (t *WebTool) Definition() Definition {
	return Definition{
		Name:        "web_search",
		Description: "Search the web for current information, or fetch a web page and extract its readable text. Use the search action for questions about recent events or topics outside the knowledge base.",
		Parameters: Parameters{
			Type: "object",
			Properties: map[string]Property{
				"action": {
					Type:        "string",
					Description: "The action to perform: search or fetch_page",
				},
				"query": {
					Type:        "string",
					Description: "Search query (for the search action)",
				},
				"url": {
					Type:        "string",
					Description: "URL to fetch (for the fetch_page action)",
				},
				"limit": {
					Type:        "number",
					Description: "Maximum number of search results (default: 5)",
					Default:     5,
				},
			},
			Required: []string{"action"},
		},
	}
}

// Execute implements Tool.
func (t *WebTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	switch action := StringArg(args, "action", ""); action {
	case "search":
		query := StringArg(args, "query", "")
		if query == "" {
			return ErrorResult("query is required for search"), nil
		}
		return t.search(ctx, query, IntArg(args, "limit", maxSearchResults))
	case "fetch_page":
		pageURL := StringArg(args, "url", "")
		if pageURL == "" {
			return ErrorResult("url is required for fetch_page"), nil
		}
		return t.fetchPage(ctx, pageURL)
	case "":
		return ErrorResult("action is required"), nil
	default:
		return ErrorResult(fmt.Sprintf("unknown action: %s", action)), nil
	}
}

// instantAnswer is the subset of the DuckDuckGo instant-answer response the
// tool consumes.
type instantAnswer struct {
	Heading        string `json:"Heading"`
	Abstract       string `json:"Abstract"`
	AbstractURL    string `json:"AbstractURL"`
	AbstractSource string `json:"AbstractSource"`
	RelatedTopics  []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

func (t *WebTool) search(ctx context.Context, query string, limit int) (Result, error) {
	if limit <= 0 || limit > maxSearchResults {
		limit = maxSearchResults
	}

	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}
	body, _, err := t.get(ctx, t.searchURL+"?"+params.Encode())
	if err != nil {
		t.logger.Warn("web search failed", "query", query, "error", err)
		return ErrorResult(err.Error()), nil
	}

	var answer instantAnswer
	if err := json.Unmarshal(body, &answer); err != nil {
		return ErrorResult(fmt.Sprintf("decoding search response: %v", err)), nil
	}

	var results []map[string]any
	if answer.Abstract != "" {
		title := answer.Heading
		if title == "" {
			title = "Summary"
		}
		results = append(results, map[string]any{
			"title":   title,
			"snippet": answer.Abstract,
			"url":     answer.AbstractURL,
			"source":  answer.AbstractSource,
		})
	}
	for _, topic := range answer.RelatedTopics {
		if len(results) >= limit {
			break
		}
		if topic.Text == "" {
			continue
		}
		title, _, _ := strings.Cut(topic.Text, " - ")
		results = append(results, map[string]any{
			"title":   title,
			"snippet": topic.Text,
			"url":     topic.FirstURL,
		})
	}

	t.logger.Debug("web search completed", "query", query, "results", len(results))
	return Result{
		"success": true,
		"query":   query,
		"count":   len(results),
		"results": results,
	}, nil
}

func (t *WebTool) fetchPage(ctx context.Context, pageURL string) (Result, error) {
	parsed, err := t.validateURL(pageURL)
	if err != nil {
		t.logger.Warn("fetch_page rejected", "url", pageURL, "error", err)
		return ErrorResult(err.Error()), nil
	}

	body, status, err := t.get(ctx, pageURL)
	if err != nil {
		t.logger.Warn("fetch_page failed", "url", pageURL, "error", err)
		return ErrorResult(err.Error()), nil
	}
	if status < 200 || status >= 300 {
		return ErrorResult(fmt.Sprintf("failed to fetch: status %d", status)), nil
	}

	title, text := extractReadable(body, parsed)
	if len(text) > webContentLimit {
		text = text[:webContentLimit]
	}

	t.logger.Debug("fetch_page completed", "url", pageURL, "content_length", len(text))
	return Result{
		"success": true,
		"url":     pageURL,
		"title":   title,
		"content": text,
	}, nil
}

// get issues a GET with the shared client and returns the size-bounded body.
func (t *WebTool) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, 0, fmt.Errorf("response size exceeds limit (max %d MB)", maxResponseBytes/(1<<20))
	}
	return body, resp.StatusCode, nil
}

// validateURL guards fetch targets against loopback, private, link-local,
// and cloud-metadata addresses.
func (t *WebTool) validateURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return nil, errors.New("url has no host")
	}
	if t.allowPrivate {
		return parsed, nil
	}

	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") ||
		lower == "metadata.google.internal" {
		return nil, fmt.Errorf("blocked host %q", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return nil, fmt.Errorf("blocked address %q", host)
		}
	}
	return parsed, nil
}

// extractReadable pulls the article text out of an HTML page, preferring
// readability extraction and falling back to a plain goquery text dump when
// the page has no extractable article.
func extractReadable(body []byte, pageURL *url.URL) (title, text string) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.Title, collapseWhitespace(article.TextContent)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}
	title = doc.Find("title").First().Text()
	doc.Find("script,style,noscript").Remove()
	return title, collapseWhitespace(doc.Find("body").Text())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
