package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicore/internal/log"
)

func TestWebTool_Search(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "go programming", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		fmt.Fprint(w, `{
			"Heading": "Go",
			"Abstract": "Go is a statically typed language.",
			"AbstractURL": "https://example.com/go",
			"AbstractSource": "Example",
			"RelatedTopics": [
				{"Text": "Goroutines - lightweight threads", "FirstURL": "https://example.com/goroutines"},
				{"Text": "Channels - typed conduits", "FirstURL": "https://example.com/channels"}
			]
		}`)
	}))
	defer server.Close()

	tool := NewWebTool(WebToolConfig{SearchURL: server.URL}, log.NewNop())
	res, err := tool.Execute(context.Background(), map[string]any{
		"action": "search",
		"query":  "go programming",
	})
	require.NoError(t, err)

	assert.Equal(t, true, res["success"])
	assert.Equal(t, 3, res["count"])
	results := res["results"].([]map[string]any)
	require.Len(t, results, 3)
	assert.Equal(t, "Go", results[0]["title"])
	assert.Equal(t, "https://example.com/go", results[0]["url"])
	assert.Equal(t, "Goroutines", results[1]["title"], "related topic titles drop the description")
}

func TestWebTool_SearchLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"RelatedTopics": [
				{"Text": "one", "FirstURL": "https://example.com/1"},
				{"Text": "two", "FirstURL": "https://example.com/2"},
				{"Text": "three", "FirstURL": "https://example.com/3"}
			]
		}`)
	}))
	defer server.Close()

	tool := NewWebTool(WebToolConfig{SearchURL: server.URL}, log.NewNop())
	res, err := tool.Execute(context.Background(), map[string]any{
		"action": "search",
		"query":  "anything",
		"limit":  float64(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res["count"])
}

func TestWebTool_FetchPage(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Test Article</title></head><body>
		<article>
			<h1>Test Article</h1>
			<p>Eviction removes pods from a node when resources run low. The
			kubelet watches memory and disk pressure signals and ranks pods by
			priority and usage before choosing victims.</p>
			<p>Operators tune thresholds to trade stability for density.</p>
		</article>
		<script>console.log("ignored")</script>
	</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, page)
	}))
	defer server.Close()

	tool := NewWebTool(WebToolConfig{AllowPrivateHosts: true}, log.NewNop())
	res, err := tool.Execute(context.Background(), map[string]any{
		"action": "fetch_page",
		"url":    server.URL,
	})
	require.NoError(t, err)

	assert.Equal(t, true, res["success"])
	content := res["content"].(string)
	assert.Contains(t, content, "Eviction removes pods")
	assert.NotContains(t, content, "console.log", "script content must be stripped")
}

func TestWebTool_FetchPageStatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	tool := NewWebTool(WebToolConfig{AllowPrivateHosts: true}, log.NewNop())
	res, err := tool.Execute(context.Background(), map[string]any{
		"action": "fetch_page",
		"url":    server.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, false, res["success"])
	assert.Contains(t, res["error"], "status 404")
}

func TestWebTool_FetchPageBlocksPrivateTargets(t *testing.T) {
	t.Parallel()

	tool := NewWebTool(WebToolConfig{}, log.NewNop())
	for _, target := range []string{
		"http://localhost/admin",
		"http://127.0.0.1:8080/",
		"http://192.168.1.1/",
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal/computeMetadata/",
		"ftp://example.com/file",
	} {
		res, err := tool.Execute(context.Background(), map[string]any{
			"action": "fetch_page",
			"url":    target,
		})
		require.NoError(t, err, target)
		assert.Equal(t, false, res["success"], target)
	}
}

func TestWebTool_ArgumentValidation(t *testing.T) {
	t.Parallel()

	tool := NewWebTool(WebToolConfig{}, log.NewNop())

	res, err := tool.Execute(context.Background(), map[string]any{"action": "search"})
	require.NoError(t, err)
	assert.Equal(t, false, res["success"])

	res, err = tool.Execute(context.Background(), map[string]any{"action": "fetch_page"})
	require.NoError(t, err)
	assert.Equal(t, false, res["success"])

	res, err = tool.Execute(context.Background(), map[string]any{"action": "teleport"})
	require.NoError(t, err)
	assert.Equal(t, false, res["success"])
	assert.True(t, strings.Contains(res["error"].(string), "unknown action"))

	res, err = tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, false, res["success"])
}
