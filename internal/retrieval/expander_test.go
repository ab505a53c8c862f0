package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicore/internal/ai"
	"aicore/internal/log"
)

// scriptedChat returns canned responses in order and counts calls.
type scriptedChat struct {
	responses []string
	err       error
	calls     atomic.Int64
}

func (s *scriptedChat) Chat(_ context.Context, _ ai.ChatRequest) (*ai.ChatResponse, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	idx := int(n) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return &ai.ChatResponse{Content: s.responses[idx]}, nil
}

func TestDetectLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		want  Language
	}{
		{"kubernetes pod eviction", LanguageEnglish},
		{"쿠버네티스 파드 축출", LanguageKorean},
		{"カーネルモジュール", LanguageJapanese},
		{"内核模块开发", LanguageChinese},
		{"café déjà vu", LanguageOther},
		{"", LanguageUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DetectLanguage(tt.query))
		})
	}
}

func TestExpander_SimpleEnglishSkipsModel(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{responses: []string{"{}"}}
	e := NewExpander(chat, ExpanderConfig{}, log.NewNop())

	exp := e.Expand(context.Background(), "kubernetes")

	assert.Equal(t, int64(0), chat.calls.Load(), "two-word English queries must not call the model")
	assert.False(t, exp.Fallback)
	assert.Contains(t, exp.Keywords, "k8s")
	assert.Contains(t, exp.Keywords, "kube")
}

func TestExpander_ModelExpansion(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{responses: []string{
		`{"translations":["kubernetes pod eviction"],"keywords":["k8s","eviction","node pressure"],"expandedQueries":["pod eviction policy","kubelet eviction"]}`,
	}}
	e := NewExpander(chat, ExpanderConfig{}, log.NewNop())

	exp := e.Expand(context.Background(), "쿠버네티스 파드 축출")

	require.False(t, exp.Fallback)
	assert.Equal(t, LanguageKorean, exp.Language)
	assert.Equal(t, []string{"kubernetes pod eviction"}, exp.Translations)
	assert.Len(t, exp.ExpandedQueries, 2)
}

func TestExpander_CacheHit(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{responses: []string{
		`{"translations":[],"keywords":["orchestration"],"expandedQueries":[]}`,
	}}
	e := NewExpander(chat, ExpanderConfig{}, log.NewNop())
	ctx := context.Background()

	first := e.Expand(ctx, "how does container orchestration work")
	require.False(t, first.Cached)

	second := e.Expand(ctx, "How Does Container Orchestration Work")
	assert.True(t, second.Cached, "lookup is case-insensitive")
	assert.Equal(t, int64(1), chat.calls.Load(), "second expansion must come from cache")
}

func TestExpander_CacheExpiry(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{responses: []string{
		`{"translations":[],"keywords":["a"],"expandedQueries":[]}`,
	}}
	e := NewExpander(chat, ExpanderConfig{CacheTTL: time.Minute}, log.NewNop())

	current := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return current }

	ctx := context.Background()
	e.Expand(ctx, "how does container orchestration work")

	current = current.Add(2 * time.Minute)
	exp := e.Expand(ctx, "how does container orchestration work")
	assert.False(t, exp.Cached, "expired entries must not be served")
	assert.Equal(t, int64(2), chat.calls.Load())
}

func TestExpander_FallbackOnModelError(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{err: errors.New("upstream down")}
	e := NewExpander(chat, ExpanderConfig{}, log.NewNop())

	exp := e.Expand(context.Background(), "how does container orchestration work")

	assert.True(t, exp.Fallback)
	assert.NotEmpty(t, exp.Keywords, "fallback still yields simple keywords")
	assert.Equal(t, "how does container orchestration work", exp.Original)
}

func TestExpander_FallbackOnGarbageResponse(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{responses: []string{"sorry, I cannot help with that"}}
	e := NewExpander(chat, ExpanderConfig{}, log.NewNop())

	exp := e.Expand(context.Background(), "how does container orchestration work")
	assert.True(t, exp.Fallback)
}

func TestExpander_EmptyQuery(t *testing.T) {
	t.Parallel()

	e := NewExpander(&scriptedChat{responses: []string{"{}"}}, ExpanderConfig{}, log.NewNop())

	exp := e.Expand(context.Background(), "   ")
	assert.True(t, exp.Fallback)
	assert.Equal(t, LanguageUnknown, exp.Language)
}

func TestExpander_CacheEviction(t *testing.T) {
	t.Parallel()

	chat := &scriptedChat{responses: []string{`{"keywords":["x"]}`}}
	e := NewExpander(chat, ExpanderConfig{CacheSize: 10}, log.NewNop())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		e.Expand(ctx, fmt.Sprintf("a much longer query number %d", i))
	}
	assert.LessOrEqual(t, e.cacheLen(), 10, "cache must stay under its cap")
}

func TestParseExpansionResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response string
		wantOK   bool
	}{
		{"plain json", `{"keywords":["a"]}`, true},
		{"fenced json", "```json\n{\"keywords\":[\"a\"]}\n```", true},
		{"fenced no lang", "```\n{\"keywords\":[\"a\"]}\n```", true},
		{"embedded in prose", `Here you go: {"keywords":["a"]} hope that helps`, true},
		{"no json at all", "I cannot produce JSON", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload, ok := parseExpansionResponse(tt.response)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, []string{"a"}, payload.Keywords)
			}
		})
	}
}

func TestCombinedQueries(t *testing.T) {
	t.Parallel()

	exp := Expansion{
		Original:        "쿠버네티스 파드 축출",
		Translations:    []string{"kubernetes pod eviction", "쿠버네티스 파드 축출"},
		ExpandedQueries: []string{"pod eviction policy", "kubelet pressure eviction"},
		Keywords:        []string{"k8s", "eviction"},
	}

	got := CombinedQueries(exp, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "쿠버네티스 파드 축출", got[0], "original query always leads")
	assert.Equal(t, "kubernetes pod eviction", got[1])
	assert.Equal(t, "pod eviction policy", got[2], "duplicate translation is skipped")
}

func TestCombinedQueries_KeywordFallback(t *testing.T) {
	t.Parallel()

	exp := Expansion{
		Original: "docker",
		Keywords: []string{"container", "containerization", "oci"},
	}

	got := CombinedQueries(exp, 3)
	require.Len(t, got, 2)
	assert.Equal(t, "docker", got[0])
	assert.Equal(t, "container containerization oci", got[1])
}
