// Package retrieval implements semantic search with multilingual query
// expansion. A user query is expanded through the chat model into English
// translations, related keywords, and alternative formulations; each variant
// is searched independently and the per-query rankings are fused with
// reciprocal rank fusion.
package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"aicore/internal/ai"
)

// Language is the detected query language.
type Language string

const (
	LanguageKorean   Language = "korean"
	LanguageJapanese Language = "japanese"
	LanguageChinese  Language = "chinese"
	LanguageEnglish  Language = "english"
	LanguageOther    Language = "other"
	LanguageUnknown  Language = "unknown"
)

// Expansion is the result of expanding one query.
type Expansion struct {
	Original        string   `json:"original"`
	Language        Language `json:"language"`
	Translations    []string `json:"translations"`
	Keywords        []string `json:"keywords"`
	ExpandedQueries []string `json:"expandedQueries"`
	Cached          bool     `json:"cached"`
	// Fallback marks results produced without the model, either because the
	// query was trivial or because the model call failed.
	Fallback bool `json:"fallback"`
}

// ExpanderConfig configures an Expander.
type ExpanderConfig struct {
	Model     string        // chat model for expansion (empty = client default)
	Timeout   time.Duration // per-expansion model deadline (default: 5s)
	CacheTTL  time.Duration // expansion cache entry lifetime (default: 5m)
	CacheSize int           // soft cap on cached expansions (default: 200)
}

// DefaultExpanderConfig returns sensible defaults.
func DefaultExpanderConfig() ExpanderConfig {
	return ExpanderConfig{
		Timeout:   5 * time.Second,
		CacheTTL:  5 * time.Minute,
		CacheSize: 200,
	}
}

// Expander turns a query into search variants using the chat model.
// Expansion never fails: any model or parse error degrades to a keyword-only
// fallback so retrieval always proceeds.
//
// Expander is safe for concurrent use by multiple goroutines.
type Expander struct {
	client ai.ChatClient
	cfg    ExpanderConfig
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	// group collapses concurrent expansions of the same query into one
	// model call.
	group singleflight.Group

	// now is swapped in tests to control cache expiry.
	now func() time.Time
}

type cacheEntry struct {
	expansion Expansion
	at        time.Time
}

// NewExpander creates an Expander. Zero config fields fall back to
// DefaultExpanderConfig values.
func NewExpander(client ai.ChatClient, cfg ExpanderConfig, logger *slog.Logger) *Expander {
	def := DefaultExpanderConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{
		client: client,
		cfg:    cfg,
		logger: logger,
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

const expansionSystemPrompt = `You are a search query expansion assistant for a technical knowledge base. Your job is to help improve search results by:
1. Translating non-English queries to English
2. Generating related technical keywords and synonyms
3. Expanding abbreviations and technical terms

IMPORTANT: Return ONLY valid JSON, no markdown code blocks, no extra text.

JSON schema:
{
  "translations": ["English translation of the query"],
  "keywords": ["related", "technical", "keywords"],
  "expandedQueries": ["alternative search queries"]
}

Rules:
- If the query is already in English, translations should be empty array
- Keywords should include: synonyms, related concepts, common abbreviations, technical terms
- expandedQueries should be 2-4 alternative ways to search for the same topic
- Keep keywords concise (1-3 words each)
- Prioritize technical accuracy over quantity
- Maximum 10 keywords, 4 expanded queries`

// Expand expands the query. The returned expansion is always usable; check
// Fallback to see whether the model contributed.
func (e *Expander) Expand(ctx context.Context, query string) Expansion {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return Expansion{Original: query, Language: LanguageUnknown, Fallback: true}
	}

	cacheKey := strings.ToLower(trimmed)
	lang := DetectLanguage(trimmed)

	if cached, ok := e.lookup(cacheKey); ok {
		cached.Cached = true
		return cached
	}

	// Short English queries get cheap keyword variants; the model adds
	// nothing worth its latency there.
	if lang == LanguageEnglish && len(strings.Fields(trimmed)) <= 2 {
		result := Expansion{
			Original: trimmed,
			Language: lang,
			Keywords: simpleKeywords(trimmed),
		}
		e.store(cacheKey, result)
		return result
	}

	shared, err, _ := e.group.Do(cacheKey, func() (any, error) {
		return e.expandWithModel(ctx, trimmed, lang)
	})
	if err != nil {
		e.logger.Warn("query expansion failed, using fallback",
			"query", trimmed, "error", err)
		return Expansion{
			Original: trimmed,
			Language: lang,
			Keywords: simpleKeywords(trimmed),
			Fallback: true,
		}
	}

	result := shared.(Expansion)
	e.store(cacheKey, result)
	return result
}

func (e *Expander) expandWithModel(ctx context.Context, query string, lang Language) (Expansion, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	userPrompt := "Expand this search query for a technical knowledge base:\n" +
		"Query: \"" + query + "\"\n" +
		"Detected language: " + string(lang) + "\n\n" +
		"Return JSON only:"

	resp, err := e.client.Chat(ctx, ai.ChatRequest{
		Model: e.cfg.Model,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: expansionSystemPrompt},
			{Role: ai.RoleUser, Content: userPrompt},
		},
		Temperature: 0.3,
		MaxTokens:   300,
	})
	if err != nil {
		return Expansion{}, err
	}

	parsed, ok := parseExpansionResponse(resp.Content)
	if !ok {
		return Expansion{}, errUnparsableExpansion
	}

	return Expansion{
		Original:        query,
		Language:        lang,
		Translations:    clip(parsed.Translations, 3),
		Keywords:        clip(parsed.Keywords, 10),
		ExpandedQueries: clip(parsed.ExpandedQueries, 4),
	}, nil
}

var errUnparsableExpansion = &ai.Failure{
	Code:    ai.CodeError,
	Message: "expansion response is not valid JSON",
}

type expansionPayload struct {
	Translations    []string `json:"translations"`
	Keywords        []string `json:"keywords"`
	ExpandedQueries []string `json:"expandedQueries"`
}

var fencedJSONRe = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

// parseExpansionResponse tolerates models that wrap JSON in markdown fences
// or surround it with prose.
func parseExpansionResponse(response string) (expansionPayload, bool) {
	var payload expansionPayload
	if json.Unmarshal([]byte(response), &payload) == nil {
		return payload, true
	}

	if m := fencedJSONRe.FindStringSubmatch(response); len(m) == 2 {
		if json.Unmarshal([]byte(strings.TrimSpace(m[1])), &payload) == nil {
			return payload, true
		}
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		if json.Unmarshal([]byte(response[start:end+1]), &payload) == nil {
			return payload, true
		}
	}

	return expansionPayload{}, false
}

func (e *Expander) lookup(key string) (Expansion, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.cache[key]
	if !ok || e.now().Sub(entry.at) >= e.cfg.CacheTTL {
		return Expansion{}, false
	}
	return entry.expansion, true
}

func (e *Expander) store(key string, expansion Expansion) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cache[key] = cacheEntry{expansion: expansion, at: e.now()}
	if len(e.cache) <= e.cfg.CacheSize {
		return
	}

	// Evict expired entries first, then the oldest until halfway under cap.
	now := e.now()
	for k, entry := range e.cache {
		if now.Sub(entry.at) >= e.cfg.CacheTTL {
			delete(e.cache, k)
		}
	}
	for len(e.cache) > e.cfg.CacheSize/2 {
		var oldestKey string
		var oldestAt time.Time
		for k, entry := range e.cache {
			if oldestKey == "" || entry.at.Before(oldestAt) {
				oldestKey = k
				oldestAt = entry.at
			}
		}
		delete(e.cache, oldestKey)
	}
}

// ClearCache drops all cached expansions.
func (e *Expander) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cacheEntry)
}

func (e *Expander) cacheLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

// CombinedQueries returns up to maxQueries deduplicated search variants,
// original query first.
func CombinedQueries(exp Expansion, maxQueries int) []string {
	if maxQueries <= 0 {
		maxQueries = 3
	}

	seen := make(map[string]struct{})
	var queries []string
	add := func(q string) {
		if q == "" || len(queries) >= maxQueries {
			return
		}
		if _, dup := seen[q]; dup {
			return
		}
		seen[q] = struct{}{}
		queries = append(queries, q)
	}

	add(exp.Original)
	for _, t := range exp.Translations {
		add(t)
	}
	for _, q := range exp.ExpandedQueries {
		add(q)
	}
	if len(exp.Keywords) > 0 {
		add(strings.Join(clip(exp.Keywords, 5), " "))
	}
	return queries
}

// DetectLanguage classifies the query by its dominant script. A script wins
// when it covers more than 30% of the runes.
func DetectLanguage(query string) Language {
	runes := []rune(query)
	if len(runes) == 0 {
		return LanguageUnknown
	}

	var korean, kana, cjk, nonASCII int
	for _, r := range runes {
		switch {
		case r >= 0xAC00 && r <= 0xD7AF, r >= 0x1100 && r <= 0x11FF, r >= 0x3130 && r <= 0x318F:
			korean++
		case r >= 0x3040 && r <= 0x309F, r >= 0x30A0 && r <= 0x30FF:
			kana++
		case r >= 0x4E00 && r <= 0x9FFF:
			cjk++
		}
		if r > 0x7F {
			nonASCII++
		}
	}

	threshold := len(runes) * 3 / 10
	switch {
	case korean > threshold:
		return LanguageKorean
	case kana+cjk > threshold && kana > 0:
		return LanguageJapanese
	case cjk > threshold:
		return LanguageChinese
	case nonASCII == 0:
		return LanguageEnglish
	default:
		return LanguageOther
	}
}

// abbreviations maps common technical terms to their short forms, used by
// the no-model keyword fallback.
var abbreviations = map[string][]string{
	"kubernetes":  {"k8s", "kube"},
	"javascript":  {"js"},
	"typescript":  {"ts"},
	"python":      {"py"},
	"linux":       {"unix", "os"},
	"docker":      {"container", "containerization"},
	"database":    {"db"},
	"application": {"app"},
}

// simpleKeywords derives keyword variants without the model: the query's
// words, their singular/plural flips, and known abbreviations.
func simpleKeywords(query string) []string {
	words := strings.Fields(strings.ToLower(query))

	seen := make(map[string]struct{})
	var keywords []string
	add := func(w string) {
		if _, dup := seen[w]; dup {
			return
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
	}

	for _, w := range words {
		if len(w) > 2 {
			add(w)
		}
	}
	for _, w := range words {
		if len(w) <= 2 {
			continue
		}
		if strings.HasSuffix(w, "s") && len(w) > 3 {
			add(strings.TrimSuffix(w, "s"))
		} else {
			add(w + "s")
		}
		for _, abbrev := range abbreviations[w] {
			add(abbrev)
		}
	}

	return clip(keywords, 8)
}

func clip(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
