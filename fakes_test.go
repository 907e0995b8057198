package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSource serves canned search results and threads
type fakeSource struct {
	mu        sync.Mutex
	items     []ContentItem
	threads   map[string][]ContentItem
	searchErr error
	threadErr map[string]error
	fetches   []string
}

func (s *fakeSource) Search(ctx context.Context, terms []string) ([]ContentItem, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return append([]ContentItem(nil), s.items...), nil
}

func (s *fakeSource) FetchThread(ctx context.Context, rootID string) ([]ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, rootID)
	if err := s.threadErr[rootID]; err != nil {
		return nil, err
	}
	return append([]ContentItem(nil), s.threads[rootID]...), nil
}

func (s *fakeSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetches)
}

// fakeActor records calls and fails for selected items
type fakeActor struct {
	mu      sync.Mutex
	likes   []string
	replies map[string]string
	failFor map[string]bool
}

var errActionRejected = errors.New("action rejected")

func (a *fakeActor) Like(ctx context.Context, itemID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failFor[itemID] {
		return errActionRejected
	}
	a.likes = append(a.likes, itemID)
	return nil
}

func (a *fakeActor) Reply(ctx context.Context, itemID, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failFor[itemID] {
		return errActionRejected
	}
	if a.replies == nil {
		a.replies = make(map[string]string)
	}
	a.replies[itemID] = text
	return nil
}

func (a *fakeActor) likeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.likes)
}

// fakeClassifier returns queued responses in order, repeating the last one
type fakeClassifier struct {
	mu        sync.Mutex
	responses []classifyResult
	prompts   []Prompt
}

func (c *fakeClassifier) Classify(ctx context.Context, p Prompt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, p)
	i := len(c.prompts) - 1
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	r := c.responses[i]
	return r.text, r.err
}

func (c *fakeClassifier) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

func answers(texts ...string) *fakeClassifier {
	c := &fakeClassifier{}
	for _, t := range texts {
		c.responses = append(c.responses, classifyResult{text: t})
	}
	return c
}

// fakeScorer scores by the first matching substring of the text
type fakeScorer struct {
	scores map[string]float64
	err    error
}

func (s fakeScorer) Similarity(ctx context.Context, query, text string) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	for substr, score := range s.scores {
		if strings.Contains(text, substr) {
			return score, nil
		}
	}
	return 0, nil
}

type constScorer float64

func (c constScorer) Similarity(ctx context.Context, query, text string) (float64, error) {
	return float64(c), nil
}

// fakeDecider decides by item id, defaulting to ignore
type fakeDecider struct {
	mu        sync.Mutex
	decisions map[string]Decision
	fallback  *Decision
	seen      []string
	contexts  map[string]*ThreadContext
}

func (d *fakeDecider) Decide(ctx context.Context, item RankedItem, thread *ThreadContext) Decision {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, item.Item.ID)
	if d.contexts == nil {
		d.contexts = make(map[string]*ThreadContext)
	}
	d.contexts[item.Item.ID] = thread
	if dec, ok := d.decisions[item.Item.ID]; ok {
		return dec
	}
	if d.fallback != nil {
		return *d.fallback
	}
	return Ignore("no opinion", nil)
}

func like(confidence float64) Decision {
	return Decision{Kind: KindLike, Confidence: confidence, Reasoning: "valuable"}
}

func comment(text string) Decision {
	return Decision{Kind: KindComment, Reply: text, Confidence: 0.9, Reasoning: "can add something"}
}

func digDeeper() Decision {
	return Decision{Kind: KindDigDeeper, Confidence: 0.9, Reasoning: "good discussion"}
}

func post(id, text string) ContentItem {
	return ContentItem{ID: id, AuthorID: "author-" + id, Text: text, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func testKernelSettings() KernelSettings {
	return KernelSettings{
		Model:          "test-model",
		MaxTokens:      100,
		MaxReplyLength: 280,
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Timeout:        time.Second,
		MinConfidence:  0.7,
	}
}

// testSettings returns the embedded defaults tuned for fast tests
func testSettings(t *testing.T) *Settings {
	t.Helper()
	s := DefaultSettings()
	s.Kernel = testKernelSettings()
	s.Actions.MinInterval = 0
	s.Search.SkipSeen = false
	s.Ranking.MinScore = 0
	s.Source.Timeout = time.Second
	require.NoError(t, s.Validate())
	return s
}

func openTestLedger(t *testing.T) *SQLLedger {
	t.Helper()
	l, err := OpenLedger("sqlite://" + filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}
