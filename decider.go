package main

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// ThreadContext describes where a reply sits in a conversation
type ThreadContext struct {
	RootID   string
	RootText string
	// Path holds the ids from the root down to the item's parent
	Path []string
}

// Decider classifies one item. Implementations never fail; problems surface as
// a degraded ignore.
type Decider interface {
	Decide(ctx context.Context, item RankedItem, thread *ThreadContext) Decision
}

// Kernel classifies a single item into a Decision. It never fails: backend and
// schema errors degrade to ignore.
type Kernel struct {
	classifier Classifier
	system     string
	schema     string
	settings   KernelSettings
	executor   failsafe.Executor[string]
}

// NewKernel creates a kernel with the given prompt, schema and retry settings
func NewKernel(classifier Classifier, systemPrompt, schema string, ks KernelSettings) *Kernel {
	attempts := ks.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	builder := retrypolicy.NewBuilder[string]().
		WithMaxRetries(attempts-1).
		HandleIf(func(_ string, err error) bool {
			return isTransient(err)
		}).
		ReturnLastFailure()
	switch {
	case ks.BaseDelay > 0 && ks.MaxDelay > ks.BaseDelay:
		builder = builder.WithBackoff(ks.BaseDelay, ks.MaxDelay).WithJitterFactor(0.1)
	case ks.BaseDelay > 0:
		builder = builder.WithDelay(ks.BaseDelay)
	}
	retry := builder.Build()

	return &Kernel{
		classifier: classifier,
		system:     systemPrompt,
		schema:     schema,
		settings:   ks,
		executor:   failsafe.With[string](retry),
	}
}

// Decide classifies item, optionally within a thread
func (k *Kernel) Decide(ctx context.Context, item RankedItem, thread *ThreadContext) Decision {
	d := k.decide(ctx, item, thread)
	decisionCount.WithLabelValues(string(d.Kind), boolLabel(d.Degraded)).Inc()
	return d
}

func (k *Kernel) decide(ctx context.Context, item RankedItem, thread *ThreadContext) Decision {
	logger.Debugf("→ Deciding %s", item.Item.ID)

	prompt := Prompt{
		System: k.system,
		User:   k.userPrompt(item, thread),
		Schema: k.schema,
	}

	d, err := k.attempt(ctx, prompt)
	if err == nil {
		logger.Debugf("✓ Decided %s: %s (%.2f)", item.Item.ID, d.Kind, d.Confidence)
		return d
	}
	if !errors.Is(err, ErrMalformedDecision) {
		logger.Warnf("Decision backend failed for %s: %v", item.Item.ID, err)
		return Ignore("backend unavailable", err)
	}

	logger.Infof("Malformed decision for %s, retrying once: %v", item.Item.ID, err)
	prompt.User += "\n\n" + correctiveInstruction(err)
	d, err = k.attempt(ctx, prompt)
	switch {
	case errors.Is(err, ErrMalformedDecision):
		logger.Warnf("Malformed decision for %s after retry: %v", item.Item.ID, err)
		return Ignore("malformed decision", err)
	case err != nil:
		logger.Warnf("Decision backend failed for %s: %v", item.Item.ID, err)
		return Ignore("backend unavailable", err)
	}
	logger.Debugf("✓ Decided %s: %s (%.2f)", item.Item.ID, d.Kind, d.Confidence)
	return d
}

// attempt classifies and validates once; both an empty answer and an invalid
// one come back as ErrMalformedDecision
func (k *Kernel) attempt(ctx context.Context, p Prompt) (Decision, error) {
	raw, err := k.classify(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	return k.parse(raw)
}

// classify runs one logical call, retrying transient failures with backoff
func (k *Kernel) classify(ctx context.Context, p Prompt) (string, error) {
	return k.executor.WithContext(ctx).Get(func() (string, error) {
		actx := ctx
		if k.settings.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, k.settings.Timeout)
			defer cancel()
		}
		return k.classifier.Classify(actx, p)
	})
}

type itemPrompt struct {
	XMLName   xml.Name      `xml:"post"`
	ID        string        `xml:"id"`
	Author    string        `xml:"author"`
	Relevance string        `xml:"relevance,omitempty"`
	Likes     int           `xml:"engagement>likes"`
	Replies   int           `xml:"engagement>replies"`
	Reposts   int           `xml:"engagement>reposts"`
	Text      string        `xml:"text"`
	Thread    *threadPrompt `xml:"thread,omitempty"`
}

type threadPrompt struct {
	RootID   string `xml:"root_id"`
	RootText string `xml:"root_text"`
	Depth    int    `xml:"depth"`
}

func (k *Kernel) userPrompt(item RankedItem, thread *ThreadContext) string {
	p := itemPrompt{
		ID:        item.Item.ID,
		Author:    item.Item.AuthorID,
		Relevance: item.Reason,
		Likes:     item.Item.Engagement.Likes,
		Replies:   item.Item.Engagement.Replies,
		Reposts:   item.Item.Engagement.Reposts,
		Text:      item.Item.Text,
	}
	if thread != nil {
		p.Thread = &threadPrompt{
			RootID:   thread.RootID,
			RootText: thread.RootText,
			Depth:    len(thread.Path),
		}
	}

	body, err := xml.MarshalIndent(p, "", "  ")
	if err != nil {
		// only reachable with invalid UTF-8 in the item; send the text plainly
		body = []byte(item.Item.Text)
	}

	var b strings.Builder
	if thread != nil {
		b.WriteString("This post is a reply in a conversation. Decide on the reply, using the root post as context.\n\n")
	} else {
		b.WriteString("Decide what to do with this post.\n\n")
	}
	b.Write(body)
	fmt.Fprintf(&b, "\n\nComments must be at most %d characters.", k.settings.MaxReplyLength)
	return b.String()
}

func correctiveInstruction(err error) string {
	return fmt.Sprintf("Your previous answer was rejected: %v. Respond with only a JSON object with the keys decision, comment, confidence and reasoning. decision must be one of ignore, like, comment, dig_deeper.", err)
}

type rawDecision struct {
	Decision   string          `json:"decision"`
	Comment    string          `json:"comment"`
	Confidence json.RawMessage `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

// parse validates backend output. Every failure wraps ErrMalformedDecision.
func (k *Kernel) parse(raw string) (Decision, error) {
	body := stripCodeFence(raw)

	var rd rawDecision
	if err := json.Unmarshal([]byte(body), &rd); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
	}

	kind, err := ParseKind(rd.Decision)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
	}

	confidence, err := parseConfidence(rd.Confidence)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
	}

	if kind == KindComment {
		reply := strings.TrimSpace(rd.Comment)
		if n := utf8.RuneCountInString(reply); k.settings.MaxReplyLength > 0 && n > k.settings.MaxReplyLength {
			return Decision{}, fmt.Errorf("%w: comment is %d characters, limit is %d", ErrMalformedDecision, n, k.settings.MaxReplyLength)
		}
	}

	d, err := NewDecision(kind, rd.Comment, confidence, strings.TrimSpace(rd.Reasoning))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
	}
	return d, nil
}

func parseConfidence(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("missing confidence")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("confidence %s is not a number", raw)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return 0, fmt.Errorf("confidence %q is not a number", s)
	}
	return f, nil
}

// stripCodeFence removes a markdown fence and any prose around the JSON object
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}
