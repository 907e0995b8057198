package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKernel(c Classifier) *Kernel {
	return NewKernel(c, "system", `{"type":"object"}`, testKernelSettings())
}

func rankedPost(id, text string) RankedItem {
	return RankedItem{Item: post(id, text), Score: 0.9, Rank: 1, Reason: relevanceReason(0.9)}
}

func TestDecideParsesBackendOutput(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		kind       Kind
		reply      string
		confidence float64
	}{
		{
			name:       "like",
			raw:        `{"decision":"like","comment":"","confidence":0.85,"reasoning":"useful"}`,
			kind:       KindLike,
			confidence: 0.85,
		},
		{
			name:       "comment with code fence",
			raw:        "```json\n{\"decision\":\"comment\",\"comment\":\" Great point! \",\"confidence\":0.9,\"reasoning\":\"r\"}\n```",
			kind:       KindComment,
			reply:      "Great point!",
			confidence: 0.9,
		},
		{
			name:       "string confidence and upper case kind",
			raw:        `{"decision":"DIG_DEEPER","comment":"","confidence":"0.75","reasoning":"thread"}`,
			kind:       KindDigDeeper,
			confidence: 0.75,
		},
		{
			name:       "comment text dropped for non-comment",
			raw:        `Sure: {"decision":"ignore","comment":"ignored text","confidence":1,"reasoning":"off topic"}`,
			kind:       KindIgnore,
			confidence: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := newTestKernel(answers(tt.raw))
			d := k.Decide(context.Background(), rankedPost("p1", "text"), nil)
			assert.False(t, d.Degraded)
			assert.NoError(t, d.Err)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.reply, d.Reply)
			assert.InDelta(t, tt.confidence, d.Confidence, 1e-9)
		})
	}
}

func TestDecideEmptyCommentDegradesToIgnore(t *testing.T) {
	c := answers(`{"decision":"comment","comment":""}`)
	k := newTestKernel(c)

	d := k.Decide(context.Background(), rankedPost("p1", "text"), nil)

	assert.Equal(t, KindIgnore, d.Kind)
	assert.True(t, d.Degraded)
	assert.ErrorIs(t, d.Err, ErrMalformedDecision)
	assert.Equal(t, 2, c.calls(), "one corrective retry")
	assert.Contains(t, c.prompts[1].User, "previous answer was rejected")
}

func TestDecideRetriesMalformedOnce(t *testing.T) {
	c := answers(
		`not json at all`,
		`{"decision":"like","comment":"","confidence":0.8,"reasoning":"ok"}`,
	)
	k := newTestKernel(c)

	d := k.Decide(context.Background(), rankedPost("p1", "text"), nil)
	assert.Equal(t, KindLike, d.Kind)
	assert.False(t, d.Degraded)
	assert.Equal(t, 2, c.calls())
}

func TestDecideEmptyAnswerGetsCorrectiveRetry(t *testing.T) {
	c := &fakeClassifier{responses: []classifyResult{
		{err: fmt.Errorf("%w: no content in response", ErrMalformedDecision)},
		{text: `{"decision":"like","comment":"","confidence":0.8,"reasoning":"ok"}`},
	}}
	k := newTestKernel(c)

	d := k.Decide(context.Background(), rankedPost("p1", "text"), nil)
	assert.Equal(t, KindLike, d.Kind)
	assert.False(t, d.Degraded)
	require.Equal(t, 2, c.calls(), "no backoff retries for an empty answer")
	assert.Contains(t, c.prompts[1].User, "Your previous answer was rejected")
}

func TestDecideRejectsInvalidOutput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown kind", `{"decision":"repost","confidence":0.9}`},
		{"interesting is internal", `{"decision":"interesting","confidence":0.9}`},
		{"confidence above one", `{"decision":"like","confidence":1.5}`},
		{"negative confidence", `{"decision":"like","confidence":-0.1}`},
		{"missing confidence", `{"decision":"like"}`},
		{"non numeric confidence", `{"decision":"like","confidence":"high"}`},
		{"reply too long", `{"decision":"comment","comment":"` + strings.Repeat("a", 281) + `","confidence":0.9}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := newTestKernel(answers(tt.raw))
			_, err := k.parse(tt.raw)
			assert.ErrorIs(t, err, ErrMalformedDecision)

			d := k.Decide(context.Background(), rankedPost("p1", "text"), nil)
			assert.Equal(t, KindIgnore, d.Kind)
			assert.True(t, d.Degraded)
		})
	}
}

func TestDecideReplyLengthCountsRunes(t *testing.T) {
	k := newTestKernel(nil)
	_, err := k.parse(`{"decision":"comment","comment":"` + strings.Repeat("é", 280) + `","confidence":0.9}`)
	assert.NoError(t, err)
}

func TestDecideRetriesTransientErrors(t *testing.T) {
	transient := &BackendError{Backend: "test", Transient: true, Err: errors.New("503")}
	c := &fakeClassifier{responses: []classifyResult{
		{err: transient},
		{err: transient},
		{text: `{"decision":"like","comment":"","confidence":0.9,"reasoning":"ok"}`},
	}}
	k := newTestKernel(c)

	d := k.Decide(context.Background(), rankedPost("p1", "text"), nil)
	assert.Equal(t, KindLike, d.Kind)
	assert.Equal(t, 3, c.calls())
}

func TestDecideDegradesWhenRetriesExhausted(t *testing.T) {
	transient := &BackendError{Backend: "test", Transient: true, Err: errors.New("timeout")}
	c := &fakeClassifier{responses: []classifyResult{{err: transient}}}
	k := newTestKernel(c)

	d := k.Decide(context.Background(), rankedPost("p1", "text"), nil)
	assert.Equal(t, KindIgnore, d.Kind)
	assert.True(t, d.Degraded)
	assert.ErrorIs(t, d.Err, ErrTransientBackend)
	assert.Equal(t, testKernelSettings().MaxAttempts, c.calls())
}

func TestDecideDoesNotRetryPermanentErrors(t *testing.T) {
	permanent := &BackendError{Backend: "test", Transient: false, Err: errors.New("invalid api key")}
	c := &fakeClassifier{responses: []classifyResult{{err: permanent}}}
	k := newTestKernel(c)

	d := k.Decide(context.Background(), rankedPost("p1", "text"), nil)
	assert.Equal(t, KindIgnore, d.Kind)
	assert.True(t, d.Degraded)
	assert.Equal(t, 1, c.calls())
}

type slowClassifier struct{}

func (slowClassifier) Classify(ctx context.Context, p Prompt) (string, error) {
	<-ctx.Done()
	return "", &BackendError{Backend: "slow", Transient: true, Err: ctx.Err()}
}

func TestDecideBoundsEachAttempt(t *testing.T) {
	ks := testKernelSettings()
	ks.Timeout = 10 * time.Millisecond
	ks.MaxAttempts = 2
	k := NewKernel(slowClassifier{}, "system", "", ks)

	start := time.Now()
	d := k.Decide(context.Background(), rankedPost("p1", "text"), nil)
	assert.Equal(t, KindIgnore, d.Kind)
	assert.True(t, d.Degraded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestUserPromptIncludesThreadContext(t *testing.T) {
	c := answers(`{"decision":"ignore","comment":"","confidence":0.5,"reasoning":"meh"}`)
	k := newTestKernel(c)

	thread := &ThreadContext{RootID: "root", RootText: "root post about <go>", Path: []string{"root"}}
	k.Decide(context.Background(), rankedPost("r1", "a reply"), thread)

	require.Equal(t, 1, c.calls())
	user := c.prompts[0].User
	assert.Contains(t, user, "<root_id>root</root_id>")
	assert.Contains(t, user, "root post about &lt;go&gt;")
	assert.Contains(t, user, "<text>a reply</text>")
	assert.Equal(t, "system", c.prompts[0].System)
	assert.Equal(t, `{"type":"object"}`, c.prompts[0].Schema)
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}```", `{"a":1}`},
		{"Here you go:\n{\"a\":1}\nThanks", `{"a":1}`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripCodeFence(tt.in))
	}
}
