package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainSource builds root -> l1 -> l2 -> ... where each item has one reply
func chainSource(levels int) *fakeSource {
	src := &fakeSource{threads: make(map[string][]ContentItem)}
	parent := "root"
	for i := 1; i <= levels; i++ {
		id := fmt.Sprintf("l%d", i)
		reply := post(id, "reply at level "+id)
		reply.ParentID = parent
		src.threads[parent] = []ContentItem{reply}
		parent = id
	}
	return src
}

func targetKinds(targets []Target) map[string]Kind {
	out := make(map[string]Kind, len(targets))
	for _, t := range targets {
		out[t.Item.Item.ID] = t.Decision.Kind
	}
	return out
}

func TestExploreBoundsDepth(t *testing.T) {
	src := chainSource(5)
	dd := digDeeper()
	decider := &fakeDecider{fallback: &dd}
	e := NewExplorer(src, NewRanker(constScorer(1), 0, 1, time.Second), decider, nil, 0.2, 10, false)

	root := RankedItem{Item: post("root", "root post")}
	targets, err := e.Explore(context.Background(), root, digDeeper(), 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"root", "l1"}, src.fetches)
	assert.Equal(t, map[string]Kind{
		"l1": KindDigDeeper,
		"l2": KindInteresting,
	}, targetKinds(targets))
}

func TestExploreZeroDepthFetchesNothing(t *testing.T) {
	src := chainSource(3)
	e := NewExplorer(src, NewRanker(constScorer(1), 0, 1, time.Second), &fakeDecider{}, nil, 0.2, 10, false)

	targets, err := e.Explore(context.Background(), RankedItem{Item: post("root", "root")}, digDeeper(), 0)
	require.NoError(t, err)
	assert.Empty(t, targets)
	assert.Equal(t, 0, src.fetchCount())
}

func TestExploreDecidesRepliesWithThreadContext(t *testing.T) {
	src := &fakeSource{threads: map[string][]ContentItem{
		"conv": {
			post("root", "root post"),
			post("r1", "on topic reply"),
			post("r2", "spam"),
			post("r3", "another on topic reply"),
		},
	}}
	decider := &fakeDecider{decisions: map[string]Decision{
		"r1": like(0.9),
		"r3": comment("Nice"),
	}}
	scorer := fakeScorer{scores: map[string]float64{"on topic": 0.8, "spam": 0.1}}
	e := NewExplorer(src, NewRanker(scorer, 0, 1, time.Second), decider, nil, 0.2, 10, false)

	root := post("root", "root post")
	root.ConversationID = "conv"
	targets, err := e.Explore(context.Background(), RankedItem{Item: root}, digDeeper(), 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"conv"}, src.fetches)
	assert.Equal(t, map[string]Kind{"r1": KindLike, "r3": KindComment}, targetKinds(targets))
	assert.NotContains(t, decider.seen, "root")
	assert.NotContains(t, decider.seen, "r2", "below thread threshold")

	tc := decider.contexts["r1"]
	require.NotNil(t, tc)
	assert.Equal(t, "root", tc.RootID)
	assert.Equal(t, "root post", tc.RootText)
	assert.Equal(t, []string{"root"}, tc.Path)
}

func TestExploreCapsReplies(t *testing.T) {
	var replies []ContentItem
	for i := 0; i < 15; i++ {
		replies = append(replies, post(fmt.Sprintf("r%d", i), "reply"))
	}
	src := &fakeSource{threads: map[string][]ContentItem{"root": replies}}
	decider := &fakeDecider{}
	e := NewExplorer(src, NewRanker(constScorer(0.5), 0, 4, time.Second), decider, nil, 0.2, 10, false)

	targets, err := e.Explore(context.Background(), RankedItem{Item: post("root", "root")}, digDeeper(), 1)
	require.NoError(t, err)
	assert.Len(t, targets, 10)
	assert.Len(t, decider.seen, 10)
}

func TestExploreSkipsVisitedItems(t *testing.T) {
	// l1's thread links back to root and to itself
	src := chainSource(1)
	src.threads["l1"] = []ContentItem{post("root", "root"), post("l1", "again")}
	dd := digDeeper()
	e := NewExplorer(src, NewRanker(constScorer(1), 0, 1, time.Second), &fakeDecider{fallback: &dd}, nil, 0, 10, false)

	targets, err := e.Explore(context.Background(), RankedItem{Item: post("root", "root")}, digDeeper(), 5)
	require.NoError(t, err)
	assert.Len(t, targets, 1)
	assert.Equal(t, 2, src.fetchCount())
}

func TestExploreBranchFailureKeepsOtherTargets(t *testing.T) {
	src := &fakeSource{
		threads: map[string][]ContentItem{
			"root": {post("a", "branch a"), post("b", "branch b")},
		},
		threadErr: map[string]error{"a": fmt.Errorf("%w: 503", ErrSourceUnavailable)},
	}
	decider := &fakeDecider{decisions: map[string]Decision{
		"a": digDeeper(),
		"b": like(0.9),
	}}
	e := NewExplorer(src, NewRanker(constScorer(1), 0, 1, time.Second), decider, nil, 0, 10, false)

	targets, err := e.Explore(context.Background(), RankedItem{Item: post("root", "root")}, digDeeper(), 2)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Equal(t, map[string]Kind{"a": KindDigDeeper, "b": KindLike}, targetKinds(targets))
}

func TestExploreFallsBackWhenRankingFails(t *testing.T) {
	src := &fakeSource{threads: map[string][]ContentItem{"root": {post("a", "x"), post("b", "y")}}}
	decider := &fakeDecider{}
	e := NewExplorer(src, NewRanker(fakeScorer{err: fmt.Errorf("down")}, 0, 1, time.Second), decider, nil, 0.2, 1, false)

	targets, err := e.Explore(context.Background(), RankedItem{Item: post("root", "root")}, digDeeper(), 1)
	require.NoError(t, err)
	assert.Len(t, targets, 1)
	assert.Equal(t, []string{"a"}, decider.seen)
}
