package main

import (
	"context"
	"errors"
)

// Explorer walks the replies of items the kernel wants to dig into. It only
// decides; the supervisor dispatches the resulting targets.
type Explorer struct {
	source     Source
	ranker     *Ranker
	decider    Decider
	ledger     Ledger
	minScore   float64
	maxReplies int
	skipSeen   bool
}

// NewExplorer creates an explorer. Replies it decides are marked seen in ledger;
// with skipSeen, replies seen by an earlier cycle are not decided again. A nil
// ledger disables seen tracking.
func NewExplorer(source Source, ranker *Ranker, decider Decider, ledger Ledger, minScore float64, maxReplies int, skipSeen bool) *Explorer {
	return &Explorer{
		source:     source,
		ranker:     ranker,
		decider:    decider,
		ledger:     ledger,
		minScore:   minScore,
		maxReplies: maxReplies,
		skipSeen:   skipSeen,
	}
}

// Explore fetches the conversation under root and decides each relevant reply.
// depth is the number of thread fetches allowed along any one branch, this call
// included; depth <= 0 explores nothing. A reply that asks to dig deeper once
// the budget is spent is marked interesting instead.
//
// A failed fetch ends only its own branch: targets found elsewhere are returned
// together with the joined errors.
func (e *Explorer) Explore(ctx context.Context, root RankedItem, rootDecision Decision, depth int) ([]Target, error) {
	if depth <= 0 {
		return nil, nil
	}
	logger.Infof("→ Exploring thread of %s (%s)", root.Item.ID, rootDecision.Reasoning)
	visited := map[string]bool{root.Item.ID: true}
	return e.explore(ctx, root.Item, root.Item, nil, depth, visited)
}

func (e *Explorer) explore(ctx context.Context, root, node ContentItem, path []string, depth int, visited map[string]bool) ([]Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := node.ID
	if len(path) == 0 {
		key = node.ThreadKey()
	}
	replies, err := e.source.FetchThread(ctx, key)
	if err != nil {
		threadFetchCount.WithLabelValues("error").Inc()
		logger.Warnf("Thread fetch for %s failed: %v", key, err)
		return nil, err
	}
	threadFetchCount.WithLabelValues("ok").Inc()

	candidates := make([]ContentItem, 0, len(replies))
	for _, reply := range replies {
		if reply.ID == "" || visited[reply.ID] {
			continue
		}
		visited[reply.ID] = true
		if e.seenBefore(ctx, reply.ID) {
			continue
		}
		candidates = append(candidates, reply)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ranked, err := e.ranker.RankAgainst(ctx, candidates, root.Text, e.minScore)
	if err != nil {
		logger.Warnf("Ranking replies of %s failed, using fetch order: %v", node.ID, err)
		ranked = Unranked(candidates, e.maxReplies)
	}
	if e.maxReplies > 0 && len(ranked) > e.maxReplies {
		ranked = ranked[:e.maxReplies]
	}

	branch := append(append([]string(nil), path...), node.ID)
	tc := &ThreadContext{RootID: root.ID, RootText: root.Text, Path: branch}

	var (
		targets []Target
		errs    []error
	)
	for _, reply := range ranked {
		e.markSeen(ctx, reply.Item.ID)
		d := e.decider.Decide(ctx, reply, tc)
		if d.Kind == KindDigDeeper {
			if depth-1 > 0 {
				targets = append(targets, Target{Item: reply, Decision: d, Depth: len(branch)})
				sub, err := e.explore(ctx, root, reply.Item, branch, depth-1, visited)
				targets = append(targets, sub...)
				if err != nil {
					errs = append(errs, err)
				}
				continue
			}
			logger.Infof("Interesting reply %s at depth %d: %s", reply.Item.ID, len(branch), d.Reasoning)
			d.Kind = KindInteresting
		}
		targets = append(targets, Target{Item: reply, Decision: d, Depth: len(branch)})
	}
	return targets, errors.Join(errs...)
}

func (e *Explorer) seenBefore(ctx context.Context, itemID string) bool {
	if e.ledger == nil || !e.skipSeen {
		return false
	}
	seen, err := e.ledger.HasSeen(ctx, itemID)
	if err != nil {
		logger.Warnf("Checking seen state of reply %s: %v", itemID, err)
		return false
	}
	return seen
}

func (e *Explorer) markSeen(ctx context.Context, itemID string) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.MarkSeen(ctx, itemID); err != nil {
		logger.Warnf("Marking reply %s seen: %v", itemID, err)
	}
}
