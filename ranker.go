package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scorer returns a similarity between two texts. Higher is more similar.
type Scorer interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// Ranker drops low-relevance items before they reach the decision kernel
type Ranker struct {
	scorer      Scorer
	minScore    float64
	concurrency int
	timeout     time.Duration
}

func NewRanker(scorer Scorer, minScore float64, concurrency int, timeout time.Duration) *Ranker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Ranker{
		scorer:      scorer,
		minScore:    minScore,
		concurrency: concurrency,
		timeout:     timeout,
	}
}

// Rank scores items against the search terms and returns those at or above the
// threshold, best first. Equal scores keep fetch order.
func (r *Ranker) Rank(ctx context.Context, items []ContentItem, terms []string) ([]RankedItem, error) {
	return r.RankAgainst(ctx, items, queryText(terms), r.minScore)
}

// RankAgainst scores items against an arbitrary reference text
func (r *Ranker) RankAgainst(ctx context.Context, items []ContentItem, query string, minScore float64) ([]RankedItem, error) {
	if len(items) == 0 {
		return nil, nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	scores := make([]float64, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range items {
		g.Go(func() error {
			score, err := r.scorer.Similarity(gctx, query, items[i].Text)
			if err != nil {
				return fmt.Errorf("scoring %s: %w", items[i].ID, err)
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRankingUnavailable, err)
	}

	ranked := make([]RankedItem, 0, len(items))
	for i, item := range items {
		if scores[i] < minScore {
			continue
		}
		ranked = append(ranked, RankedItem{
			Item:   item,
			Score:  scores[i],
			Reason: relevanceReason(scores[i]),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	logger.Debugf("Ranked %d items, %d at or above %.2f", len(items), len(ranked), minScore)
	return ranked, nil
}

// Unranked wraps items in fetch order without scores, capped at max
func Unranked(items []ContentItem, max int) []RankedItem {
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	out := make([]RankedItem, len(items))
	for i, item := range items {
		out[i] = RankedItem{Item: item, Rank: i + 1, Reason: "unranked"}
	}
	return out
}

func queryText(terms []string) string {
	sorted := append([]string(nil), terms...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

func relevanceReason(score float64) string {
	switch {
	case score > 0.8:
		return fmt.Sprintf("Highly relevant (score: %.2f)", score)
	case score > 0.6:
		return fmt.Sprintf("Moderately relevant (score: %.2f)", score)
	default:
		return fmt.Sprintf("Somewhat relevant (score: %.2f)", score)
	}
}

// KeywordScorer is the fallback when no embedding backend is configured: the
// fraction of query words contained in the text.
type KeywordScorer struct{}

func (KeywordScorer) Similarity(ctx context.Context, query, text string) (float64, error) {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return 0, nil
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			matches++
		}
	}
	return float64(matches) / float64(len(words)), nil
}
