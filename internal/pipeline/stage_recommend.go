// internal/pipeline/stage_recommend.go
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/scholarstream/paperboy/internal/backend"
	"github.com/scholarstream/paperboy/internal/index"
	"github.com/scholarstream/paperboy/internal/joblog"
)

// SubscriberSource enumerates users eligible for today's push.
type SubscriberSource interface {
	Subscribers(ctx context.Context, day time.Weekday) ([]backend.Subscriber, error)
}

// RecommendationSink persists one user's recommendation set.
type RecommendationSink interface {
	StoreRecommendations(ctx context.Context, username string, recs []backend.Recommendation) error
}

// SimilaritySearcher runs find_similar against the Index Service.
type SimilaritySearcher interface {
	FindSimilar(ctx context.Context, query string, opts index.SearchOptions) ([]index.Match, error)
}

// RecommendConfig tunes the per-user search.
type RecommendConfig struct {
	TopK       int
	Strategies []index.Strategy
}

// DefaultRecommendConfig returns the default search tuning.
func DefaultRecommendConfig() RecommendConfig {
	return RecommendConfig{
		TopK: 10,
		Strategies: []index.Strategy{
			{Name: "semantic", Threshold: 0.35},
			{Name: "bm25", Threshold: 0.1},
		},
	}
}

// RecommendStage builds a personalized recommendation set for every
// eligible subscriber from their interest profile and filters.
type RecommendStage struct {
	subscribers SubscriberSource
	searcher    SimilaritySearcher
	sink        RecommendationSink
	cfg         RecommendConfig
	now         func() time.Time
	runDate     func() string
}

// NewRecommendStage creates the per-user recommendation stage.
func NewRecommendStage(
	subscribers SubscriberSource,
	searcher SimilaritySearcher,
	sink RecommendationSink,
	cfg RecommendConfig,
	now func() time.Time,
	runDate func() string,
) *RecommendStage {
	if now == nil {
		now = time.Now
	}
	defaults := DefaultRecommendConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = defaults.TopK
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = defaults.Strategies
	}
	return &RecommendStage{
		subscribers: subscribers,
		searcher:    searcher,
		sink:        sink,
		cfg:         cfg,
		now:         now,
		runDate:     runDate,
	}
}

func (s *RecommendStage) Type() joblog.JobType      { return joblog.JobTypeGeneratePerUserBlogs }
func (s *RecommendStage) DependsOn() joblog.JobType { return joblog.JobTypeGenerateAllPapersBlog }

func (s *RecommendStage) Items(ctx context.Context) ([]WorkItem, error) {
	subs, err := s.subscribers.Subscribers(ctx, s.now().UTC().Weekday())
	if err != nil {
		return nil, err
	}
	items := make([]WorkItem, 0, len(subs))
	for _, sub := range subs {
		items = append(items, userItem{sub: sub})
	}
	return items, nil
}

// Process searches the index with the user's interest profile and
// stores the resulting recommendation set. A user with no interest
// keywords configured is skipped, not failed.
func (s *RecommendStage) Process(ctx context.Context, item WorkItem) (ItemOutcome, error) {
	sub := item.(userItem).sub

	if len(sub.InterestKeywords) == 0 {
		return ItemOutcome{
			Status: joblog.StatusSkipped,
			Detail: "no interest keywords configured",
		}, nil
	}

	query := strings.Join(sub.InterestKeywords, ", ")
	matches, err := s.searcher.FindSimilar(ctx, query, index.SearchOptions{
		Strategies: s.cfg.Strategies,
		TopK:       s.cfg.TopK,
		Filters: index.Filters{
			Include: index.FilterSet{
				Categories:     sub.IncludeCategories,
				Authors:        sub.IncludeAuthors,
				PublishedAfter: s.runDate(),
				TextType:       index.TextTypeCombined,
			},
			Exclude: index.FilterSet{
				Categories: sub.ExcludeCategories,
				Authors:    sub.ExcludeAuthors,
			},
		},
	})
	if err != nil {
		return ItemOutcome{}, err
	}

	if len(matches) == 0 {
		return ItemOutcome{
			Status: joblog.StatusSuccess,
			Detail: "no matching papers today",
		}, nil
	}

	recs := make([]backend.Recommendation, 0, len(matches))
	for _, match := range matches {
		recs = append(recs, backend.Recommendation{
			DocID: match.DocID,
			Score: match.Score,
			Reasoning: fmt.Sprintf("matched your interests (%s) with score %.2f",
				query, match.Score),
		})
	}

	if err := s.sink.StoreRecommendations(ctx, sub.Username, recs); err != nil {
		return ItemOutcome{}, err
	}

	return ItemOutcome{
		Status: joblog.StatusSuccess,
		Detail: fmt.Sprintf("%d recommendations stored", len(recs)),
	}, nil
}

// userItem wraps one subscriber as a work item.
type userItem struct {
	sub backend.Subscriber
}

func (u userItem) ScopeKey() string { return u.sub.Username }
