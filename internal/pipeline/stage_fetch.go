// internal/pipeline/stage_fetch.go
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/scholarstream/paperboy/internal/catalog"
	"github.com/scholarstream/paperboy/internal/index"
	"github.com/scholarstream/paperboy/internal/joblog"
)

// PaperSource enumerates newly published papers for a date window.
type PaperSource interface {
	DailyPapers(ctx context.Context, window catalog.Window) ([]catalog.Paper, error)
}

// PaperIndexer submits papers to the Index Service.
type PaperIndexer interface {
	IndexPapers(ctx context.Context, papers []catalog.Paper) (index.IndexResult, error)
}

// FetchStage pulls today's papers from the catalog and fans them out
// one by one through the Index Service.
type FetchStage struct {
	source  PaperSource
	indexer PaperIndexer
	now     func() time.Time
}

// NewFetchStage creates the fetch stage. now defaults to time.Now.
func NewFetchStage(source PaperSource, indexer PaperIndexer, now func() time.Time) *FetchStage {
	if now == nil {
		now = time.Now
	}
	return &FetchStage{source: source, indexer: indexer, now: now}
}

func (s *FetchStage) Type() joblog.JobType      { return joblog.JobTypeFetchDailyPapers }
func (s *FetchStage) DependsOn() joblog.JobType { return "" }

// Items re-queries the catalog for today's window on every call.
func (s *FetchStage) Items(ctx context.Context) ([]WorkItem, error) {
	papers, err := s.source.DailyPapers(ctx, catalog.DayWindow(s.now()))
	if err != nil {
		return nil, err
	}
	items := make([]WorkItem, 0, len(papers))
	for _, paper := range papers {
		items = append(items, paperItem{paper: paper})
	}
	return items, nil
}

// Process indexes a single paper. A doc id the Index Service already
// holds is a skip, not a failure; a doc id the service rejects is a
// permanent failure (re-submitting the same malformed paper cannot
// succeed).
func (s *FetchStage) Process(ctx context.Context, item WorkItem) (ItemOutcome, error) {
	paper := item.(paperItem).paper

	result, err := s.indexer.IndexPapers(ctx, []catalog.Paper{paper})
	if err != nil {
		return ItemOutcome{}, err
	}

	for _, id := range result.AlreadyExists {
		if id == paper.DocID {
			return ItemOutcome{Status: joblog.StatusSkipped, Detail: "already indexed"}, nil
		}
	}
	for _, failure := range result.Failed {
		if failure.DocID == paper.DocID {
			return ItemOutcome{}, fmt.Errorf("index rejected %s: %s", paper.DocID, failure.Error)
		}
	}
	for _, id := range result.Indexed {
		if id == paper.DocID {
			return ItemOutcome{Status: joblog.StatusSuccess}, nil
		}
	}
	return ItemOutcome{}, fmt.Errorf("index response does not mention %s", paper.DocID)
}

// paperItem wraps one catalog paper as a work item.
type paperItem struct {
	paper catalog.Paper
}

func (p paperItem) ScopeKey() string { return p.paper.DocID }
