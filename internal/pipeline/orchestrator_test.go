package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarstream/paperboy/internal/joblog"
	"github.com/scholarstream/paperboy/internal/logging"
)

func newTestOrchestrator(t *testing.T, store *joblog.Store, stages []Stage) *Orchestrator {
	t.Helper()
	exec := newTestExecutor(t, store, 0.10)
	orch, err := NewOrchestrator(store, exec, stages, logging.NewTestLogger().Logger, nil)
	require.NoError(t, err)
	return orch
}

// threeStages wires fetch -> blog -> recommend fakes with the standard
// dependency chain.
func threeStages() (*fakeStage, *fakeStage, *fakeStage) {
	fetch := newFakeStage(joblog.JobTypeFetchDailyPapers, "p1", "p2")
	blog := newFakeStage(joblog.JobTypeGenerateAllPapersBlog, "p1", "p2")
	blog.deps = joblog.JobTypeFetchDailyPapers
	recommend := newFakeStage(joblog.JobTypeGeneratePerUserBlogs, "alice", "bob")
	recommend.deps = joblog.JobTypeGenerateAllPapersBlog
	return fetch, blog, recommend
}

func TestOrchestratorRunsStagesInOrder(t *testing.T) {
	store := newTestStore(t)
	fetch, blog, recommend := threeStages()
	orch := newTestOrchestrator(t, store, []Stage{fetch, blog, recommend})

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StageSuccess, report.Overall)
	assert.Zero(t, report.ExitCode())
	require.Len(t, report.Stages, 3)
	assert.Equal(t, joblog.JobTypeFetchDailyPapers, report.Stages[0].JobType)
	assert.Equal(t, joblog.JobTypeGenerateAllPapersBlog, report.Stages[1].JobType)
	assert.Equal(t, joblog.JobTypeGeneratePerUserBlogs, report.Stages[2].JobType)
	for _, stage := range report.Stages {
		assert.Equal(t, StageSuccess, stage.Status)
	}
}

func TestOrchestratorHaltsDownstreamOfFailedStage(t *testing.T) {
	store := newTestStore(t)
	fetch, blog, recommend := threeStages()
	fetch.itemsErr = errors.New("catalog unreachable")
	orch := newTestOrchestrator(t, store, []Stage{fetch, blog, recommend})

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StageFailed, report.Overall)
	assert.Equal(t, 1, report.ExitCode())
	assert.Equal(t, StageFailed, report.Stages[0].Status)
	assert.Equal(t, StageSkipped, report.Stages[1].Status)
	assert.Equal(t, StageSkipped, report.Stages[2].Status)

	// Downstream stages were never started.
	assert.Zero(t, blog.totalCalls())
	assert.Zero(t, recommend.totalCalls())
}

func TestOrchestratorPartialSuccessSatisfiesDependency(t *testing.T) {
	store := newTestStore(t)
	fetch, blog, recommend := threeStages()

	// One of ten papers fails: within tolerance, partial_success.
	fetch.items = nil
	for i := 0; i < 10; i++ {
		fetch.items = append(fetch.items, scopeItem(string(rune('a'+i))))
	}
	fetch.process = func(_ context.Context, item WorkItem) (ItemOutcome, error) {
		if item.ScopeKey() == "a" {
			return ItemOutcome{}, errors.New("rejected")
		}
		return ItemOutcome{Status: joblog.StatusSuccess}, nil
	}

	orch := newTestOrchestrator(t, store, []Stage{fetch, blog, recommend})

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StagePartialSuccess, report.Stages[0].Status)
	assert.Equal(t, StageSuccess, report.Stages[1].Status, "partial upstream still gates open")
	assert.Equal(t, StagePartialSuccess, report.Overall)
	assert.Zero(t, report.ExitCode())
	assert.Positive(t, blog.totalCalls())
}

func TestOrchestratorSkipsStageThatSucceededToday(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// An earlier run today already completed the fetch stage.
	jobID, err := store.Start(ctx, joblog.JobTypeFetchDailyPapers, joblog.StageScopeKey)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, jobID, joblog.StatusSuccess, ""))

	fetch, blog, recommend := threeStages()
	orch := newTestOrchestrator(t, store, []Stage{fetch, blog, recommend})

	report, err := orch.Run(ctx)
	require.NoError(t, err)

	assert.Zero(t, fetch.totalCalls(), "succeeded stage is not re-run")
	assert.Equal(t, StageSuccess, report.Stages[0].Status)
	assert.Equal(t, StageSuccess, report.Stages[1].Status)
	assert.Equal(t, StageSuccess, report.Overall)
	assert.Positive(t, blog.totalCalls())
	assert.Positive(t, recommend.totalCalls())
}

func TestOrchestratorFullReRunIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	fetch, blog, recommend := threeStages()
	orch := newTestOrchestrator(t, store, []Stage{fetch, blog, recommend})

	first, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StageSuccess, first.Overall)

	callsAfterFirst := fetch.totalCalls() + blog.totalCalls() + recommend.totalCalls()

	second, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageSuccess, second.Overall)
	assert.Equal(t, callsAfterFirst, fetch.totalCalls()+blog.totalCalls()+recommend.totalCalls(),
		"a same-day re-run performs no work")
}

func TestNewOrchestratorValidatesStageGraph(t *testing.T) {
	store := newTestStore(t)
	exec := newTestExecutor(t, store, 0.10)
	testLogger := logging.NewTestLogger().Logger

	_, err := NewOrchestrator(store, exec, nil, testLogger, nil)
	require.Error(t, err)

	dup := newFakeStage(joblog.JobTypeFetchDailyPapers, "p1")
	_, err = NewOrchestrator(store, exec, []Stage{dup, dup}, testLogger, nil)
	require.ErrorContains(t, err, "duplicate stage")

	orphan := newFakeStage(joblog.JobTypeGenerateAllPapersBlog)
	orphan.deps = joblog.JobTypeFetchDailyPapers
	_, err = NewOrchestrator(store, exec, []Stage{orphan}, testLogger, nil)
	require.ErrorContains(t, err, "does not precede")
}
