// internal/pipeline/stage_blog.go
package pipeline

import (
	"context"
	"fmt"

	"github.com/scholarstream/paperboy/internal/joblog"
	"github.com/scholarstream/paperboy/internal/llm"
)

// BlogBackend is the backend surface the blog stage needs: the list of
// papers still lacking a blog, the paper material, and blog persistence.
type BlogBackend interface {
	PapersMissingBlog(ctx context.Context, date string) ([]string, error)
	Paper(ctx context.Context, docID string) (title, abstract string, err error)
	StoreBlog(ctx context.Context, docID, blog string) error
}

// BlogStage generates a blog for every fetched paper that does not
// have one yet, and persists the text through the backend.
type BlogStage struct {
	backend   BlogBackend
	generator llm.Generator
	runDate   func() string
}

// NewBlogStage creates the summarize stage. runDate supplies today's
// run date key, normally joblog.Store.RunDate.
func NewBlogStage(backend BlogBackend, generator llm.Generator, runDate func() string) *BlogStage {
	return &BlogStage{backend: backend, generator: generator, runDate: runDate}
}

func (s *BlogStage) Type() joblog.JobType      { return joblog.JobTypeGenerateAllPapersBlog }
func (s *BlogStage) DependsOn() joblog.JobType { return joblog.JobTypeFetchDailyPapers }

func (s *BlogStage) Items(ctx context.Context) ([]WorkItem, error) {
	docIDs, err := s.backend.PapersMissingBlog(ctx, s.runDate())
	if err != nil {
		return nil, err
	}
	items := make([]WorkItem, 0, len(docIDs))
	for _, docID := range docIDs {
		items = append(items, blogItem{docID: docID})
	}
	return items, nil
}

// Process generates and persists one blog. LLM timeouts surface as
// transient errors; content-policy rejections are permanent and fail
// after a single attempt.
func (s *BlogStage) Process(ctx context.Context, item WorkItem) (ItemOutcome, error) {
	docID := item.(blogItem).docID

	title, abstract, err := s.backend.Paper(ctx, docID)
	if err != nil {
		return ItemOutcome{}, err
	}

	text, err := s.generator.GenerateBlog(ctx, llm.BlogInput{
		DocID:    docID,
		Title:    title,
		Abstract: abstract,
	})
	if err != nil {
		return ItemOutcome{}, err
	}

	if err := s.backend.StoreBlog(ctx, docID, text); err != nil {
		return ItemOutcome{}, err
	}

	return ItemOutcome{
		Status: joblog.StatusSuccess,
		Detail: fmt.Sprintf("blog stored (%d chars)", len(text)),
	}, nil
}

// blogItem wraps one doc id awaiting a blog.
type blogItem struct {
	docID string
}

func (b blogItem) ScopeKey() string { return b.docID }
