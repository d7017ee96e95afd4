// Package index provides the typed client for the external Index
// Service. The engine itself (vector similarity, ranking, metadata
// storage) lives behind this API; the pipeline only speaks its
// request/response contract.
package index

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/scholarstream/paperboy/internal/catalog"
	"github.com/scholarstream/paperboy/internal/logging"
	"github.com/scholarstream/paperboy/internal/service"
)

// TextType selects which representation of a paper a search matches against.
type TextType string

const (
	TextTypeAbstract TextType = "abstract"
	TextTypeChunk    TextType = "chunk"
	TextTypeCombined TextType = "combined"
)

// Strategy names a search strategy with its score threshold.
type Strategy struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
}

// FilterSet restricts search results by metadata. Every field is
// optional; an empty set matches everything.
type FilterSet struct {
	Categories       []string `json:"categories,omitempty"`
	Authors          []string `json:"authors,omitempty"`
	PublishedAfter   string   `json:"published_after,omitempty"`
	PublishedBefore  string   `json:"published_before,omitempty"`
	DocIDs           []string `json:"doc_ids,omitempty"`
	TitleKeywords    []string `json:"title_keywords,omitempty"`
	AbstractKeywords []string `json:"abstract_keywords,omitempty"`
	TextType         TextType `json:"text_type,omitempty"`
}

// Filters pairs independently applied include and exclude sets.
type Filters struct {
	Include FilterSet `json:"include,omitempty"`
	Exclude FilterSet `json:"exclude,omitempty"`
}

// SearchOptions configures a find_similar call.
type SearchOptions struct {
	Strategies []Strategy `json:"strategies,omitempty"`
	TopK       int        `json:"top_k"`
	Filters    Filters    `json:"filters,omitempty"`
}

// Match is one scored search result.
type Match struct {
	DocID    string         `json:"doc_id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DocError describes a per-document indexing failure.
type DocError struct {
	DocID string `json:"doc_id"`
	Error string `json:"error"`
}

// IndexResult is the outcome of an index_papers call. AlreadyExists is
// a non-error outcome: the document was indexed by an earlier run.
type IndexResult struct {
	Indexed       []string   `json:"indexed"`
	AlreadyExists []string   `json:"already_exists"`
	Failed        []DocError `json:"failed"`
}

// Client is the typed HTTP client for the Index Service.
type Client struct {
	*service.Client
}

// NewClient creates an Index Service client.
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	return &Client{
		Client: service.NewClient("index", baseURL, timeout, logger),
	}
}

// IndexPapers submits papers (metadata plus content chunks) for indexing.
func (c *Client) IndexPapers(ctx context.Context, papers []catalog.Paper) (IndexResult, error) {
	req := struct {
		Papers []catalog.Paper `json:"papers"`
	}{Papers: papers}

	var result IndexResult
	if err := c.DoJSON(ctx, http.MethodPost, "/index_papers", req, &result); err != nil {
		return IndexResult{}, fmt.Errorf("failed to index papers: %w", err)
	}
	return result, nil
}

// FindSimilar runs a similarity search for query under the given options.
func (c *Client) FindSimilar(ctx context.Context, query string, opts SearchOptions) ([]Match, error) {
	req := struct {
		Query string `json:"query"`
		SearchOptions
	}{Query: query, SearchOptions: opts}

	var payload struct {
		Matches []Match `json:"matches"`
	}
	if err := c.DoJSON(ctx, http.MethodPost, "/find_similar", req, &payload); err != nil {
		return nil, fmt.Errorf("failed to find similar papers: %w", err)
	}
	return payload.Matches, nil
}
