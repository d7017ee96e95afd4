// Package catalog adapts the external paper catalog into the pipeline's
// work-item source for the fetch stage. Each call re-queries the
// upstream catalog; results are not cached between runs.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/scholarstream/paperboy/internal/logging"
	"github.com/scholarstream/paperboy/internal/service"
)

// Paper is one newly published paper record as returned by the catalog.
type Paper struct {
	DocID         string   `json:"doc_id"`
	Title         string   `json:"title"`
	Abstract      string   `json:"abstract"`
	Authors       []string `json:"authors"`
	Categories    []string `json:"categories"`
	PublishedDate string   `json:"published_date"`
	ContentChunks []string `json:"content_chunks,omitempty"`
}

// Window is a half-open publication date range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// DayWindow returns the window covering the calendar day of t (UTC).
func DayWindow(t time.Time) Window {
	day := t.UTC().Truncate(24 * time.Hour)
	return Window{From: day, To: day.Add(24 * time.Hour)}
}

// Client is the typed HTTP client for the paper catalog.
type Client struct {
	*service.Client
}

// NewClient creates a catalog client.
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	return &Client{
		Client: service.NewClient("catalog", baseURL, timeout, logger),
	}
}

// DailyPapers returns the papers published inside the window, in the
// order the catalog reports them. A failure here aborts the fetch
// stage: there is nothing to fan out over.
func (c *Client) DailyPapers(ctx context.Context, window Window) ([]Paper, error) {
	query := url.Values{}
	query.Set("from", window.From.UTC().Format("2006-01-02"))
	query.Set("to", window.To.UTC().Format("2006-01-02"))

	var payload struct {
		Papers []Paper `json:"papers"`
	}
	if err := c.DoJSON(ctx, http.MethodGet, "/papers?"+query.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to list daily papers: %w", err)
	}
	return payload.Papers, nil
}
