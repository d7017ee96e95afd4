// Package backend provides the typed client for the recommendation
// store (the CRUD web backend). The pipeline uses it to enumerate
// subscribers, persist generated blogs, and store per-user
// recommendation sets.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scholarstream/paperboy/internal/logging"
	"github.com/scholarstream/paperboy/internal/service"
)

// Frequency is a subscriber's configured push cadence.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Subscriber is one user eligible for recommendation pushes.
type Subscriber struct {
	Username  string    `json:"username"`
	Frequency Frequency `json:"frequency"`
	// PushWeekday applies to weekly subscribers: 0=Sunday .. 6=Saturday.
	PushWeekday       int      `json:"push_weekday"`
	InterestKeywords  []string `json:"interest_keywords"`
	IncludeCategories []string `json:"include_categories,omitempty"`
	ExcludeCategories []string `json:"exclude_categories,omitempty"`
	IncludeAuthors    []string `json:"include_authors,omitempty"`
	ExcludeAuthors    []string `json:"exclude_authors,omitempty"`
}

// Recommendation is one recommended paper with its reasoning.
type Recommendation struct {
	DocID     string  `json:"doc_id"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Feedback is a user's reaction to a recommended paper.
type Feedback struct {
	Username string `json:"username"`
	Useful   bool   `json:"useful"`
	Comment  string `json:"comment,omitempty"`
}

// Client is the typed HTTP client for the backend service.
type Client struct {
	*service.Client
}

// NewClient creates a backend client.
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	return &Client{
		Client: service.NewClient("backend", baseURL, timeout, logger),
	}
}

// Subscribers returns the users eligible for today's push: all daily
// subscribers plus the weekly subscribers whose configured weekday
// matches day. A failure aborts the recommendation stage.
func (c *Client) Subscribers(ctx context.Context, day time.Weekday) ([]Subscriber, error) {
	var payload struct {
		Subscribers []Subscriber `json:"subscribers"`
	}
	if err := c.DoJSON(ctx, http.MethodGet, "/subscribers", nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}

	eligible := make([]Subscriber, 0, len(payload.Subscribers))
	for _, sub := range payload.Subscribers {
		switch sub.Frequency {
		case FrequencyDaily:
			eligible = append(eligible, sub)
		case FrequencyWeekly:
			if time.Weekday(sub.PushWeekday) == day {
				eligible = append(eligible, sub)
			}
		}
	}
	return eligible, nil
}

// PapersMissingBlog returns the doc ids of papers published on date
// that still lack a generated blog. These form the work items for the
// summarize stage.
func (c *Client) PapersMissingBlog(ctx context.Context, date string) ([]string, error) {
	query := url.Values{}
	query.Set("missing_blog", "true")
	query.Set("date", date)

	var payload struct {
		DocIDs []string `json:"doc_ids"`
	}
	if err := c.DoJSON(ctx, http.MethodGet, "/papers?"+query.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to list papers missing blogs: %w", err)
	}
	return payload.DocIDs, nil
}

// Paper fetches one paper record from the backend by doc id.
func (c *Client) Paper(ctx context.Context, docID string) (title, abstract string, err error) {
	var payload struct {
		Title    string `json:"title"`
		Abstract string `json:"abstract"`
	}
	path := "/papers/" + url.PathEscape(docID)
	if err := c.DoJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return "", "", fmt.Errorf("failed to fetch paper %s: %w", docID, err)
	}
	return payload.Title, payload.Abstract, nil
}

// StoreBlog persists the generated blog text for a paper.
func (c *Client) StoreBlog(ctx context.Context, docID, blog string) error {
	req := struct {
		Blog string `json:"blog"`
	}{Blog: blog}

	path := "/papers/" + url.PathEscape(docID) + "/blog"
	if err := c.DoJSON(ctx, http.MethodPut, path, req, nil); err != nil {
		return fmt.Errorf("failed to store blog for %s: %w", docID, err)
	}
	return nil
}

// StoreRecommendations persists a recommendation set keyed by username.
func (c *Client) StoreRecommendations(ctx context.Context, username string, recs []Recommendation) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("username cannot be empty")
	}
	req := struct {
		Recommendations []Recommendation `json:"recommendations"`
	}{Recommendations: recs}

	path := "/recommendations/" + url.PathEscape(username)
	if err := c.DoJSON(ctx, http.MethodPost, path, req, nil); err != nil {
		return fmt.Errorf("failed to store recommendations for %s: %w", username, err)
	}
	return nil
}

// SubmitFeedback records a user's feedback on a recommended paper.
// The pipeline itself never calls this; it is part of the same
// contract surface and used by operator tooling.
func (c *Client) SubmitFeedback(ctx context.Context, paperID string, fb Feedback) error {
	path := "/recommendations/" + url.PathEscape(paperID) + "/feedback"
	if err := c.DoJSON(ctx, http.MethodPut, path, fb, nil); err != nil {
		return fmt.Errorf("failed to submit feedback for %s: %w", paperID, err)
	}
	return nil
}
