// Package llm wraps the blog-generation collaborator. Generation runs
// through langchaingo against an OpenAI-compatible endpoint; provider
// failures are folded into two kinds the retry policy understands:
// transient (timeouts, rate limits, server errors) and permanent
// (content policy rejections, malformed requests).
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scholarstream/paperboy/internal/logging"
)

var (
	// ErrTransient wraps failures worth retrying with backoff.
	ErrTransient = errors.New("llm: transient failure")

	// ErrPolicy marks a content-policy rejection. Never retried: the
	// same prompt will be rejected again.
	ErrPolicy = errors.New("llm: content policy rejection")

	// ErrEmptyCompletion indicates the provider returned no text.
	ErrEmptyCompletion = errors.New("llm: empty completion")
)

// BlogInput is the paper material a blog is generated from.
type BlogInput struct {
	DocID    string
	Title    string
	Abstract string
}

// Generator produces blog text for one paper.
type Generator interface {
	GenerateBlog(ctx context.Context, input BlogInput) (string, error)
}

// Config holds generator configuration.
type Config struct {
	BaseURL   string
	Model     string
	APIKey    string
	Timeout   time.Duration
	RatePerS  float64
	RateBurst int
}

// Client implements Generator on top of langchaingo.
type Client struct {
	model   llms.Model
	limiter *rate.Limiter
	timeout time.Duration
	logger  *logging.Logger
}

// NewClient creates the langchaingo-backed generator.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	token := cfg.APIKey
	if token == "" {
		// langchaingo requires a token even for keyless local endpoints.
		token = "unused"
	}
	opts = append(opts, openai.WithToken(token))

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	perSecond := cfg.RatePerS
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		timeout: cfg.Timeout,
		logger:  logger.Named("llm"),
	}, nil
}

// GenerateBlog produces blog text for the paper. Errors come back
// wrapped in ErrTransient or ErrPolicy so callers can classify without
// knowing the provider.
func (c *Client) GenerateBlog(ctx context.Context, input BlogInput) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := llms.GenerateFromSinglePrompt(callCtx, c.model, blogPrompt(input))
	if err != nil {
		c.logger.Warn(ctx, "blog generation failed",
			zap.String("doc_id", input.DocID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return "", classify(err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w for %s", ErrEmptyCompletion, input.DocID)
	}

	c.logger.Debug(ctx, "blog generated",
		zap.String("doc_id", input.DocID),
		zap.Int("chars", len(text)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return text, nil
}

// classify folds a provider error into the transient/permanent taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "content policy"),
		strings.Contains(msg, "content_policy"),
		strings.Contains(msg, "content management policy"):
		return fmt.Errorf("%w: %v", ErrPolicy, err)
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"):
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	// Unknown provider errors fail fast rather than burning retries.
	return err
}
