package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultTavilyURL = "https://api.tavily.com/search"

var (
	// ErrInvalidConfig indicates invalid Tavily client configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMalformedResponse indicates the provider returned a payload that
	// does not match the expected shape. Callers treat this the same as a
	// transport failure.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// TavilyConfig holds configuration for the Tavily search client.
type TavilyConfig struct {
	// APIKey is the Tavily API key. Required.
	APIKey string

	// BaseURL overrides the API endpoint, mainly for tests. Defaults to
	// the public Tavily endpoint.
	BaseURL string

	// MaxResults is the hard ceiling on results per query. Requests
	// asking for more are clamped, never rejected.
	MaxResults int

	// RequestsPerMinute rate-limits outbound calls. Zero disables
	// limiting.
	RequestsPerMinute int
}

// Validate validates the configuration.
func (c TavilyConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: API key required", ErrInvalidConfig)
	}
	if c.MaxResults < 1 {
		return fmt.Errorf("%w: max results must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// TavilyClient implements Searcher against the Tavily search API.
type TavilyClient struct {
	config  TavilyConfig
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewTavilyClient creates a Tavily search client.
func NewTavilyClient(cfg TavilyConfig, logger *zap.Logger) (*TavilyClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultTavilyURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &TavilyClient{
		config:  cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: limiter,
		logger:  logger,
	}, nil
}

// tavilyRequest is the Tavily API request body.
type tavilyRequest struct {
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth,omitempty"` // basic or advanced
	Topic             string `json:"topic,omitempty"`        // general or news
	MaxResults        int    `json:"max_results,omitempty"`
	IncludeRawContent bool   `json:"include_raw_content,omitempty"`
}

// tavilyResponse is the Tavily API response body.
type tavilyResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		RawContent    string  `json:"raw_content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
}

// Search executes one query against Tavily, honoring the rate limit and
// the configured result ceiling.
func (c *TavilyClient) Search(ctx context.Context, req *Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	maxResults := req.MaxResults
	if maxResults <= 0 || maxResults > c.config.MaxResults {
		maxResults = c.config.MaxResults
	}

	topic := req.Topic
	if topic == "" {
		topic = "general"
	}

	payload, err := json.Marshal(tavilyRequest{
		Query:             req.Query,
		SearchDepth:       "basic",
		Topic:             topic,
		MaxResults:        maxResults,
		IncludeRawContent: req.IncludeRawContent,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		c.logger.Warn("search provider error",
			zap.Int("status", res.StatusCode),
			zap.String("query", req.Query))
		return nil, fmt.Errorf("search provider returned status %d", res.StatusCode)
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	resp := &Response{Results: make([]Result, 0, len(parsed.Results))}
	for _, r := range parsed.Results {
		// A hit without a URL cannot be deduplicated or cited; treat
		// the whole payload as malformed rather than let untyped data
		// into the core.
		if r.URL == "" {
			return nil, fmt.Errorf("%w: result missing url", ErrMalformedResponse)
		}
		resp.Results = append(resp.Results, Result{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			RawContent:    r.RawContent,
			Score:         r.Score,
			PublishedDate: r.PublishedDate,
		})
	}

	c.logger.Debug("search completed",
		zap.String("query", req.Query),
		zap.Int("results", len(resp.Results)))

	return resp, nil
}
