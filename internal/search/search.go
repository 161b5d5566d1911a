// Package search fans a query out to one of the supported web search
// engines and normalizes the response.
package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"golang.org/x/time/rate"
)

var (
	// ErrUnsupportedEngine is returned for an unknown engine name.
	ErrUnsupportedEngine = errors.New("search: unsupported engine")
	// ErrMissingQuery is returned for an empty query.
	ErrMissingQuery = errors.New("search: empty query")
)

// Engine identifies a search backend.
type Engine string

const (
	EngineGoogle     Engine = "google"
	EngineDuckDuckGo Engine = "duckduckgo"
	EngineBing       Engine = "bing"
)

// ParseEngine normalizes an engine name.
func ParseEngine(name string) (Engine, error) {
	switch Engine(strings.ToLower(name)) {
	case EngineGoogle:
		return EngineGoogle, nil
	case EngineDuckDuckGo:
		return EngineDuckDuckGo, nil
	case EngineBing:
		return EngineBing, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedEngine, "engine: %s", name)
	}
}

// Result is one normalized search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Config holds API key material and optional endpoint overrides.
type Config struct {
	GoogleAPIKey     string `json:"googleApiKey"`
	GoogleCX         string `json:"googleCx"`
	DuckDuckGoAPIKey string `json:"duckduckgoApiKey"`
	BingAPIKey       string `json:"bingApiKey"`

	// Endpoint overrides; defaults point at the public APIs.
	GoogleURL     string `json:"-"`
	DuckDuckGoURL string `json:"-"`
	BingURL       string `json:"-"`
}

const (
	defaultGoogleURL     = "https://www.googleapis.com/customsearch/v1"
	defaultDuckDuckGoURL = "https://api.duckduckgo.com/"
	defaultBingURL       = "https://api.bing.microsoft.com/v7.0/search"

	bingResultCount = "5"
)

// Client queries one engine at a time, rate limited.
type Client struct {
	cfg     Config
	httpc   *http.Client
	limiter *rate.Limiter
}

// New builds a search client. httpc may be nil.
func New(cfg Config, httpc *http.Client) *Client {
	if cfg.GoogleURL == "" {
		cfg.GoogleURL = defaultGoogleURL
	}
	if cfg.DuckDuckGoURL == "" {
		cfg.DuckDuckGoURL = defaultDuckDuckGoURL
	}
	if cfg.BingURL == "" {
		cfg.BingURL = defaultBingURL
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		cfg:     cfg,
		httpc:   httpc,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// Search runs a query against the given engine.
func (c *Client) Search(ctx context.Context, engine Engine, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrMissingQuery
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit")
	}

	switch engine {
	case EngineGoogle:
		return c.searchGoogle(ctx, query)
	case EngineDuckDuckGo:
		return c.searchDuckDuckGo(ctx, query)
	case EngineBing:
		return c.searchBing(ctx, query)
	default:
		return nil, errors.Wrapf(ErrUnsupportedEngine, "engine: %s", engine)
	}
}

func (c *Client) searchGoogle(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{
		"key": {c.cfg.GoogleAPIKey},
		"cx":  {c.cfg.GoogleCX},
		"q":   {query},
	}
	body, err := c.get(ctx, c.cfg.GoogleURL, params, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Items []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
			Link    string `json:"link"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "decode google response")
	}

	results := make([]Result, 0, len(payload.Items))
	for _, item := range payload.Items {
		results = append(results, Result{Title: item.Title, Snippet: item.Snippet, URL: item.Link})
	}
	return results, nil
}

func (c *Client) searchDuckDuckGo(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{
		"q":       {query},
		"format":  {"json"},
		"api_key": {c.cfg.DuckDuckGoAPIKey},
	}
	body, err := c.get(ctx, c.cfg.DuckDuckGoURL, params, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "decode duckduckgo response")
	}

	var results []Result
	for _, topic := range payload.RelatedTopics {
		if topic.Text == "" || topic.FirstURL == "" {
			continue
		}
		results = append(results, Result{Title: topic.Text, Snippet: topic.Text, URL: topic.FirstURL})
	}
	return results, nil
}

func (c *Client) searchBing(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{
		"q":     {query},
		"count": {bingResultCount},
	}
	headers := map[string]string{"Ocp-Apim-Subscription-Key": c.cfg.BingAPIKey}
	body, err := c.get(ctx, c.cfg.BingURL, params, headers)
	if err != nil {
		return nil, err
	}

	var payload struct {
		WebPages struct {
			Value []struct {
				Name    string `json:"name"`
				Snippet string `json:"snippet"`
				URL     string `json:"url"`
			} `json:"value"`
		} `json:"webPages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "decode bing response")
	}

	results := make([]Result, 0, len(payload.WebPages.Value))
	for _, item := range payload.WebPages.Value {
		results = append(results, Result{Title: item.Name, Snippet: item.Snippet, URL: item.URL})
	}
	return results, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "search request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("search API error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
