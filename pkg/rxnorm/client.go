// Package rxnorm provides a client for the National Library of Medicine
// RxNorm REST API, used to map free-text drug names onto canonical RxCUI
// identifiers.
package rxnorm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://rxnav.nlm.nih.gov/REST"

// Client defines the RxNorm operations used by the standardization stage.
type Client interface {
	// ApproximateMatch returns scored RxCUI candidates for a free-text term.
	ApproximateMatch(ctx context.Context, term string, maxEntries int) ([]Candidate, error)

	// GetProperties returns the canonical name and term type for an RxCUI.
	GetProperties(ctx context.Context, rxcui string) (*Properties, error)
}

// Candidate is a scored approximate-match result.
type Candidate struct {
	RxCUI string
	Name  string
	Score float64
	Rank  int
}

// Properties holds the canonical attributes of an RxCUI concept.
type Properties struct {
	RxCUI string
	Name  string
	TTY   string
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(base string) Option {
	return func(c *client) {
		c.baseURL = base
	}
}

// WithRateLimit sets the requests-per-second limit. NLM asks for no more
// than 20 req/s per IP.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

type client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates an RxNorm client with the given options.
func NewClient(opts ...Option) Client {
	c := &client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		limiter:    rate.NewLimiter(20, 20),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// approximateResponse is the JSON response from approximateTerm.
type approximateResponse struct {
	ApproximateGroup struct {
		Candidate []struct {
			RxCUI string `json:"rxcui"`
			Score string `json:"score"`
			Rank  string `json:"rank"`
			Name  string `json:"name"`
		} `json:"candidate"`
	} `json:"approximateGroup"`
}

func (c *client) ApproximateMatch(ctx context.Context, term string, maxEntries int) ([]Candidate, error) {
	if maxEntries <= 0 {
		maxEntries = 10
	}

	params := url.Values{
		"term":       {term},
		"maxEntries": {strconv.Itoa(maxEntries)},
	}
	body, err := c.get(ctx, "/approximateTerm.json?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp approximateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "rxnorm: parse approximate match response")
	}

	candidates := make([]Candidate, 0, len(resp.ApproximateGroup.Candidate))
	for _, raw := range resp.ApproximateGroup.Candidate {
		if raw.RxCUI == "" {
			continue
		}
		score, _ := strconv.ParseFloat(raw.Score, 64)
		rank, _ := strconv.Atoi(raw.Rank)
		candidates = append(candidates, Candidate{
			RxCUI: raw.RxCUI,
			Name:  raw.Name,
			Score: score,
			Rank:  rank,
		})
	}
	return candidates, nil
}

// propertiesResponse is the JSON response from rxcui/{id}/properties.
type propertiesResponse struct {
	Properties struct {
		RxCUI string `json:"rxcui"`
		Name  string `json:"name"`
		TTY   string `json:"tty"`
	} `json:"properties"`
}

func (c *client) GetProperties(ctx context.Context, rxcui string) (*Properties, error) {
	body, err := c.get(ctx, fmt.Sprintf("/rxcui/%s/properties.json", url.PathEscape(rxcui)))
	if err != nil {
		return nil, err
	}

	var resp propertiesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "rxnorm: parse properties response")
	}
	if resp.Properties.RxCUI == "" {
		return nil, nil
	}
	return &Properties{
		RxCUI: resp.Properties.RxCUI,
		Name:  resp.Properties.Name,
		TTY:   resp.Properties.TTY,
	}, nil
}

func (c *client) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rxnorm: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, eris.Wrap(err, "rxnorm: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "rxnorm: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("rxnorm: returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "rxnorm: read body")
	}
	return body, nil
}
