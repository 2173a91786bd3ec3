// Package ndc provides a client for the openFDA NDC directory API, the
// catalog of marketed drug products and their package configurations.
package ndc

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

const defaultBaseURL = "https://api.fda.gov/drug/ndc.json"

// Client defines the NDC directory operations used by the catalog stage.
type Client interface {
	// SearchByRxCUI returns products whose openFDA annotations carry the RxCUI.
	SearchByRxCUI(ctx context.Context, rxcui string, limit int) ([]Product, error)

	// SearchByName returns products matching a generic or brand name.
	SearchByName(ctx context.Context, name string, limit int) ([]Product, error)

	// GetPackage returns the product carrying the given package NDC, or nil
	// when no product lists it.
	GetPackage(ctx context.Context, packageNDC string) (*Product, error)
}

// Product is a raw NDC directory product record.
type Product struct {
	ProductNDC            string             `json:"product_ndc"`
	GenericName           string             `json:"generic_name"`
	BrandName             string             `json:"brand_name"`
	LabelerName           string             `json:"labeler_name"`
	DosageForm            string             `json:"dosage_form"`
	Route                 []string           `json:"route"`
	ActiveIngredients     []ActiveIngredient `json:"active_ingredients"`
	Packaging             []Packaging        `json:"packaging"`
	ListingExpirationDate string             `json:"listing_expiration_date"`
	MarketingCategory     string             `json:"marketing_category"`
	Finished              bool               `json:"finished"`
}

// ActiveIngredient is a named ingredient with its labeled strength.
type ActiveIngredient struct {
	Name     string `json:"name"`
	Strength string `json:"strength"`
}

// Packaging is one package configuration of a product.
type Packaging struct {
	PackageNDC  string `json:"package_ndc"`
	Description string `json:"description"`
	Sample      bool   `json:"sample"`
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

// WithAPIKey sets an openFDA API key, raising the per-IP quota.
func WithAPIKey(key string) Option {
	return func(c *client) {
		c.apiKey = key
	}
}

// WithRateLimit sets the requests-per-second limit. Unkeyed openFDA access
// allows 240 requests per minute.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

type client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

// NewClient creates an NDC directory client with the given options.
func NewClient(opts ...Option) Client {
	c := &client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		limiter:    rate.NewLimiter(4, 4),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// searchResponse is the openFDA envelope. A query with zero matches comes
// back as HTTP 404 with an error object rather than an empty results array.
type searchResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Results []Product `json:"results"`
}

func (c *client) SearchByRxCUI(ctx context.Context, rxcui string, limit int) ([]Product, error) {
	return c.search(ctx, fmt.Sprintf(`openfda.rxcui:"%s"`, rxcui), limit)
}

func (c *client) SearchByName(ctx context.Context, name string, limit int) ([]Product, error) {
	query := fmt.Sprintf(`generic_name:"%s"+brand_name:"%s"`, name, name)
	return c.search(ctx, query, limit)
}

func (c *client) GetPackage(ctx context.Context, packageNDC string) (*Product, error) {
	products, err := c.search(ctx, fmt.Sprintf(`packaging.package_ndc:"%s"`, packageNDC), 1)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}
	return &products[0], nil
}

func (c *client) search(ctx context.Context, query string, limit int) ([]Product, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ndc: rate limit")
	}

	params := url.Values{
		"search": {query},
		"limit":  {strconv.Itoa(limit)},
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "ndc: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ndc: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ndc: read body")
	}

	// 404 with a NOT_FOUND error object means no matches.
	if resp.StatusCode == http.StatusNotFound {
		var parsed searchResponse
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil && parsed.Error.Code == "NOT_FOUND" {
			return nil, nil
		}
		return nil, eris.Errorf("ndc: returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("ndc: returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "ndc: parse response")
	}
	return parsed.Results, nil
}
