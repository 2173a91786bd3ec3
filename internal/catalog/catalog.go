// Package catalog retrieves dispensable package candidates from the NDC
// directory, preferring precise identifier search with a free-text name
// fallback.
package catalog

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meadowrx/dispense-cli/internal/audit"
	"github.com/meadowrx/dispense-cli/internal/cache"
	"github.com/meadowrx/dispense-cli/internal/model"
	"github.com/meadowrx/dispense-cli/pkg/ndc"
)

const (
	requestTimeout = 10 * time.Second
	searchLimit    = 25
)

// descriptionPattern extracts the leading count and unit from package
// descriptions like "90 TABLET in 1 BOTTLE".
var descriptionPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s+([A-Za-z]+)`)

// Catalog is the candidate-retrieval stage.
type Catalog struct {
	client   ndc.Client
	cache    cache.Cache
	recorder *audit.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Catalog client.
func New(client ndc.Client, c cache.Cache, recorder *audit.Recorder) *Catalog {
	return &Catalog{
		client:   client,
		cache:    c,
		recorder: recorder,
		logger:   zap.L().Named("catalog"),
		now:      time.Now,
	}
}

// SearchByIdentifier returns candidates for an RxCUI, falling back to a
// name search when the identifier search errors or comes back empty.
func (c *Catalog) SearchByIdentifier(ctx context.Context, calculationID, rxcui, fallbackName string) ([]model.CandidatePackage, error) {
	key := cache.CatalogIDKey(rxcui)
	if cached, ok := c.cached(ctx, key); ok {
		c.record(ctx, calculationID, "identifier", rxcui, cached, true)
		return cached, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	products, err := c.client.SearchByRxCUI(opCtx, rxcui, searchLimit)
	cancel()

	candidates := flattenProducts(products, c.now())
	if err != nil || len(candidates) == 0 {
		if err != nil {
			c.logger.Warn("identifier search failed, falling back to name search",
				zap.String("rxcui", rxcui),
				zap.Error(err))
		}
		if fallbackName != "" {
			return c.SearchByName(ctx, calculationID, fallbackName)
		}
		if err != nil {
			return nil, err
		}
	}

	c.store(ctx, key, candidates)
	c.record(ctx, calculationID, "identifier", rxcui, candidates, false)
	return candidates, nil
}

// SearchByName returns candidates matching a generic or brand name.
func (c *Catalog) SearchByName(ctx context.Context, calculationID, name string) ([]model.CandidatePackage, error) {
	key := cache.CatalogNameKey(name)
	if cached, ok := c.cached(ctx, key); ok {
		c.record(ctx, calculationID, "name", name, cached, true)
		return cached, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	products, err := c.client.SearchByName(opCtx, name, searchLimit)
	if err != nil {
		c.recorder.Record(ctx, calculationID, model.EventError, map[string]any{
			"stage": "catalog_search",
			"query": name,
			"error": err.Error(),
		})
		return nil, err
	}

	candidates := flattenProducts(products, c.now())
	c.store(ctx, key, candidates)
	c.record(ctx, calculationID, "name", name, candidates, false)
	return candidates, nil
}

// GetPackage looks up a single package by its NDC. Returns (nil, nil) when
// the directory does not list it.
func (c *Catalog) GetPackage(ctx context.Context, calculationID, packageNDC string) (*model.CandidatePackage, error) {
	key := cache.CatalogPackageKey(packageNDC)
	if cached, ok := c.cached(ctx, key); ok && len(cached) > 0 {
		c.record(ctx, calculationID, "package", packageNDC, cached, true)
		return &cached[0], nil
	}

	opCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	product, err := c.client.GetPackage(opCtx, packageNDC)
	if err != nil {
		return nil, err
	}
	if product == nil {
		c.record(ctx, calculationID, "package", packageNDC, nil, false)
		return nil, nil
	}

	now := c.now()
	for _, candidate := range flattenProducts([]ndc.Product{*product}, now) {
		if candidate.PackageNDC == packageNDC {
			c.store(ctx, key, []model.CandidatePackage{candidate})
			c.record(ctx, calculationID, "package", packageNDC, []model.CandidatePackage{candidate}, false)
			return &candidate, nil
		}
	}
	return nil, nil
}

func (c *Catalog) cached(ctx context.Context, key string) ([]model.CandidatePackage, bool) {
	data, ok := c.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var candidates []model.CandidatePackage
	if err := json.Unmarshal(data, &candidates); err != nil {
		c.cache.Delete(ctx, key)
		return nil, false
	}
	return candidates, true
}

func (c *Catalog) store(ctx context.Context, key string, candidates []model.CandidatePackage) {
	if data, err := json.Marshal(candidates); err == nil {
		c.cache.Set(ctx, key, data, cache.TTLCatalog)
	}
}

func (c *Catalog) record(ctx context.Context, calculationID, method, query string, candidates []model.CandidatePackage, cached bool) {
	ids := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		ids = append(ids, cand.PackageNDC)
	}
	c.recorder.Record(ctx, calculationID, model.EventCatalogSearch, map[string]any{
		"method":       method,
		"query":        query,
		"package_ndcs": ids,
		"cached":       cached,
	})
}

// flattenProducts expands directory products into one candidate per package
// configuration, skipping samples.
func flattenProducts(products []ndc.Product, now time.Time) []model.CandidatePackage {
	var candidates []model.CandidatePackage
	for _, p := range products {
		expiration := parseListingDate(p.ListingExpirationDate)
		strength := ingredientStrength(p.ActiveIngredients)

		for _, pkg := range p.Packaging {
			if pkg.Sample {
				continue
			}
			quantity, unit := parseDescription(pkg.Description)
			candidates = append(candidates, model.CandidatePackage{
				PackageNDC:   pkg.PackageNDC,
				ProductNDC:   p.ProductNDC,
				GenericName:  p.GenericName,
				LabelerName:  p.LabelerName,
				BrandName:    p.BrandName,
				DosageForm:   p.DosageForm,
				Routes:       p.Route,
				Strength:     strength,
				Description:  pkg.Description,
				Quantity:     quantity,
				Unit:         unit,
				Active:       expiration == nil || expiration.After(now),
				ExpirationAt: expiration,
			})
		}
	}
	return candidates
}

// parseDescription extracts the leading "<count> <unit>" pair, defaulting
// to 1 UNIT when the description doesn't lead with a count.
func parseDescription(description string) (float64, string) {
	m := descriptionPattern.FindStringSubmatch(strings.TrimSpace(description))
	if m == nil {
		return 1, "UNIT"
	}
	quantity, err := strconv.ParseFloat(m[1], 64)
	if err != nil || quantity <= 0 {
		return 1, "UNIT"
	}
	return quantity, m[2]
}

// parseListingDate parses the directory's YYYYMMDD expiration format.
func parseListingDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	ts, err := time.Parse("20060102", raw)
	if err != nil {
		return nil
	}
	return &ts
}

func ingredientStrength(ingredients []ndc.ActiveIngredient) string {
	parts := make([]string, 0, len(ingredients))
	for _, ing := range ingredients {
		if ing.Strength != "" {
			parts = append(parts, ing.Strength)
		}
	}
	return strings.Join(parts, "; ")
}
