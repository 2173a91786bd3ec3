package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Cache is the read-through cache used by the pipeline stages. Get returns
// (nil, false) on miss; a miss is never an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Exists(ctx context.Context, key string) (bool, error)
}

// Stage TTLs. Interpretation results are stable for the life of a
// prescription image, identifier mappings change only on vocabulary
// releases, and catalog listings churn with supplier stock.
const (
	TTLInterpretation = 72 * time.Hour
	TTLStandardize    = 30 * 24 * time.Hour
	TTLCatalog        = 6 * time.Hour
)

// InterpretationKey hashes the raw prescription text so arbitrarily long
// free text maps to a fixed-width key.
func InterpretationKey(rawText string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(rawText)))
	return "interpretation:" + hex.EncodeToString(sum[:])
}

// StandardizeKey builds the cache key for a normalized drug term lookup.
func StandardizeKey(term, strength, form string) string {
	return fmt.Sprintf("standardize:%s:%s:%s",
		strings.ToLower(strings.TrimSpace(term)),
		strings.ToLower(strings.TrimSpace(strength)),
		strings.ToLower(strings.TrimSpace(form)))
}

// CatalogIDKey keys candidate listings fetched by canonical identifier.
func CatalogIDKey(rxcui string) string {
	return "catalog:id:" + strings.TrimSpace(rxcui)
}

// CatalogNameKey keys candidate listings fetched by drug name.
func CatalogNameKey(name string) string {
	return "catalog:name:" + strings.ToLower(strings.TrimSpace(name))
}

// CatalogPackageKey keys a single package record fetched by its NDC.
func CatalogPackageKey(ndc string) string {
	return "catalog:pkg:" + strings.TrimSpace(ndc)
}
