// Package standardize resolves parsed drug names to canonical RxNorm
// identifiers. Resolution failing is a valid terminal state: the pipeline
// continues without an identifier rather than aborting.
package standardize

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/meadowrx/dispense-cli/internal/audit"
	"github.com/meadowrx/dispense-cli/internal/cache"
	"github.com/meadowrx/dispense-cli/internal/model"
	"github.com/meadowrx/dispense-cli/pkg/rxnorm"
)

const (
	requestTimeout = 5 * time.Second
	maxCandidates  = 10
)

// Standardizer is the standardization stage.
type Standardizer struct {
	client   rxnorm.Client
	cache    cache.Cache
	recorder *audit.Recorder
	logger   *zap.Logger
}

// New creates a Standardizer.
func New(client rxnorm.Client, c cache.Cache, recorder *audit.Recorder) *Standardizer {
	return &Standardizer{
		client:   client,
		cache:    c,
		recorder: recorder,
		logger:   zap.L().Named("standardize"),
	}
}

// Standardize maps a drug name with optional strength and form onto a
// prescribable identifier. Returns (nil, nil) when no candidate resolves;
// registry errors are logged and audited but also come back as absent.
func (s *Standardizer) Standardize(ctx context.Context, calculationID, drugName, strength, form string) (*model.StandardizedIdentifier, error) {
	term := foldTerm(drugName)
	if term == "" {
		return nil, nil
	}

	key := cache.StandardizeKey(term, strength, form)
	if data, ok := s.cache.Get(ctx, key); ok {
		var id model.StandardizedIdentifier
		if err := json.Unmarshal(data, &id); err == nil {
			return &id, nil
		}
		s.cache.Delete(ctx, key)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	id, err := s.resolve(ctx, compositeTerm(term, strength, form))
	if err != nil {
		s.logger.Warn("standardization failed, continuing without identifier",
			zap.String("drug_name", drugName),
			zap.Error(err))
		s.recorder.Record(ctx, calculationID, model.EventStandardization, map[string]any{
			"term":     term,
			"resolved": false,
			"error":    err.Error(),
		})
		return nil, nil
	}

	payload := map[string]any{"term": term, "resolved": id != nil}
	if id != nil {
		payload["rxcui"] = id.RxCUI
		payload["tty"] = id.TermType

		if data, err := json.Marshal(id); err == nil {
			s.cache.Set(ctx, key, data, cache.TTLStandardize)
		}
	}
	s.recorder.Record(ctx, calculationID, model.EventStandardization, payload)
	return id, nil
}

// resolve walks approximate-match candidates best first and accepts the
// first one whose term type is directly prescribable.
func (s *Standardizer) resolve(ctx context.Context, term string) (*model.StandardizedIdentifier, error) {
	candidates, err := s.client.ApproximateMatch(ctx, term, maxCandidates)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if seen[c.RxCUI] {
			continue
		}
		seen[c.RxCUI] = true

		props, err := s.client.GetProperties(ctx, c.RxCUI)
		if err != nil {
			return nil, err
		}
		if props == nil {
			continue
		}

		id := &model.StandardizedIdentifier{
			RxCUI:    props.RxCUI,
			Name:     props.Name,
			TermType: props.TTY,
		}
		if id.Prescribable() {
			return id, nil
		}
	}
	return nil, nil
}

func compositeTerm(term, strength, form string) string {
	parts := []string{term}
	if strength = strings.TrimSpace(strength); strength != "" {
		parts = append(parts, strings.ToLower(strength))
	}
	if form = strings.TrimSpace(form); form != "" {
		parts = append(parts, strings.ToLower(form))
	}
	return strings.Join(parts, " ")
}

// foldTerm lowercases and strips diacritics so accented brand names match
// the plain-ASCII registry vocabulary.
func foldTerm(term string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, term)
	if err != nil {
		folded = term
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
