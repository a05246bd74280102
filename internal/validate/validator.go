// Package validate normalizes recognized plate text and checks it
// against the configured format constraints.
package validate

import (
	"fmt"
	"regexp"

	"lpr-service/internal/config"
	"lpr-service/internal/domain/plate"
	"lpr-service/internal/utils"
)

// Result is the outcome of a single validation pass.
type Result struct {
	Normalized string
	Accepted   bool
	Reason     plate.Reason
}

type Validator struct {
	enabled       bool
	patterns      []*regexp.Regexp
	minLength     int
	maxLength     int
	minConfidence float64
	separators    string
}

// New compiles the configured pattern list. Patterns are tried in
// order, first match wins.
func New(cfg config.ValidationConfig) (*Validator, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &Validator{
		enabled:       cfg.Enabled,
		patterns:      patterns,
		minLength:     cfg.MinLength,
		maxLength:     cfg.MaxLength,
		minConfidence: cfg.MinAcceptConfidence,
		separators:    cfg.AllowedSeparators,
	}, nil
}

// Validate normalizes rawText and applies, in order, the length,
// confidence and pattern checks. Pure function, no I/O.
func (v *Validator) Validate(rawText string, combinedConfidence float64) Result {
	normalized := utils.NormalizePlate(rawText, v.separators)

	if normalized == "" {
		return Result{Normalized: normalized, Reason: plate.ReasonEmptyText}
	}
	if len(normalized) < v.minLength {
		return Result{Normalized: normalized, Reason: plate.ReasonTooShort}
	}
	if len(normalized) > v.maxLength {
		return Result{Normalized: normalized, Reason: plate.ReasonTooLong}
	}
	if combinedConfidence < v.minConfidence {
		return Result{Normalized: normalized, Reason: plate.ReasonLowConfidence}
	}
	if v.enabled && !v.matchesAny(normalized) {
		return Result{Normalized: normalized, Reason: plate.ReasonNoPatternMatch}
	}
	return Result{Normalized: normalized, Accepted: true}
}

func (v *Validator) matchesAny(text string) bool {
	for _, re := range v.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
