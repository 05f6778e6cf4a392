// Package patterns provides the structural detection layer: a compile-once
// catalogue of labeled regex rules plus the obfuscation-aware matcher that
// runs them against raw and normalized input.
//
// Design principles:
//   - COMPILE ONCE: every rule is compiled at load time, never per-scan
//   - DATA, NOT CODE: the catalogue is a plain table that can be swapped or
//     extended (YAML) without touching matcher logic
//   - READ-ONLY: the catalogue is immutable after load; hot swaps replace the
//     whole table atomically between scans
package patterns

import "regexp"

// Severity classifies how dangerous a rule or exemplar hit is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the fusion weight used for consensus scoring.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ContextAll applies a rule or exemplar to every scan context.
const ContextAll = "all"

// DetectionRule is one entry of the rule catalogue. Rules are immutable
// after load; the matcher only ever reads them.
type DetectionRule struct {
	ID          string
	Regex       *regexp.Regexp
	Label       string
	Severity    Severity
	Confidence  float64  // 0.0-1.0 baseline confidence of a hit
	Contexts    []string // contexts the rule applies to ("all" = every scan)
	BypassNotes string   // informational only, never decision-bearing
}

// AppliesTo reports whether the rule participates in scans of the given context.
func (r *DetectionRule) AppliesTo(context string) bool {
	for _, c := range r.Contexts {
		if c == ContextAll || c == context {
			return true
		}
	}
	return false
}

// Variant tags describing which pass produced a match.
const (
	VariantNormalized = "normalized" // found only after leetspeak reversal
	VariantHomoglyph  = "homoglyph"  // found via homoglyph mapping / presence
)

// Span locates the matched substring inside the scanned text.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Match is a single piece of evidence produced per scan by either the
// pattern layer (Confidence set) or the semantic layer (Similarity set).
// Matches are ephemeral; they live only inside the verdict.
type Match struct {
	RuleID     string   `json:"rule_id"`
	Label      string   `json:"label"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence,omitempty"`
	Similarity float64  `json:"similarity,omitempty"`
	Span       Span     `json:"span"`
	Variant    string   `json:"variant,omitempty"`
}
