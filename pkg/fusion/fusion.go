// Package fusion combines pattern, semantic, and behavioral evidence into
// one calibrated decision. The resolution ladder is strict: the first
// applicable step wins and later steps never raise confidence back up.
package fusion

import (
	"fmt"

	"github.com/divol89/prompt-shield-solana/pkg/patterns"
)

// Config tunes the resolution ladder. Zero value is not usable; call
// DefaultConfig.
type Config struct {
	// BehavioralThreshold is the minimum session alert score that forces
	// a human-review decision.
	BehavioralThreshold float64
}

// DefaultConfig returns the production ladder tuning.
func DefaultConfig() Config {
	return Config{BehavioralThreshold: 0.6}
}

// Decision is the fused verdict fragment. The orchestrator wraps it with
// timing and cache metadata.
type Decision struct {
	Safe                bool     `json:"safe"`
	Confidence          float64  `json:"confidence"`
	Reasons             []string `json:"reasons"`
	RequiresHumanReview bool     `json:"requires_human_review"`
	ConsensusScore      float64  `json:"consensus_score"`
}

// Confidence ceilings per ladder step. Confidence measures trust in the
// input's safety, so strong attack evidence pushes it toward zero.
const (
	capCriticalPattern  = 0.1
	capCriticalSemantic = 0.2
	capHighSeverity     = 0.3
	capBehavioral       = 0.5
	capWeakPattern      = 0.7
	capWeakSemantic     = 0.8
)

// safeThreshold: the final verdict is safe only when confidence clears
// this bar and no human review is pending.
const safeThreshold = 0.5

// NoEvidenceReason is the reason reported for a completely clean input.
const NoEvidenceReason = "no suspicious patterns detected"

// Decide runs the resolution ladder over the collected evidence.
//
// Ladder, first hit wins:
//  1. critical pattern match: certain attack, auto-block
//  2. critical semantic match: paraphrased known attack, auto-block
//  3. high-severity match from either layer: block pending review
//  4. behavioral alert at or above threshold: review
//  5. remaining weak evidence: allow but lower trust
//  6. clean input: full confidence
func Decide(cfg Config, patternMatches, semanticMatches []patterns.Match, behavioralScore float64) Decision {
	d := Decision{ConsensusScore: consensus(patternMatches, semanticMatches)}

	if m := strongest(patternMatches, patterns.SeverityCritical); m != nil {
		d.Confidence = clamp(1-m.Confidence, 0, capCriticalPattern)
		d.Reasons = append(d.Reasons, fmt.Sprintf("critical attack signature: %s", m.Label))
		d.Reasons = appendSummaries(d.Reasons, patternMatches, semanticMatches)
		d.Safe = false
		return d
	}

	if m := strongest(semanticMatches, patterns.SeverityCritical); m != nil {
		d.Confidence = clamp(1-m.Similarity, 0, capCriticalSemantic)
		d.Reasons = append(d.Reasons, fmt.Sprintf("critical semantic similarity to known attack: %s", m.Label))
		d.Reasons = appendSummaries(d.Reasons, patternMatches, semanticMatches)
		d.Safe = false
		return d
	}

	if p, s := strongest(patternMatches, patterns.SeverityHigh), strongest(semanticMatches, patterns.SeverityHigh); p != nil || s != nil {
		evidence := 0.0
		label := ""
		if p != nil {
			evidence, label = p.Confidence, p.Label
		}
		if s != nil && s.Similarity > evidence {
			evidence, label = s.Similarity, s.Label
		}
		d.Confidence = clamp(1-evidence, 0, capHighSeverity)
		d.RequiresHumanReview = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("high-severity evidence: %s", label))
		d.Reasons = appendSummaries(d.Reasons, patternMatches, semanticMatches)
		d.Safe = false
		return d
	}

	if behavioralScore >= cfg.BehavioralThreshold {
		d.Confidence = clamp(1-behavioralScore, 0, capBehavioral)
		d.RequiresHumanReview = true
		d.Reasons = append(d.Reasons, "behavioral signal: accumulated probing across session")
		d.Reasons = appendSummaries(d.Reasons, patternMatches, semanticMatches)
		d.Safe = false
		return d
	}

	if len(patternMatches) > 0 || len(semanticMatches) > 0 {
		ceiling := capWeakSemantic
		if len(patternMatches) > 0 {
			ceiling = capWeakPattern
		}
		d.Confidence = ceiling
		d.Reasons = append(d.Reasons, "weak evidence lowered trust")
		d.Reasons = appendSummaries(d.Reasons, patternMatches, semanticMatches)
		d.Safe = d.Confidence >= safeThreshold
		return d
	}

	d.Confidence = 1.0
	d.Reasons = []string{NoEvidenceReason}
	d.Safe = true
	return d
}

// strongest returns the highest-evidence match of exactly the given
// severity, or nil.
func strongest(matches []patterns.Match, sev patterns.Severity) *patterns.Match {
	var best *patterns.Match
	bestVal := -1.0
	for i := range matches {
		m := &matches[i]
		if m.Severity != sev {
			continue
		}
		v := m.Confidence
		if m.Similarity > v {
			v = m.Similarity
		}
		if v > bestVal {
			best, bestVal = m, v
		}
	}
	return best
}

// consensus is the severity-weighted mean of per-match evidence values,
// reported for observability alongside the ladder decision.
func consensus(patternMatches, semanticMatches []patterns.Match) float64 {
	var weighted, weights float64
	add := func(matches []patterns.Match, value func(*patterns.Match) float64) {
		for i := range matches {
			m := &matches[i]
			w := m.Severity.Weight()
			weighted += w * value(m)
			weights += w
		}
	}
	add(patternMatches, func(m *patterns.Match) float64 { return m.Confidence })
	add(semanticMatches, func(m *patterns.Match) float64 { return m.Similarity })
	if weights == 0 {
		return 0
	}
	return weighted / weights
}

func appendSummaries(reasons []string, patternMatches, semanticMatches []patterns.Match) []string {
	reasons = append(reasons, patterns.Summary(patternMatches)...)
	reasons = append(reasons, patterns.Summary(semanticMatches)...)
	return dedupe(reasons)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
