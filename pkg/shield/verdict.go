package shield

import (
	"math"
	"strings"
	"unicode"

	"github.com/divol89/prompt-shield-solana/pkg/patterns"
)

// Features are structural diagnostics computed once per scan and carried
// on the verdict. They inform operators, not the decision ladder.
type Features struct {
	Entropy          float64 `json:"entropy"`
	NonAlnumRatio    float64 `json:"non_alnum_ratio"`
	DelimiterPresent bool    `json:"delimiter_present"`
	Length           int     `json:"length"`
}

// Usage carries non-authoritative metering figures for an external
// billing consumer. ComputeUnits is synthetic: input size plus a flat
// surcharge when the embedding layer ran.
type Usage struct {
	InputChars   int `json:"input_chars"`
	ComputeUnits int `json:"compute_units"`
}

// Verdict is the fused scan output. Immutable after construction; the
// only engine artifact an external collaborator may persist.
type Verdict struct {
	Safe                bool             `json:"safe"`
	Confidence          float64          `json:"confidence"`
	Reasons             []string         `json:"reasons"`
	PatternMatches      []patterns.Match `json:"pattern_matches"`
	SemanticMatches     []patterns.Match `json:"semantic_matches"`
	BehavioralScore     float64          `json:"behavioral_score"`
	ConsensusScore      float64          `json:"consensus_score"`
	RequiresHumanReview bool             `json:"requires_human_review"`
	Degraded            bool             `json:"degraded"`
	DegradedReasons     []string         `json:"degraded_reasons,omitempty"`
	Features            Features         `json:"features"`
	Usage               Usage            `json:"usage"`
	ProcessingTimeMs    float64          `json:"processing_time_ms"`
	CacheHit            bool             `json:"cache_hit"`
}

// delimiterMarkers are prompt-structure tokens whose presence in user
// text hints at turn-forging.
var delimiterMarkers = []string{"```", "---", "===", "<|", "|>", "[system]", "<system>"}

// ExtractFeatures computes the structural diagnostics for one input.
func ExtractFeatures(text string) Features {
	f := Features{Length: len(text)}
	if text == "" {
		return f
	}
	f.Entropy = shannonEntropy(text)

	nonAlnum := 0
	total := 0
	for _, r := range text {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			nonAlnum++
		}
	}
	f.NonAlnumRatio = float64(nonAlnum) / float64(total)

	lower := strings.ToLower(text)
	for _, d := range delimiterMarkers {
		if strings.Contains(lower, d) {
			f.DelimiterPresent = true
			break
		}
	}
	return f
}

// shannonEntropy is the character-level Shannon entropy in bits.
func shannonEntropy(text string) float64 {
	counts := make(map[rune]float64)
	total := 0.0
	for _, r := range text {
		counts[r]++
		total++
	}
	entropy := 0.0
	for _, count := range counts {
		p := count / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// measureUsage derives the metering figures for one scan.
func measureUsage(text string, semanticRan bool) Usage {
	u := Usage{InputChars: len([]rune(text))}
	u.ComputeUnits = 1 + u.InputChars/256
	if semanticRan {
		u.ComputeUnits += 4
	}
	return u
}
