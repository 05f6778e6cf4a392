package patterns

import (
	"sort"
	"sync/atomic"
)

// normalizedPenalty discounts matches found only after de-obfuscation.
// A decoded hit is strong evidence of deliberate evasion but the decode
// itself can introduce false positives, so it never outranks a raw hit.
const normalizedPenalty = 0.9

// homoglyphRuleID is the synthetic rule emitted when lookalike Unicode
// substitution is detected regardless of whether any rule fires on the
// folded text.
const homoglyphRuleID = "obfuscation.homoglyph"

// minHomoglyphCount below this many substituted characters the input is
// more likely pasted prose with a stray Unicode char than an evasion.
const minHomoglyphCount = 2

// Matcher runs the compiled rule catalogue over untrusted input.
// The catalogue is swapped atomically so reloads never block scans.
type Matcher struct {
	rules atomic.Pointer[[]DetectionRule]
}

// NewMatcher builds a Matcher over an already compiled catalogue.
func NewMatcher(rules []DetectionRule) *Matcher {
	m := &Matcher{}
	m.rules.Store(&rules)
	return m
}

// Reload swaps in a new catalogue. In-flight scans keep using the
// catalogue they started with.
func (m *Matcher) Reload(rules []DetectionRule) {
	m.rules.Store(&rules)
}

// RuleCount reports the size of the active catalogue.
func (m *Matcher) RuleCount() int {
	return len(*m.rules.Load())
}

// Match scans text in three passes: the raw input, the leetspeak-decoded
// form, and the homoglyph-folded form. Decoded passes carry a confidence
// penalty and a variant tag so downstream consumers can tell evidence
// quality apart. Duplicate hits for the same rule and substring collapse
// to the first (highest confidence) occurrence.
func (m *Matcher) Match(text, context string) []Match {
	if text == "" {
		return nil
	}
	rules := *m.rules.Load()

	var out []Match
	seen := make(map[string]bool)

	add := func(mt Match) {
		key := mt.RuleID + "\x00" + mt.Span.Text
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, mt)
	}

	scan := func(input, variant string, penalty float64) {
		for i := range rules {
			r := &rules[i]
			if !r.AppliesTo(context) {
				continue
			}
			loc := r.Regex.FindStringIndex(input)
			if loc == nil {
				continue
			}
			add(Match{
				RuleID:     r.ID,
				Label:      r.Label,
				Severity:   r.Severity,
				Confidence: r.Confidence * penalty,
				Span: Span{
					Start: loc[0],
					End:   loc[1],
					Text:  input[loc[0]:loc[1]],
				},
				Variant: variant,
			})
		}
	}

	scan(text, "", 1.0)

	// Decode only when the letter/digit mix suggests substitution;
	// decoding clean prose would turn "2024" into "zoza"-style noise.
	if ContainsLeetspeak(text) {
		if decoded := DecodeLeetspeak(text); decoded != "" {
			scan(decoded, VariantNormalized, normalizedPenalty)
		}
	}

	if n := CountHomoglyphs(text); n >= minHomoglyphCount {
		add(Match{
			RuleID:     homoglyphRuleID,
			Label:      "obfuscation",
			Severity:   SeverityMedium,
			Confidence: homoglyphConfidence(n),
			Span:       Span{Start: 0, End: len(text), Text: ""},
			Variant:    VariantHomoglyph,
		})
		folded := NormalizeHomoglyphs(text)
		if folded != text {
			scan(folded, VariantHomoglyph, normalizedPenalty)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity.Weight() > out[j].Severity.Weight()
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// homoglyphConfidence scales with substitution density: a handful of
// lookalikes could be copy-paste residue, a dozen is deliberate.
func homoglyphConfidence(count int) float64 {
	switch {
	case count >= 10:
		return 0.9
	case count >= 5:
		return 0.75
	default:
		return 0.6
	}
}

// HighestSeverity returns the strongest severity among matches, or ""
// when there are none.
func HighestSeverity(matches []Match) Severity {
	var best Severity
	w := 0.0
	for _, m := range matches {
		if m.Severity.Weight() > w {
			w = m.Severity.Weight()
			best = m.Severity
		}
	}
	return best
}

// Labels returns the distinct labels among matches in first-seen order.
func Labels(matches []Match) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range matches {
		if !seen[m.Label] {
			seen[m.Label] = true
			out = append(out, m.Label)
		}
	}
	return out
}

// Summary renders matches as short "label (severity)" strings for verdict
// reasons.
func Summary(matches []Match) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range matches {
		s := m.Label + " (" + string(m.Severity) + ")"
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
