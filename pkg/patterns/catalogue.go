package patterns

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// builtinRule is the source form of a catalogue entry before compilation.
type builtinRule struct {
	ID          string   `yaml:"id"`
	Expr        string   `yaml:"expr"`
	Label       string   `yaml:"label"`
	Severity    Severity `yaml:"severity"`
	Confidence  float64  `yaml:"confidence"`
	Contexts    []string `yaml:"contexts"`
	BypassNotes string   `yaml:"bypass_notes"`
}

// builtinCatalogue is the curated rule set shipped with the engine.
// Categories follow the attack taxonomy used across the detection layers:
// instruction_override, prompt_extraction, jailbreak, roleplay, data_exfil,
// command_injection, delimiter_attack, output_leak, obfuscation.
var builtinCatalogue = []builtinRule{
	// === INSTRUCTION OVERRIDE ===
	{
		ID:         "override.ignore_previous",
		Expr:       `(?i)\b(ignore|disregard|forget|skip)\s+(all\s+)?(previous|prior|above|earlier|preceding)\s+(instructions?|directives?|rules?|prompts?|messages?)`,
		Label:      "instruction_override",
		Severity:   SeverityCritical,
		Confidence: 0.95,
		Contexts:   []string{ContextAll},
	},
	{
		ID:         "override.new_instructions",
		Expr:       `(?i)\byour\s+new\s+(instructions?|rules?|directives?)\s+(are|is)\b`,
		Label:      "instruction_override",
		Severity:   SeverityHigh,
		Confidence: 0.9,
		Contexts:   []string{ContextAll},
	},
	{
		ID:          "override.system_marker",
		Expr:        `(?i)\[?\b(system|admin)\b\s*[:\]]\s*(override|ignore|bypass|disable|new\s+priority)`,
		Label:       "instruction_override",
		Severity:    SeverityCritical,
		Confidence:  0.9,
		Contexts:    []string{ContextAll},
		BypassNotes: "often buried mid-document to impersonate a system turn",
	},
	{
		ID:         "override.disable_safety",
		Expr:       `(?i)\b(disable|bypass|turn\s+off|remove)\s+(all\s+)?(safety|security|content)\s+(measures?|filters?|checks?|restrictions?|guardrails?)`,
		Label:      "instruction_override",
		Severity:   SeverityCritical,
		Confidence: 0.95,
		Contexts:   []string{ContextAll},
	},

	// === SYSTEM PROMPT EXTRACTION ===
	{
		ID:         "extraction.reveal_prompt",
		Expr:       `(?i)\b(reveal|show|print|output|display|repeat|tell\s+me)\b.{0,40}\b(system\s+prompt|initial\s+(instructions?|prompt)|hidden\s+(guidelines?|prompt)|your\s+instructions)`,
		Label:      "prompt_extraction",
		Severity:   SeverityCritical,
		Confidence: 0.95,
		Contexts:   []string{ContextAll},
	},
	{
		ID:         "extraction.repeat_above",
		Expr:       `(?i)\brepeat\s+(everything|all|the\s+(text|words))\s+(above|before|preceding)`,
		Label:      "prompt_extraction",
		Severity:   SeverityHigh,
		Confidence: 0.85,
		Contexts:   []string{ContextAll},
	},
	{
		ID:          "extraction.question_form",
		Expr:        `(?i)\bwhat\s+(is|are|were)\s+(your|the)\s+((original|initial|hidden|full)\s+)?(system\s+)?(instructions?|prompt|guidelines?|rules)\b`,
		Label:       "prompt_extraction",
		Severity:    SeverityHigh,
		Confidence:  0.8,
		Contexts:    []string{ContextAll},
		BypassNotes: "question phrasing dodges imperative-verb rules",
	},

	// === JAILBREAK / ROLEPLAY ===
	{
		ID:         "jailbreak.developer_mode",
		Expr:       `(?i)\b(developer|debug|god|jailbreak)\s*mode\b`,
		Label:      "jailbreak",
		Severity:   SeverityHigh,
		Confidence: 0.85,
		Contexts:   []string{ContextAll},
	},
	{
		ID:         "jailbreak.no_restrictions",
		Expr:       `(?i)\b(you\s+(are|r)\s+now|act\s+as|pretend\s+(you('re|\s+are)|to\s+be))\b.{0,60}\b(no\s+(restrictions?|limits?|rules?|ethics)|unrestricted|unfiltered|uncensored|jailbroken)`,
		Label:      "roleplay",
		Severity:   SeverityHigh,
		Confidence: 0.85,
		Contexts:   []string{ContextAll},
	},
	{
		ID:         "jailbreak.amoral_persona",
		Expr:       `(?i)\b(completely\s+)?amoral\s+(ai|assistant|model|bot)\b|\bwithout\s+(any\s+)?regard\s+(for|to)\s+(legality|morality|ethics)`,
		Label:      "jailbreak",
		Severity:   SeverityHigh,
		Confidence: 0.9,
		Contexts:   []string{ContextAll},
	},
	{
		ID:         "jailbreak.restrictions_lifted",
		Expr:       `(?i)\byour\s+(restrictions?|safety\s+polic(y|ies)|programming|guidelines?)\s+(have|has)\s+been\s+(lifted|disabled|removed|modified)`,
		Label:      "jailbreak",
		Severity:   SeverityHigh,
		Confidence: 0.85,
		Contexts:   []string{ContextAll},
	},

	// === DATA EXFILTRATION ===
	{
		ID:         "exfil.sensitive_paths",
		Expr:       `(?i)(/etc/(passwd|shadow|sudoers)|id_rsa|\.ssh/|\.aws/credentials)`,
		Label:      "data_exfil",
		Severity:   SeverityCritical,
		Confidence: 0.95,
		Contexts:   []string{ContextAll},
	},
	{
		ID:         "exfil.dump_records",
		Expr:       `(?i)\b(dump|export|list|retrieve)\s+(all|every|the\s+entire)\b.{0,40}\b(records?|database|credentials?|api\s*keys?|passwords?|users?\s+table)`,
		Label:      "data_exfil",
		Severity:   SeverityHigh,
		Confidence: 0.85,
		Contexts:   []string{ContextAll},
	},
	{
		ID:          "exfil.markdown_beacon",
		Expr:        `!\[[^\]]*\]\(https?://[^)]*\?[^)]*=`,
		Label:       "data_exfil",
		Severity:    SeverityHigh,
		Confidence:  0.85,
		Contexts:    []string{ContextAll},
		BypassNotes: "markdown image with query params exfiltrates via render",
	},

	// === COMMAND INJECTION ===
	{
		ID:         "cmdinj.shell_exec",
		Expr:       `(?i)\b(execute|run)\s+(the\s+following\s+|this\s+)?(shell\s+)?(command|script|code)\b`,
		Label:      "command_injection",
		Severity:   SeverityHigh,
		Confidence: 0.8,
		Contexts:   []string{ContextAll},
	},
	{
		ID:         "cmdinj.destructive_shell",
		Expr:       `(?i)\brm\s+-rf\s+/|\bdrop\s+(table|database)\b|\bmkfs\b|:\(\)\{\s*:\|:&\s*\};:`,
		Label:      "command_injection",
		Severity:   SeverityCritical,
		Confidence: 0.95,
		Contexts:   []string{ContextAll},
	},
	{
		ID:         "cmdinj.eval_call",
		Expr:       `(?i)\b(eval|exec)\s*\(|\bos\.system\s*\(|\bsubprocess\.(run|call|popen)`,
		Label:      "command_injection",
		Severity:   SeverityHigh,
		Confidence: 0.8,
		Contexts:   []string{"code", ContextAll},
	},
	{
		ID:          "cmdinj.comment_smuggle",
		Expr:        `(?i)(#|//|/\*)\s*(ignore|bypass|override)\s+(all\s+)?(previous\s+)?instructions?`,
		Label:       "command_injection",
		Severity:    SeverityHigh,
		Confidence:  0.85,
		Contexts:    []string{"code"},
		BypassNotes: "instructions hidden in code comments survive snippet review",
	},

	// === DELIMITER / STRUCTURE ATTACKS ===
	{
		ID:         "delimiter.fake_turn",
		Expr:       `(?i)(---+|===+|\x60{3})\s*\n?\s*(system|assistant|user)\s*[:>]`,
		Label:      "delimiter_attack",
		Severity:   SeverityMedium,
		Confidence: 0.7,
		Contexts:   []string{ContextAll},
	},
	{
		ID:         "delimiter.hidden_tag",
		Expr:       `(?i)<\s*(hidden|important|secret)\s*>`,
		Label:      "delimiter_attack",
		Severity:   SeverityHigh,
		Confidence: 0.85,
		Contexts:   []string{ContextAll},
	},

	// === OUTPUT LEAK HEURISTIC ===
	// Keyword+verb pairing that approximates "would the reply leak secrets".
	// This is pattern evidence, not output prediction.
	{
		ID:         "leak.secret_request",
		Expr:       `(?i)\b(give|send|show|tell|write|reveal)\b.{0,40}\b(password|secret|token|api\s*key|credential)s?\b`,
		Label:      "output_leak",
		Severity:   SeverityMedium,
		Confidence: 0.65,
		Contexts:   []string{ContextAll},
	},
	{
		ID:         "leak.destructive_verb",
		Expr:       `(?i)\b(delete|destroy|wipe|erase|overwrite)\s+(all|every|the\s+entire)\b`,
		Label:      "output_leak",
		Severity:   SeverityMedium,
		Confidence: 0.6,
		Contexts:   []string{ContextAll},
	},

	// === IMPERSONATION ===
	{
		ID:         "impersonation.insider",
		Expr:       `(?i)\bi\s+am\s+(your|an?\s+)(developer|creator|system\s+administrator|(anthropic|openai|google)\s+(employee|engineer|researcher))`,
		Label:      "impersonation",
		Severity:   SeverityHigh,
		Confidence: 0.8,
		Contexts:   []string{ContextAll},
	},
}

// Compile turns source rules into the immutable runtime catalogue.
// Any invalid rule aborts the whole load: a partially compiled catalogue
// silently weakens detection and must never be served.
func Compile(src []builtinRule) ([]DetectionRule, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty rule set", ErrCatalogueLoad)
	}
	seen := make(map[string]bool, len(src))
	rules := make([]DetectionRule, 0, len(src))
	for _, b := range src {
		if b.ID == "" {
			return nil, fmt.Errorf("%w: rule with empty id", ErrCatalogueLoad)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrCatalogueLoad, b.ID)
		}
		seen[b.ID] = true
		if !b.Severity.Valid() {
			return nil, fmt.Errorf("%w: rule %q: unknown severity %q", ErrCatalogueLoad, b.ID, b.Severity)
		}
		if b.Confidence < 0 || b.Confidence > 1 {
			return nil, fmt.Errorf("%w: rule %q: confidence %v out of range", ErrCatalogueLoad, b.ID, b.Confidence)
		}
		re, err := regexp.Compile(b.Expr)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", ErrCatalogueLoad, b.ID, err)
		}
		contexts := b.Contexts
		if len(contexts) == 0 {
			contexts = []string{ContextAll}
		}
		rules = append(rules, DetectionRule{
			ID:          b.ID,
			Regex:       re,
			Label:       b.Label,
			Severity:    b.Severity,
			Confidence:  b.Confidence,
			Contexts:    contexts,
			BypassNotes: b.BypassNotes,
		})
	}
	return rules, nil
}

// BuiltinCatalogue returns the compiled built-in rule set.
func BuiltinCatalogue() ([]DetectionRule, error) {
	return Compile(builtinCatalogue)
}

// ruleFile is the YAML schema for external rule catalogues.
type ruleFile struct {
	Rules []builtinRule `yaml:"rules"`
}

// LoadCatalogue reads every *.yaml/*.yml file in dir and compiles the
// combined rule set. Files are read in lexical order so catalogues are
// deterministic across restarts. Any unreadable or invalid file makes the
// whole load fail.
func LoadCatalogue(dir string) ([]DetectionRule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogueLoad, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no rule files in %s", ErrCatalogueLoad, dir)
	}

	var src []builtinRule
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCatalogueLoad, name, err)
		}
		var f ruleFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCatalogueLoad, name, err)
		}
		src = append(src, f.Rules...)
	}
	return Compile(src)
}
