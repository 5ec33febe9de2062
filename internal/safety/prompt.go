package safety

import (
	"regexp"
	"strings"
	"unicode"
)

// PromptScreenResult contains details about detected injection attempts.
type PromptScreenResult struct {
	Safe     bool     // True if no injection patterns detected
	Patterns []string // Detected patterns (empty if safe)
}

// PromptScreen detects potential prompt injection attempts before text
// reaches the remote guard. This is a first line of defense against common
// patterns; sophisticated attacks may still require the remote classifier.
//
// Known limitation: homoglyph substitutions (visually similar Unicode
// characters) are not detected. Full confusables normalization would need a
// Unicode TR39 mapping table.
type PromptScreen struct {
	patterns []*regexp.Regexp
}

// NewPromptScreen creates a PromptScreen with the default pattern set.
func NewPromptScreen() *PromptScreen {
	patterns := []string{
		// System prompt override attempts
		`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`,
		`(?i)disregard\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?)`,
		`(?i)forget\s+(all\s+)?(previous|above|prior)\s+(instructions?|context)`,
		`(?i)override\s+(all\s+)?(previous|above|prior)\s+(instructions?|rules?)`,

		// Role-playing attacks
		`(?i)^(pretend|act|behave|imagine)\s+(you\s+are|to\s+be|as\s+if|like)`,
		`(?i)^you\s+are\s+now\s+a`,
		`(?i)^from\s+now\s+on,?\s+you\s+(are|will|must)`,

		// Instruction injection
		`(?i)^\s*(important|critical|urgent|system)\s*:\s*`,
		`(?i)^new\s+(instruction|task|rule)\s*:`,
		`(?i)^admin\s*(mode|override|command)\s*:`,

		// Delimiter manipulation (trying to escape context)
		`(?i)\]\s*\[\s*(system|assistant|instruction)`,
		`(?i)</?(system|instruction|prompt)>`,
		`(?i)---+\s*(system|new\s+instruction)`,

		// Jailbreak attempts
		`(?i)do\s+anything\s+now`,
		`(?i)jailbreak`,
		`(?i)bypass\s+(safety|filter|restrictions?)`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}

	return &PromptScreen{patterns: compiled}
}

// Screen checks input for prompt injection patterns.
func (s *PromptScreen) Screen(input string) PromptScreenResult {
	normalized := normalizeInput(input)

	var detected []string
	for _, re := range s.patterns {
		if re.MatchString(normalized) {
			detected = append(detected, re.String())
		}
	}

	return PromptScreenResult{
		Safe:     len(detected) == 0,
		Patterns: detected,
	}
}

// IsSafe reports whether no injection patterns were detected.
func (s *PromptScreen) IsSafe(input string) bool {
	return s.Screen(input).Safe
}

// normalizeInput prepares input for pattern matching:
//   - removes zero-width and combining characters that could evade detection
//   - normalizes all whitespace to single spaces
func normalizeInput(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.Is(unicode.Cf, r) || unicode.Is(unicode.Mn, r) {
			continue
		}
		if unicode.IsSpace(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
