package config

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// RedactPatterns is the YAML shape of a REDACT_PATTERNS file: a flat list
// of regular expressions applied to log message and meta fields before
// persistence (spec §4.7, §6).
type RedactPatterns struct {
	Patterns []string `yaml:"patterns"`
}

// DefaultRedactPatterns matches the secret-like substrings spec §4.7 names
// by default: passwords, community strings, bearer tokens, shared keys.
func DefaultRedactPatterns() []string {
	return []string{
		`(?i)password["']?\s*[:=]\s*["']?[^\s"']+`,
		`(?i)community["']?\s*[:=]\s*["']?[^\s"']+`,
		`(?i)secret["']?\s*[:=]\s*["']?[^\s"']+`,
		`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`,
		`(?i)shared[_\- ]?key["']?\s*[:=]\s*["']?[^\s"']+`,
		`(?i)enable\s+secret\s+\S+`,
		`(?i)pre-shared-key\s+\S+`,
	}
}

// LoadRedactPatterns loads the regex list from path, falling back to
// DefaultRedactPatterns when path is empty. Each pattern is compiled
// eagerly so a malformed config fails fast at startup rather than at the
// first log write.
func LoadRedactPatterns(path string) ([]*regexp.Regexp, error) {
	raw := DefaultRedactPatterns()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var parsed RedactPatterns
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, err
		}
		if len(parsed.Patterns) > 0 {
			raw = parsed.Patterns
		}
	}

	compiled := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
