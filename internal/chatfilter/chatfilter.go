// Package chatfilter screens Discord messages for banned words before they
// are relayed into the game.
package chatfilter

import (
	"regexp"
	"strings"
)

// FilterMode determines how the filter handles violations
type FilterMode string

const (
	ModeReplace FilterMode = "REPLACE" // Replace banned words with asterisks
	ModeBlock   FilterMode = "BLOCK"   // Drop the entire message
)

// AntispamConfig holds the per-author flood limits, in YAML form.
type AntispamConfig struct {
	Enabled               bool `yaml:"enabled"`
	MaxMessages           int  `yaml:"max_messages"`
	TimeWindowSeconds     int  `yaml:"time_window_seconds"`
	RepeatCooldownSeconds int  `yaml:"repeat_cooldown_seconds"`
}

// Config is the chat_filter section of the bridge configuration.
type Config struct {
	Enabled     bool            `yaml:"enabled"`
	Mode        FilterMode      `yaml:"mode"`
	BannedWords []string        `yaml:"banned_words"`
	Antispam    *AntispamConfig `yaml:"antispam"`
}

// Normalize upper-cases the mode and defaults it to REPLACE.
func (c *Config) Normalize() {
	c.Mode = FilterMode(strings.ToUpper(string(c.Mode)))
	if c.Mode == "" {
		c.Mode = ModeReplace
	}
}

// Result contains the outcome of filtering a message
type Result struct {
	Filtered     string   // The message with replacements applied in REPLACE mode
	Violated     bool     // Whether any banned words were found
	MatchedWords []string // Banned words that were matched
}

// Allowed reports whether the message may be relayed under the given mode.
func (r Result) Allowed(mode FilterMode) bool {
	return !r.Violated || mode != ModeBlock
}

// ChatFilter matches banned words on word boundaries, case-insensitively.
type ChatFilter struct {
	enabled  bool
	mode     FilterMode
	patterns []*wordPattern
}

type wordPattern struct {
	word    string
	pattern *regexp.Regexp
}

// New creates a new ChatFilter from a Config. A nil config yields a
// disabled filter.
func New(cfg *Config) *ChatFilter {
	if cfg == nil {
		return &ChatFilter{enabled: false, mode: ModeReplace}
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeReplace
	}
	cf := &ChatFilter{
		enabled:  cfg.Enabled,
		mode:     mode,
		patterns: make([]*wordPattern, 0, len(cfg.BannedWords)),
	}

	for _, word := range cfg.BannedWords {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		cf.patterns = append(cf.patterns, &wordPattern{
			word:    word,
			pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`),
		})
	}

	return cf
}

// Check filters a message and returns the result
func (cf *ChatFilter) Check(message string) Result {
	result := Result{
		Filtered:     message,
		MatchedWords: []string{},
	}

	if !cf.enabled || len(cf.patterns) == 0 {
		return result
	}

	for _, wp := range cf.patterns {
		if !wp.pattern.MatchString(message) {
			continue
		}
		result.Violated = true
		result.MatchedWords = append(result.MatchedWords, wp.word)

		if cf.mode == ModeReplace {
			result.Filtered = wp.pattern.ReplaceAllStringFunc(result.Filtered, func(match string) string {
				return strings.Repeat("*", len([]rune(match)))
			})
		}
	}

	return result
}

// Apply checks message and returns the text to relay. ok is false when the
// message must be dropped.
func (cf *ChatFilter) Apply(message string) (text string, ok bool) {
	result := cf.Check(message)
	if !result.Allowed(cf.mode) {
		return "", false
	}
	return result.Filtered, true
}

// IsEnabled returns whether the filter is enabled
func (cf *ChatFilter) IsEnabled() bool {
	return cf.enabled
}

// Mode returns the current filter mode
func (cf *ChatFilter) Mode() FilterMode {
	return cf.mode
}
