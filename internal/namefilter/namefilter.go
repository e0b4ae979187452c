// Package namefilter hides game players with offensive names from Discord.
package namefilter

import (
	"strings"
)

// Config is the name_filter section of the bridge configuration.
type Config struct {
	Enabled     bool     `yaml:"enabled"`
	BannedWords []string `yaml:"banned_words"` // partial, case-insensitive
	BannedNames []string `yaml:"banned_names"` // exact, case-insensitive
}

// Reason explains why a name was hidden.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonBannedName Reason = "banned name"
	ReasonBannedWord Reason = "contains banned word"
)

// Result contains the outcome of checking a name
type Result struct {
	Allowed bool
	Reason  Reason
	Match   string // the banned entry that matched
}

// NameFilter matches player names against banned words and names.
type NameFilter struct {
	enabled     bool
	bannedWords []string // Lowercase banned words (partial match)
	bannedNames []string // Lowercase banned names (exact match)
}

// New creates a new NameFilter from a Config. A nil config yields a
// disabled filter.
func New(cfg *Config) *NameFilter {
	if cfg == nil {
		return &NameFilter{enabled: false}
	}

	nf := &NameFilter{
		enabled:     cfg.Enabled,
		bannedWords: make([]string, 0, len(cfg.BannedWords)),
		bannedNames: make([]string, 0, len(cfg.BannedNames)),
	}

	for _, word := range cfg.BannedWords {
		if word = strings.TrimSpace(word); word != "" {
			nf.bannedWords = append(nf.bannedWords, strings.ToLower(word))
		}
	}

	for _, name := range cfg.BannedNames {
		if name = strings.TrimSpace(name); name != "" {
			nf.bannedNames = append(nf.bannedNames, strings.ToLower(name))
		}
	}

	return nf
}

// Check matches name against the filter rules.
func (nf *NameFilter) Check(name string) Result {
	if nf == nil || !nf.enabled {
		return Result{Allowed: true}
	}

	nameLower := strings.ToLower(name)

	for _, banned := range nf.bannedNames {
		if nameLower == banned {
			return Result{Reason: ReasonBannedName, Match: banned}
		}
	}

	for _, word := range nf.bannedWords {
		if strings.Contains(nameLower, word) {
			return Result{Reason: ReasonBannedWord, Match: word}
		}
	}

	return Result{Allowed: true}
}

// Hidden reports whether name must not be shown on Discord. A nil filter
// hides nothing.
func (nf *NameFilter) Hidden(name string) bool {
	return !nf.Check(name).Allowed
}

// IsEnabled returns whether the filter is enabled
func (nf *NameFilter) IsEnabled() bool {
	return nf != nil && nf.enabled
}
