// Package antispam rate-limits Discord authors so one user cannot flood a
// game server's chat through the bridge.
package antispam

import (
	"sync"
	"time"
)

// Config holds anti-spam configuration
type Config struct {
	Enabled        bool          // Whether anti-spam is enabled
	MaxMessages    int           // Max messages allowed in the time window
	TimeWindow     time.Duration // Time window for rate limiting
	RepeatCooldown time.Duration // How long before the same message can be sent again
}

// DefaultConfig returns sensible defaults for anti-spam
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		MaxMessages:    5,
		TimeWindow:     10 * time.Second,
		RepeatCooldown: 30 * time.Second,
	}
}

// ConfigFromYAML creates a Config from YAML-loaded values
func ConfigFromYAML(enabled bool, maxMessages, timeWindowSeconds, repeatCooldownSeconds int) Config {
	cfg := DefaultConfig()
	cfg.Enabled = enabled
	if maxMessages > 0 {
		cfg.MaxMessages = maxMessages
	}
	if timeWindowSeconds > 0 {
		cfg.TimeWindow = time.Duration(timeWindowSeconds) * time.Second
	}
	if repeatCooldownSeconds > 0 {
		cfg.RepeatCooldown = time.Duration(repeatCooldownSeconds) * time.Second
	}
	return cfg
}

// Reason explains why a message was refused.
type Reason string

const (
	ReasonNone    Reason = ""
	ReasonRepeat  Reason = "repeated message"
	ReasonTooFast Reason = "too many messages"
)

// CheckResult contains the result of a spam check
type CheckResult struct {
	Allowed bool
	Reason  Reason
	Wait    time.Duration // How long until a retry would be accepted
}

// Tracker tracks chat activity for a single author
type Tracker struct {
	mu           sync.Mutex
	config       Config
	messageTimes []time.Time
	lastMessages map[string]time.Time // message content -> last sent time
	now          func() time.Time
}

// NewTracker creates a new spam tracker with the given config
func NewTracker(config Config) *Tracker {
	return &Tracker{
		config:       config,
		messageTimes: make([]time.Time, 0, config.MaxMessages),
		lastMessages: make(map[string]time.Time),
		now:          time.Now,
	}
}

// Check determines if a message should be allowed and records it if so.
func (t *Tracker) Check(message string) CheckResult {
	if !t.config.Enabled {
		return CheckResult{Allowed: true}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.cleanup(now)

	if lastTime, exists := t.lastMessages[message]; exists {
		if elapsed := now.Sub(lastTime); elapsed < t.config.RepeatCooldown {
			return CheckResult{
				Reason: ReasonRepeat,
				Wait:   t.config.RepeatCooldown - elapsed,
			}
		}
	}

	if len(t.messageTimes) >= t.config.MaxMessages {
		oldest := t.messageTimes[0]
		return CheckResult{
			Reason: ReasonTooFast,
			Wait:   oldest.Add(t.config.TimeWindow).Sub(now),
		}
	}

	t.messageTimes = append(t.messageTimes, now)
	t.lastMessages[message] = now

	return CheckResult{Allowed: true}
}

// idle reports whether the tracker holds no live state.
func (t *Tracker) idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanup(t.now())
	return len(t.messageTimes) == 0 && len(t.lastMessages) == 0
}

// cleanup removes expired entries
func (t *Tracker) cleanup(now time.Time) {
	cutoff := now.Add(-t.config.TimeWindow)
	newTimes := t.messageTimes[:0]
	for _, msgTime := range t.messageTimes {
		if msgTime.After(cutoff) {
			newTimes = append(newTimes, msgTime)
		}
	}
	t.messageTimes = newTimes

	repeatCutoff := now.Add(-t.config.RepeatCooldown)
	for msg, msgTime := range t.lastMessages {
		if msgTime.Before(repeatCutoff) {
			delete(t.lastMessages, msg)
		}
	}
}

// Reset clears all tracking data
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageTimes = make([]time.Time, 0, t.config.MaxMessages)
	t.lastMessages = make(map[string]time.Time)
}

// Limiter keeps one Tracker per author. Trackers of authors that have gone
// quiet are discarded by Prune.
type Limiter struct {
	mu       sync.Mutex
	config   Config
	trackers map[string]*Tracker
	now      func() time.Time
}

// NewLimiter creates a Limiter applying config to every author.
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		config:   config,
		trackers: make(map[string]*Tracker),
		now:      time.Now,
	}
}

// Check runs the spam check for message sent by author.
func (l *Limiter) Check(author, message string) CheckResult {
	if !l.config.Enabled {
		return CheckResult{Allowed: true}
	}

	l.mu.Lock()
	tracker, ok := l.trackers[author]
	if !ok {
		tracker = NewTracker(l.config)
		tracker.now = l.now
		l.trackers[author] = tracker
	}
	l.mu.Unlock()

	return tracker.Check(message)
}

// Prune drops trackers with no live entries and returns how many remain.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for author, tracker := range l.trackers {
		if tracker.idle() {
			delete(l.trackers, author)
		}
	}
	return len(l.trackers)
}
