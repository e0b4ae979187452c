package bridge

import (
	"fmt"
	"unicode/utf8"

	"github.com/lawnchairsociety/twbridge/internal/econ"
)

// Limits bound the Discord text placed into a game chat command.
type Limits struct {
	MaxAuthor  int
	MaxContent int
}

// DefaultLimits returns the relay limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxAuthor: 30, MaxContent: 100}
}

// FormatChat renders a game chat message for Discord.
func FormatChat(speaker, text string) string {
	return fmt.Sprintf("[chat] %s: %s", speaker, text)
}

// FormatJoin renders a player join for Discord.
func FormatJoin(name string) string {
	return fmt.Sprintf("[game] %s joined the game", name)
}

// FormatLeave renders a player leave for Discord.
func FormatLeave(name string) string {
	return fmt.Sprintf("[game] %s left the game", name)
}

const relayFormat = "Discord: %s: %s"

// relayOverhead is the number of characters relayFormat adds around the
// author and content.
var relayOverhead = utf8.RuneCountInString(fmt.Sprintf(relayFormat, "", ""))

// ContentRoom returns how many content characters fit into one console
// command after a prefix carrying an author of authorLen characters.
func ContentRoom(authorLen int) int {
	return econ.MaxCommandText - relayOverhead - authorLen
}

// FormatRelay renders a Discord message for the game chat. Author and
// content are truncated to their limits and lose any line breaks. Content
// is further shortened so the whole message fits into a single command.
func FormatRelay(author, content string, limits Limits) string {
	author = econ.Sanitize(author, limits.MaxAuthor)
	max := limits.MaxContent
	if room := ContentRoom(utf8.RuneCountInString(author)); room > 0 && room < max {
		max = room
	}
	return fmt.Sprintf(relayFormat, author, econ.Sanitize(content, max))
}

// formatEvent renders ev for Discord. ok is false for events that are never
// relayed.
func formatEvent(ev econ.Event) (text string, ok bool) {
	switch ev.Kind {
	case econ.EventChat:
		return FormatChat(ev.Speaker, ev.Text), true
	case econ.EventJoin:
		return FormatJoin(ev.Name), true
	case econ.EventLeave:
		return FormatLeave(ev.Name), true
	default:
		return "", false
	}
}
