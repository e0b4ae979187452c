package econ

import "strings"

// MaxCommandText is the maximum number of characters of user text placed
// into a single console command.
const MaxCommandText = 120

// The console runs one command per line and also splits a line on ';'
// outside quotes. Line breaks are removed and ';' becomes ',' so user text
// can never start a second command.
var commandBreaker = strings.NewReplacer("\r", "", "\n", "", ";", ",")

// Sanitize truncates text to max characters, then removes carriage returns
// and newlines and replaces command separators. A max of zero or less
// disables truncation.
func Sanitize(text string, max int) string {
	return commandBreaker.Replace(Truncate(text, max))
}

// Truncate shortens text to at most max characters (runes).
func Truncate(text string, max int) string {
	if max <= 0 {
		return text
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i]
		}
		n++
	}
	return text
}

// SayCommand builds the console command that posts text to the game chat.
func SayCommand(text string) string {
	return "say " + Sanitize(text, MaxCommandText)
}
