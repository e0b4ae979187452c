package econ

import "regexp"

// EventKind identifies the kind of a parsed console line.
type EventKind int

const (
	EventIgnored EventKind = iota
	EventChat
	EventJoin
	EventLeave
)

func (k EventKind) String() string {
	switch k {
	case EventChat:
		return "chat"
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	default:
		return "ignored"
	}
}

// Event is a console line classified into something worth relaying.
// Speaker and Text are set for chat events, Name for joins and leaves.
type Event struct {
	Kind    EventKind
	Speaker string
	Text    string
	Name    string
}

var (
	// [<time>][chat]: <client id>:<team>:<name>: <message>
	chatPattern = regexp.MustCompile(`\[chat\]: -?\d+:-?\d+:(.+?): (.*)$`)

	// [<time>][game]: team_join player='<id>:<name>' team=<n>
	joinPattern = regexp.MustCompile(`\[game\]: team_join player='(?:\d+:)?(.+?)'(?: |$)`)

	// [<time>][game]: leave player='<id>:<name>'
	leavePattern = regexp.MustCompile(`\[game\]: leave player='(?:\d+:)?(.+?)'(?: |$)`)
)

// Parse classifies a raw console line. Chat is checked first so a chat
// message that happens to quote a game line is still reported as chat.
// Lines that match no pattern yield an EventIgnored event.
func Parse(line string) Event {
	if m := chatPattern.FindStringSubmatch(line); m != nil {
		return Event{Kind: EventChat, Speaker: m[1], Text: m[2]}
	}
	if m := joinPattern.FindStringSubmatch(line); m != nil {
		return Event{Kind: EventJoin, Name: m[1]}
	}
	if m := leavePattern.FindStringSubmatch(line); m != nil {
		return Event{Kind: EventLeave, Name: m[1]}
	}
	return Event{Kind: EventIgnored}
}
