// Package chatlog renders chat events as human-readable text log lines, parses
// them back, and appends them to per-day log files.
package chatlog

import (
	"strings"
	"time"

	"github.com/onnwee/relay/event"
)

// Symbols are the channel-membership prefixes that can lead a nickname.
const Symbols = "~&@%+"

const timeLayout = "15:04:05"

// Build renders ev as a single log line without timestamp. ok is false for
// kinds that have no text form (connection status, log, bunches).
func Build(ev event.Event) (line string, ok bool) {
	who := ev.Symbol + ev.Username
	switch ev.Kind {
	case event.KindMessage:
		return "<" + who + "> " + ev.Message, true
	case event.KindAction:
		return "* " + who + " " + ev.Message, true
	case event.KindNotice:
		return "-" + who + "- " + ev.Message, true
	case event.KindJoin:
		return "** " + who + " joined", true
	case event.KindPart:
		return "** " + who + " left" + reasonSuffix(ev.Reason), true
	case event.KindQuit:
		return "** " + who + " quit" + reasonSuffix(ev.Reason), true
	case event.KindKick:
		return "** " + who + " was kicked by " + ev.By + reasonSuffix(ev.Reason), true
	case event.KindKill:
		return "** " + who + " was killed by " + ev.By + reasonSuffix(ev.Reason), true
	case event.KindModeAdd, event.KindModeRemove:
		sign := "+"
		if ev.Kind == event.KindModeRemove {
			sign = "-"
		}
		line = "** " + who + " sets mode " + sign + ev.Mode
		if ev.Argument != "" {
			line += " " + ev.Argument
		}
		return line, true
	}
	return "", false
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " (" + reason + ")"
}

// Parse is the inverse of Build. It returns nil for lines it cannot read.
func Parse(line string) *event.Event {
	switch {
	case strings.HasPrefix(line, "<"):
		end := strings.Index(line, ">")
		if end < 2 {
			return nil
		}
		sym, user := splitSymbol(line[1:end])
		if user == "" {
			return nil
		}
		text := strings.TrimPrefix(line[end+1:], " ")
		return &event.Event{Kind: event.KindMessage, Symbol: sym, Username: user, Message: text}
	case strings.HasPrefix(line, "** "):
		return parseStructural(line[3:])
	case strings.HasPrefix(line, "* "):
		who, text, _ := strings.Cut(line[2:], " ")
		sym, user := splitSymbol(who)
		if user == "" {
			return nil
		}
		return &event.Event{Kind: event.KindAction, Symbol: sym, Username: user, Message: text}
	case strings.HasPrefix(line, "-"):
		end := strings.Index(line[1:], "- ")
		if end < 1 {
			return nil
		}
		sym, user := splitSymbol(line[1 : end+1])
		if user == "" {
			return nil
		}
		return &event.Event{Kind: event.KindNotice, Symbol: sym, Username: user, Message: line[end+3:]}
	}
	return nil
}

func parseStructural(rest string) *event.Event {
	who, tail, found := strings.Cut(rest, " ")
	if !found {
		return nil
	}
	sym, user := splitSymbol(who)
	if user == "" {
		return nil
	}
	ev := &event.Event{Symbol: sym, Username: user}
	switch {
	case tail == "joined":
		ev.Kind = event.KindJoin
		return ev
	case strings.HasPrefix(tail, "left"):
		ev.Kind = event.KindPart
		return withReason(ev, tail[len("left"):])
	case strings.HasPrefix(tail, "quit"):
		ev.Kind = event.KindQuit
		return withReason(ev, tail[len("quit"):])
	case strings.HasPrefix(tail, "was kicked by "):
		ev.Kind = event.KindKick
		return withActor(ev, tail[len("was kicked by "):])
	case strings.HasPrefix(tail, "was killed by "):
		ev.Kind = event.KindKill
		return withActor(ev, tail[len("was killed by "):])
	case strings.HasPrefix(tail, "sets mode "):
		mode := tail[len("sets mode "):]
		if len(mode) < 2 || (mode[0] != '+' && mode[0] != '-') {
			return nil
		}
		ev.Kind = event.KindModeAdd
		if mode[0] == '-' {
			ev.Kind = event.KindModeRemove
		}
		ev.Mode, ev.Argument, _ = strings.Cut(mode[1:], " ")
		if ev.Mode == "" {
			return nil
		}
		return ev
	}
	return nil
}

// withReason accepts "" or " (reason)".
func withReason(ev *event.Event, s string) *event.Event {
	if s == "" {
		return ev
	}
	if !strings.HasPrefix(s, " (") || !strings.HasSuffix(s, ")") {
		return nil
	}
	ev.Reason = s[2 : len(s)-1]
	return ev
}

// withActor accepts "by" or "by (reason)".
func withActor(ev *event.Event, s string) *event.Event {
	by, reason, _ := strings.Cut(s, " ")
	if by == "" {
		return nil
	}
	ev.By = by
	if reason == "" {
		return ev
	}
	return withReason(ev, " "+reason)
}

func splitSymbol(who string) (symbol, user string) {
	i := 0
	for i < len(who) && strings.IndexByte(Symbols, who[i]) >= 0 {
		i++
	}
	return who[:i], who[i:]
}

// FormatFileLine prefixes line with the wall-clock time of t.
func FormatFileLine(t time.Time, line string) string {
	return "[" + t.Format(timeLayout) + "] " + line
}

// ParseFileLine parses a line written by FormatFileLine. day supplies the date
// and location the clock time is interpreted in.
func ParseFileLine(raw string, day time.Time) *event.Event {
	if len(raw) < len(timeLayout)+3 || raw[0] != '[' || raw[len(timeLayout)+1] != ']' {
		return nil
	}
	clock, err := time.ParseInLocation(timeLayout, raw[1:len(timeLayout)+1], day.Location())
	if err != nil {
		return nil
	}
	ev := Parse(raw[len(timeLayout)+3:])
	if ev == nil {
		return nil
	}
	y, m, d := day.Date()
	ev.Time = time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), 0, day.Location())
	return ev
}
