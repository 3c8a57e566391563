// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
)

// Line is the text delivered to a destination endpoint. Notice lines go out
// through the network's notice channel when it has one.
type Line struct {
	Text   string
	Notice bool
}

// Describe renders an event for the local activity log.
func Describe(ev Event) string {
	switch e := ev.(type) {
	case Message:
		return fmt.Sprintf("<%s> %s", e.Nick, e.Text)
	case Action:
		return fmt.Sprintf("* %s %s", e.Nick, e.Text)
	case Join:
		return fmt.Sprintf("%s has joined the channel", e.Nick)
	case Part:
		return fmt.Sprintf("%s has left the channel: %s", e.Nick, e.Reason)
	case Kick:
		return fmt.Sprintf("%s has been kicked by %s: %s", e.Recipient, e.Nick, e.Reason)
	case Quit:
		return fmt.Sprintf("%s has quit: %s", e.Nick, e.Reason)
	case NickChange:
		return fmt.Sprintf("%s is now known as %s", e.OldNick, e.NewNick)
	default:
		return fmt.Sprintf("%s%+v", ev.Kind(), ev)
	}
}

// RelayLine renders an event observed on the endpoint named origin for
// delivery to the other endpoints. It returns false for variants that are
// never relayed.
func RelayLine(origin string, ev Event) (Line, bool) {
	switch e := ev.(type) {
	case Message:
		return Line{Text: fmt.Sprintf("[%s/%s] %s", origin, e.Nick, e.Text)}, true
	case Action:
		return Line{Text: fmt.Sprintf("* [%s/%s] %s", origin, e.Nick, e.Text)}, true
	case Join:
		return notice("[%s/%s] has joined the channel", origin, e.Nick), true
	case Part:
		return notice("[%s/%s] has left the channel: %s", origin, e.Nick, e.Reason), true
	case Kick:
		return notice("[%s/%s] has been kicked by %s: %s", origin, e.Recipient, e.Nick, e.Reason), true
	case Quit:
		return notice("[%s/%s] has quit: %s", origin, e.Nick, e.Reason), true
	case NickChange:
		return notice("[%s/%s] is now known as %s", origin, e.OldNick, e.NewNick), true
	case Disconnect:
		return Line{}, false
	default:
		return Line{}, false
	}
}

// Relayable reports whether RelayLine has an entry for the event's variant.
func Relayable(ev Event) bool {
	_, ok := RelayLine("", ev)
	return ok
}

func notice(format string, args ...any) Line {
	return Line{Text: fmt.Sprintf(format, args...), Notice: true}
}
