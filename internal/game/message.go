package game

import (
	"fmt"
	"time"
)

// Line is one raw read from the server's output: either a line of text or the end of the
// stream. The zero value is an empty text line.
type Line struct {
	Text   string
	closed bool
}

// EOF marks that the server closed its output.
var EOF = Line{closed: true}

// Text wraps a raw output line.
func Text(s string) Line { return Line{Text: s} }

func (l Line) Closed() bool { return l.closed }

// Timestamp is a time of day in seconds since midnight, or unknown when the line carried none.
type Timestamp struct {
	seconds int
	known   bool
}

// UnknownTime is the timestamp of lines that did not have the [HH:MM:SS] prefix.
var UnknownTime = Timestamp{}

// Known returns a timestamp for s seconds since midnight.
func Known(s int) Timestamp { return Timestamp{seconds: s, known: true} }

// Seconds returns the seconds since midnight and whether the time is known.
func (t Timestamp) Seconds() (int, bool) { return t.seconds, t.known }

func (t Timestamp) Known() bool { return t.known }

func (t Timestamp) String() string {
	if !t.known {
		return "unknown"
	}
	return fmt.Sprintf("%02d:%02d:%02d", t.seconds/3600, t.seconds/60%60, t.seconds%60)
}

// On places the time of day on the date of ref, in ref's location.
func (t Timestamp) On(ref time.Time) (time.Time, bool) {
	if !t.known {
		return time.Time{}, false
	}
	y, m, d := ref.Date()
	return time.Date(y, m, d, 0, 0, t.seconds, 0, ref.Location()), true
}

// Message is one decoded output line.
type Message struct {
	Time Timestamp
	// Source is the bracketed tag, e.g. "Server thread/INFO". Empty when the line had none.
	Source  string
	Content string
	Raw     string
	closed  bool
}

// Closed is the message produced for the end of the server's output.
var Closed = Message{Time: UnknownTime, closed: true}

// Closed reports whether m marks the end of output.
func (m Message) Closed() bool { return m.closed }

// HasSource reports whether the line carried a [source] tag.
func (m Message) HasSource() bool { return m.Source != "" }

func (m Message) String() string {
	if m.closed {
		return "<closed>"
	}
	if !m.Time.Known() {
		return m.Content
	}
	return fmt.Sprintf("[%s] [%s]: %s", m.Time, m.Source, m.Content)
}
