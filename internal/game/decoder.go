package game

import (
	"fmt"
	"regexp"
	"strconv"
)

var lineRe = regexp.MustCompile(`^\[(\d{2}):(\d{2}):(\d{2})\] \[([^\]]+)\]: (.*)$`)

// Event is a message that matched an EventType, with its arguments converted.
type Event struct {
	Type    *EventType
	Message Message
	Args    []any
}

// ID is shorthand for e.Type.ID.
func (e *Event) ID() string { return e.Type.ID }

// String returns argument i as a string, formatting non-string values.
func (e *Event) String(i int) string {
	if i < 0 || i >= len(e.Args) {
		return ""
	}
	if s, ok := e.Args[i].(string); ok {
		return s
	}
	return fmt.Sprint(e.Args[i])
}

// Float returns argument i as a float64 when it is numeric.
func (e *Event) Float(i int) (float64, bool) {
	if i < 0 || i >= len(e.Args) {
		return 0, false
	}
	switch v := e.Args[i].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case int16:
		return float64(v), true
	}
	return 0, false
}

// Int returns argument i as an int64 when it is an integer.
func (e *Event) Int(i int) (int64, bool) {
	if i < 0 || i >= len(e.Args) {
		return 0, false
	}
	switch v := e.Args[i].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	}
	return 0, false
}

// Decoder splits raw lines and classifies them against a catalog.
type Decoder struct {
	catalog *Catalog
}

func NewDecoder(catalog *Catalog) *Decoder {
	return &Decoder{catalog: catalog}
}

func (d *Decoder) Catalog() *Catalog { return d.catalog }

// Decode never fails: lines without the [HH:MM:SS] [source]: prefix come back with an unknown
// time, no source and the whole line as content.
func (d *Decoder) Decode(line Line) Message {
	if line.Closed() {
		return Closed
	}
	raw := line.Text
	m := lineRe.FindStringSubmatch(raw)
	if m == nil {
		return Message{Time: UnknownTime, Content: raw, Raw: raw}
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	if h > 23 || min > 59 || s > 59 {
		return Message{Time: UnknownTime, Content: raw, Raw: raw}
	}
	return Message{
		Time:    Known(h*3600 + min*60 + s),
		Source:  m[4],
		Content: m[5],
		Raw:     raw,
	}
}

// DecodeString is Decode for a line of text.
func (d *Decoder) DecodeString(raw string) Message {
	return d.Decode(Text(raw))
}

// Classify tests msg against the catalog; the first matching type wins. It returns nil, nil
// when nothing matches. An error means a type matched but an argument did not convert.
func (d *Decoder) Classify(msg Message) (*Event, error) {
	if msg.Closed() || d.catalog == nil {
		return nil, nil
	}
	for _, et := range d.catalog.Types() {
		subject := msg.Content
		if et.MatchRaw {
			subject = msg.Raw
		}
		caps, ok := et.match(subject)
		if !ok {
			continue
		}
		args, err := et.decode(caps)
		if err != nil {
			return nil, err
		}
		return &Event{Type: et, Message: msg, Args: args}, nil
	}
	return nil, nil
}
