package game

// Record is the serialisable form of an Event.
type Record struct {
	Type    string `json:"type"`
	Time    string `json:"time"`
	Source  string `json:"source,omitempty"`
	Content string `json:"content"`
	Args    []any  `json:"args"`
}

func (e *Event) Record() Record {
	args := e.Args
	if args == nil {
		args = []any{}
	}
	return Record{
		Type:    e.ID(),
		Time:    e.Message.Time.String(),
		Source:  e.Message.Source,
		Content: e.Message.Content,
		Args:    args,
	}
}
