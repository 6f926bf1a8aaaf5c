package wire

import "github.com/seantiz/kernelgate/internal/model"

// ValueFormatter renders an arbitrary execution result into mimetype maps.
type ValueFormatter interface {
	Format(v any) (data, metadata map[string]any)
}

// ToEvent decodes a kernel-to-server message. Types this package does not
// know become model.UnknownEvent so the caller can log and ignore them.
func ToEvent(m Message) model.Event {
	switch m.Type {
	case TypeStream:
		return model.StreamEvent{Channel: model.Channel(m.Channel), Text: m.Text}
	case TypeResult:
		return model.ResultEvent{Value: model.NewDisplayBundle(m.Data, m.Metadata)}
	case TypeDisplay:
		return model.DisplayEvent{Bundle: model.NewDisplayBundle(m.Data, m.Metadata)}
	case TypeError:
		return model.ErrorEvent{Name: m.EName, Message: m.EValue}
	case TypeReply:
		return model.ReplyEvent{Status: model.ParseStatus(m.Status)}
	default:
		return model.UnknownEvent{Type: m.Type}
	}
}

// FromEvent encodes ev for cellID. Result values are rendered with f since
// arbitrary values do not survive the trip as JSON. The second return is
// false for events that have no wire form.
func FromEvent(cellID string, ev model.Event, f ValueFormatter) (Message, bool) {
	m := Message{Type: string(ev.Kind()), CellID: cellID}
	switch e := ev.(type) {
	case model.StreamEvent:
		m.Channel, m.Text = string(e.Channel), e.Text
	case model.ResultEvent:
		m.Data, m.Metadata = f.Format(e.Value)
	case model.DisplayEvent:
		m.Data, m.Metadata = e.Bundle.Data, e.Bundle.Metadata
	case model.ErrorEvent:
		m.EName, m.EValue = e.Name, e.Message
	case model.ReplyEvent:
		m.Status = string(e.Status)
	default:
		return Message{}, false
	}
	return m, true
}
