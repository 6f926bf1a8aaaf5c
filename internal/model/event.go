package model

// Channel names a kernel output stream.
type Channel string

// Stream channels.
const (
	Stdout Channel = "stdout"
	Stderr Channel = "stderr"
)

// EventKind identifies the variant of an Event.
type EventKind string

// Event kinds, named after the kernel messages that carry them.
const (
	KindStream  EventKind = "stream"
	KindResult  EventKind = "execute_result"
	KindDisplay EventKind = "display_data"
	KindError   EventKind = "error"
	KindReply   EventKind = "execute_reply"
)

// Event is one message a kernel emits while executing a cell. The set of
// variants is closed; consumers switch on the concrete type and treat
// UnknownEvent as a catch-all.
type Event interface {
	Kind() EventKind
}

// StreamEvent is a chunk of text written to stdout or stderr.
type StreamEvent struct {
	Channel Channel
	Text    string
}

// ResultEvent carries the value of the cell's final expression. Value is
// either a raw value or a DisplayBundle already keyed by mimetype.
type ResultEvent struct {
	Value any
}

// DisplayEvent is a rich output produced by an explicit display call.
type DisplayEvent struct {
	Bundle DisplayBundle
}

// ErrorEvent reports that the submitted code raised.
type ErrorEvent struct {
	Name    string
	Message string
}

// ReplyEvent is the single terminal event of a submission.
type ReplyEvent struct {
	Status Status
}

// UnknownEvent wraps anything the runtime could not classify.
type UnknownEvent struct {
	Type string
}

func (StreamEvent) Kind() EventKind  { return KindStream }
func (ResultEvent) Kind() EventKind  { return KindResult }
func (DisplayEvent) Kind() EventKind { return KindDisplay }
func (ErrorEvent) Kind() EventKind   { return KindError }
func (ReplyEvent) Kind() EventKind   { return KindReply }
func (e UnknownEvent) Kind() EventKind {
	return EventKind(e.Type)
}
