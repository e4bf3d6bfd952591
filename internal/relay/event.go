package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tokligence/tokligence-relay/internal/chat"
)

// Format selects the payload carried by stream events.
type Format string

const (
	// FormatJSON wraps each fragment as {"content": "..."}.
	FormatJSON Format = "json"
	// FormatRaw sends the fragment text as-is.
	FormatRaw Format = "raw"
)

// ErrorEventName tags the synthetic event sent when the backend fails.
const ErrorEventName = "error"

// DoneData is the optional terminal marker.
const DoneData = "[DONE]"

// KeepAliveFrame is the SSE comment written on idle streams.
var KeepAliveFrame = []byte(": keep-alive\n\n")

// ParseFormat maps a config value to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatRaw:
		return FormatRaw, nil
	default:
		return "", fmt.Errorf("relay: unknown stream format %q", s)
	}
}

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// IsError reports whether the event is the synthetic backend-failure event.
func (e Event) IsError() bool { return e.Name == ErrorEventName }

// Encode renders the event in text/event-stream framing. Multi-line data is
// split over several data fields so clients reassemble it with newlines.
func (e Event) Encode() []byte {
	var b strings.Builder
	if e.Name != "" {
		b.WriteString("event: ")
		b.WriteString(e.Name)
		b.WriteByte('\n')
	}
	data := strings.ReplaceAll(e.Data, "\r\n", "\n")
	data = strings.ReplaceAll(data, "\r", "\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// Content builds the event for one text fragment.
func (f Format) Content(text string) Event {
	if f == FormatRaw {
		return Event{Data: text}
	}
	return Event{Data: mustJSON(chat.StreamContent{Content: text})}
}

// Error builds the single event sent when the backend fails.
func (f Format) Error() Event {
	if f == FormatRaw {
		return Event{Name: ErrorEventName, Data: chat.StreamErrorText}
	}
	return Event{Name: ErrorEventName, Data: mustJSON(chat.StreamError{Error: chat.StreamErrorText})}
}

// Done builds the optional terminal marker event.
func (f Format) Done() Event {
	return Event{Data: DoneData}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// only plain string structs are marshalled here
		panic(err)
	}
	return string(b)
}
