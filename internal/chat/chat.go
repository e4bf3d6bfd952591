package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Fixed client-visible strings. Backend error detail never crosses the relay.
const (
	NoResponseText   = "No response"
	ProcessErrorText = "Error occurred while processing the chat."
	StreamErrorText  = "stream error"
)

var (
	ErrMissingModel  = errors.New("chat: model is required")
	ErrMissingPrompt = errors.New("chat: prompt is required")
)

// Request is a decoded client chat request.
type Request struct {
	Model  string
	Prompt string
	// Stream selects the event-stream response; true when the client omitted the field.
	Stream bool
}

// wireRequest is the JSON body accepted on POST /chat.
type wireRequest struct {
	Model  string  `json:"model"`
	Prompt *string `json:"prompt"`
	Stream *bool   `json:"stream,omitempty"`
}

// Response is the single JSON document returned in non-stream mode.
type Response struct {
	Response string `json:"response"`
}

// StreamContent is the JSON payload of one stream event in json wire format.
type StreamContent struct {
	Content string `json:"content"`
}

// StreamError is the JSON payload of the error event in json wire format.
type StreamError struct {
	Error string `json:"error"`
}

// DecodeRequest parses and validates a client request body.
func DecodeRequest(r io.Reader) (Request, error) {
	var wr wireRequest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&wr); err != nil {
		return Request{}, fmt.Errorf("chat: decode request: %w", err)
	}
	model := strings.TrimSpace(wr.Model)
	if model == "" {
		return Request{}, ErrMissingModel
	}
	if wr.Prompt == nil {
		return Request{}, ErrMissingPrompt
	}
	stream := true
	if wr.Stream != nil {
		stream = *wr.Stream
	}
	return Request{Model: model, Prompt: *wr.Prompt, Stream: stream}, nil
}

// Mode returns "stream" or "once" for logging and metrics labels.
func (r Request) Mode() string {
	if r.Stream {
		return "stream"
	}
	return "once"
}
