package chat

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeRequestDefaultsToStream(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{"model":"llama3","prompt":"hi"}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if !req.Stream {
		t.Fatalf("expected stream mode when field omitted")
	}
	if req.Model != "llama3" || req.Prompt != "hi" {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Mode() != "stream" {
		t.Fatalf("unexpected mode %s", req.Mode())
	}
}

func TestDecodeRequestExplicitStream(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "false", body: `{"model":"llama3","prompt":"hi","stream":false}`, want: false},
		{name: "true", body: `{"model":"llama3","prompt":"hi","stream":true}`, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest(strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("DecodeRequest: %v", err)
			}
			if req.Stream != tt.want {
				t.Fatalf("stream = %v, want %v", req.Stream, tt.want)
			}
		})
	}
}

func TestDecodeRequestErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "missing model", body: `{"prompt":"hi"}`, wantErr: ErrMissingModel},
		{name: "blank model", body: `{"model":"  ","prompt":"hi"}`, wantErr: ErrMissingModel},
		{name: "missing prompt", body: `{"model":"llama3"}`, wantErr: ErrMissingPrompt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(strings.NewReader(tt.body))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if _, err := DecodeRequest(strings.NewReader(`{"model":`)); err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

func TestDecodeRequestAllowsEmptyPrompt(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{"model":"llama3","prompt":""}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Prompt != "" {
		t.Fatalf("unexpected prompt %q", req.Prompt)
	}
}
