package version

import (
	"strings"
	"testing"
)

func TestFullInfo(t *testing.T) {
	prev := Commit
	Commit = "abc123"
	t.Cleanup(func() { Commit = prev })

	got := FullInfo()
	if !strings.Contains(got, "version="+Version) || !strings.Contains(got, "commit=abc123") {
		t.Fatalf("unexpected full info %q", got)
	}
}

func TestUserAgent(t *testing.T) {
	if ua := UserAgent(); ua != "tokligence-relay/"+Version {
		t.Fatalf("unexpected user agent %q", ua)
	}
}
