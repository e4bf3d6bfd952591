package version

import "runtime/debug"

// Set via -ldflags "-X github.com/tokligence/tokligence-relay/internal/version.Version=...".
var (
	Version = "v0.1.0"
	Commit  = "unknown"
	BuiltAt = "unknown"
)

// Info returns the relay version.
func Info() string {
	return Version
}

// FullInfo returns version, commit and build time on one line. When Commit was
// not injected it falls back to the VCS revision recorded by the Go toolchain.
func FullInfo() string {
	return "version=" + Version + " commit=" + commit() + " built_at=" + BuiltAt
}

// UserAgent is sent on every backend request.
func UserAgent() string {
	return "tokligence-relay/" + Version
}

func commit() string {
	if Commit != "unknown" && Commit != "" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return Commit
}
