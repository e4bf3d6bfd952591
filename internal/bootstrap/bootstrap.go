package bootstrap

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tokligence/tokligence-relay/internal/config"
)

// InitOptions configures the bootstrap process for generating config files.
type InitOptions struct {
	Root        string
	Environment string
	HTTPAddress string
	Backend     string
	BackendURL  string
	PoolSize    int
	LedgerPath  string
	Force       bool
}

// Init scaffolds setting.ini and the per-environment relay.ini.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := Validate(opts); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(opts.Root, "config", opts.Environment)); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}
	relayPath := filepath.Join(opts.Root, "config", opts.Environment, "relay.ini")
	if err := writeFile(relayPath, relayTemplate(opts), opts.Force); err != nil {
		return err
	}
	return nil
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.HTTPAddress) == "" {
		opts.HTTPAddress = ":8081"
	}
	if strings.TrimSpace(opts.Backend) == "" {
		opts.Backend = config.BackendOllama
	}
	opts.Backend = strings.ToLower(opts.Backend)
	if strings.TrimSpace(opts.BackendURL) == "" {
		switch opts.Backend {
		case config.BackendOllama:
			opts.BackendURL = "http://localhost:11434"
		case config.BackendOpenAI:
			opts.BackendURL = "http://localhost:11434/v1"
		}
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 1
	}
	if strings.TrimSpace(opts.LedgerPath) == "" {
		opts.LedgerPath = config.DefaultLedgerPath()
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Tokligence Relay settings
environment=%s
log_level=info
`, opts.Environment)
}

func relayTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Environment specific overrides for %s
http_address=%s
# Dash '-' disables file output.
log_file=logs/relayd.log
log_max_files=7
backend=%s
backend_url=%s
backend_pool_size=%d
# 0 disables the per-request backend timeout
backend_timeout=0
stream_format=json
sse_keepalive=15s
stream_done_marker=false
ledger_path=%s
`, opts.Environment, opts.HTTPAddress, opts.Backend, opts.BackendURL, opts.PoolSize, opts.LedgerPath)
}

// Validate ensures the options describe a usable relay without modifying files.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	switch opts.Backend {
	case config.BackendOllama, config.BackendOpenAI, config.BackendLoopback:
	default:
		return fmt.Errorf("unknown backend %q", opts.Backend)
	}
	if opts.Backend != config.BackendLoopback {
		u, err := url.Parse(opts.BackendURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("backend url must be absolute, e.g. http://localhost:11434")
		}
	}
	return nil
}
