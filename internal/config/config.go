package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/relay.ini"
	dotEnvFile       = ".env"
	envPrefix        = "TOKLIGENCE_"
)

// Backend kinds accepted by the backend key.
const (
	BackendOllama   = "ollama"
	BackendOpenAI   = "openai"
	BackendLoopback = "loopback"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// RelayConfig describes runtime options for relayd.
type RelayConfig struct {
	Environment string
	HTTPAddress string

	LogFile     string
	LogLevel    string
	LogMaxFiles int

	// Backend selection and sizing
	Backend            string
	BackendURL         string
	BackendAPIKey      string
	BackendPoolSize    int
	BackendTimeout     time.Duration
	BreakerEnabled     bool
	BreakerMaxFailures int
	BreakerOpenTimeout time.Duration

	// Relay behaviour
	RelayQueueSize   int
	StreamFormat     string
	SSEKeepAlive     time.Duration
	StreamDoneMarker bool
	ForceAccumulate  bool

	LedgerPath  string
	LedgerAsync bool

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	ModelAliases     map[string]string
	ModelAliasesFile string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoadDotEnv loads <root>/.env into the process environment. Variables that are
// already set win. A missing file is not an error.
func LoadDotEnv(root string) error {
	if root == "" {
		root = "."
	}
	err := godotenv.Load(filepath.Join(root, dotEnvFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", dotEnvFile, err)
	}
	return nil
}

// LoadRelayConfig reads the current environment and loads the matching relay config file.
// Every key can be overridden by TOKLIGENCE_<KEY> in the environment.
func LoadRelayConfig(root string) (RelayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return RelayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return RelayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	get := func(key string) string {
		return firstNonEmpty(os.Getenv(envPrefix+strings.ToUpper(key)), merged[key])
	}

	cfg := RelayConfig{
		Environment:        s.Environment,
		HTTPAddress:        firstNonEmpty(get("http_address"), ":8081"),
		LogFile:            get("log_file"),
		LogLevel:           strings.ToLower(firstNonEmpty(get("log_level"), "info")),
		LogMaxFiles:        parseOptionalInt(get("log_max_files"), 7),
		Backend:            strings.ToLower(firstNonEmpty(get("backend"), BackendOllama)),
		BackendURL:         get("backend_url"),
		BackendAPIKey:      get("backend_api_key"),
		BackendPoolSize:    parseOptionalInt(get("backend_pool_size"), 1),
		BreakerEnabled:     parseOptionalBool(get("breaker_enabled"), true),
		BreakerMaxFailures: parseOptionalInt(get("breaker_max_failures"), 5),
		RelayQueueSize:     parseOptionalInt(get("relay_queue_size"), 100),
		StreamFormat:       strings.ToLower(firstNonEmpty(get("stream_format"), "json")),
		StreamDoneMarker:   parseBool(get("stream_done_marker")),
		ForceAccumulate:    parseBool(get("force_accumulate")),
		LedgerPath:         firstNonEmpty(get("ledger_path"), DefaultLedgerPath()),
		LedgerAsync:        parseBool(get("ledger_async")),
		CORSAllowedOrigins: parseCSV(get("cors_allowed_origins")),
		RateLimitBurst:     parseOptionalInt(get("rate_limit_burst"), 0),
		ModelAliases:       parseAliases(get("model_aliases")),
		ModelAliasesFile:   get("model_aliases_file"),
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"backend_timeout", 0, &cfg.BackendTimeout},
		{"breaker_open_timeout", 30 * time.Second, &cfg.BreakerOpenTimeout},
		{"sse_keepalive", 15 * time.Second, &cfg.SSEKeepAlive},
		{"read_timeout", 30 * time.Second, &cfg.ReadTimeout},
		{"write_timeout", 0, &cfg.WriteTimeout},
		{"shutdown_timeout", 30 * time.Second, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		v, err := parseOptionalDuration(get(d.key), d.fallback)
		if err != nil {
			return RelayConfig{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if v := get("rate_limit_rps"); v != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return RelayConfig{}, fmt.Errorf("invalid rate_limit_rps %q: %w", v, err)
		}
		cfg.RateLimitRPS = parsed
	}

	if err := cfg.Validate(); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at startup.
func (c RelayConfig) Validate() error {
	switch c.Backend {
	case BackendOllama, BackendOpenAI, BackendLoopback:
	default:
		return fmt.Errorf("unknown backend %q (want ollama, openai or loopback)", c.Backend)
	}
	switch c.StreamFormat {
	case "json", "raw":
	default:
		return fmt.Errorf("unknown stream_format %q (want json or raw)", c.StreamFormat)
	}
	if c.BackendPoolSize < 1 {
		return fmt.Errorf("backend_pool_size must be at least 1, got %d", c.BackendPoolSize)
	}
	if c.RelayQueueSize < 1 {
		return fmt.Errorf("relay_queue_size must be at least 1, got %d", c.RelayQueueSize)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("rate_limit_rps must not be negative")
	}
	return nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: firstNonEmpty(os.Getenv(envPrefix+"ENV"), defaultEnv), Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv(envPrefix+"ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

// parseOptionalDuration accepts Go durations ("15s") or bare seconds ("15").
func parseOptionalDuration(v string, fallback time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", v)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseAliases parses model aliases from a CSV or newline-separated string.
// Format examples:
//
//	llama = llama3.1:8b, mistral = mistral:7b-instruct
//	llama=>llama3.1:8b\nqwen=>qwen2.5:7b
func parseAliases(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	aliases := make(map[string]string)
	for _, line := range strings.Split(input, "\n") {
		for _, e := range strings.Split(line, ",") {
			e = strings.TrimSpace(e)
			if e == "" {
				continue
			}
			var kv []string
			if strings.Contains(e, "=>") {
				kv = strings.SplitN(e, "=>", 2)
			} else {
				kv = strings.SplitN(e, "=", 2)
			}
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			val := strings.TrimSpace(kv[1])
			if key != "" && val != "" {
				aliases[key] = val
			}
		}
	}
	if len(aliases) == 0 {
		return nil
	}
	return aliases
}

// DefaultLedgerPath returns the fallback ledger location under the user's home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "relay-ledger.db"
	}
	return filepath.Join(home, ".tokligence", "relay", "ledger.db")
}
