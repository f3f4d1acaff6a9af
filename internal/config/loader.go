package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "GROUNDD_"
)

// Loader holds the merged configuration tree so that packages owning their
// own config types (logging, telemetry) can decode their sections.
type Loader struct {
	k *koanf.Koanf
}

// NewLoader reads configuration from a YAML file, then overrides it with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (GROUNDD_SERVER_HTTP_PORT, GROUNDD_LLM_OPENAI_API_KEY, ...)
//  2. .env file in the working directory, if present
//  3. YAML config file
//  4. Hardcoded defaults
//
// An empty configPath uses ~/.config/groundd/config.yaml. Files must live in
// ~/.config/groundd/ or /etc/groundd/, be at most 1MB and carry 0600 or 0400
// permissions.
//
// Environment variables drop the prefix and split on the first underscore:
//
//	GROUNDD_SERVER_HTTP_PORT      -> server.http_port
//	GROUNDD_VECTORSTORE_PROVIDER  -> vectorstore.provider
//	GROUNDD_LLM_OPENAI_API_KEY    -> llm.openai_api_key
func NewLoader(configPath string) (*Loader, error) {
	k := koanf.New(".")

	// .env is a convenience for local runs; real env vars still win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "groundd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return &Loader{k: k}, nil
}

// envKey maps GROUNDD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// Config decodes, defaults and validates the core configuration.
func (l *Loader) Config() (*Config, error) {
	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Unmarshal decodes one section into out. Values absent from the file and
// environment leave out untouched, so callers pass a pre-defaulted struct.
func (l *Loader) Unmarshal(section string, out interface{}) error {
	if !l.k.Exists(section) {
		return nil
	}
	if err := l.k.Unmarshal(section, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s config: %w", section, err)
	}
	return nil
}

// Load is a shorthand for NewLoader followed by Config.
func Load(configPath string) (*Config, error) {
	l, err := NewLoader(configPath)
	if err != nil {
		return nil, err
	}
	return l.Config()
}

// readConfigFile opens the file once and validates it through the same
// descriptor to avoid a TOCTOU race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigPath checks the path is in an allowed directory. It runs even
// if the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "groundd"),
		"/etc/groundd",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/groundd/ or /etc/groundd/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
