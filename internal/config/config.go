// Package config resolves the CLI configuration from flags, the environment,
// .env files and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load.
const (
	EnvServerURL    = "SERVER_URL"
	EnvClientID     = "CLIENT_ID"
	EnvClientSecret = "CLIENT_SECRET"
	EnvAuthMethod   = "TOKEN_ENDPOINT_AUTH_METHOD"
	EnvScope        = "SCOPE"
	EnvCallbackPort = "CALLBACK_PORT"
	EnvRedirectURI  = "REDIRECT_URI"
	EnvStorage      = "STORAGE"
	EnvLogLevel     = "LOG_LEVEL"
	EnvConfigFile   = "AUTHGATE_CONFIG"
)

// Defaults.
const (
	DefaultServerURL    = "http://localhost:8080"
	DefaultScope        = "openid offline_access"
	DefaultCallbackPort = 8888
	DefaultStorage      = StorageFile
	DefaultLogLevel     = "warn"
)

// Storage backends selectable with --storage.
const (
	StorageFile    = "file"
	StorageKeyring = "keyring"
	StorageSession = "session"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the resolved CLI configuration.
type Config struct {
	ServerURL    string `yaml:"server_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AuthMethod   string `yaml:"token_endpoint_auth_method"`
	Scope        string `yaml:"scope"`
	CallbackPort int    `yaml:"callback_port"`
	RedirectURI  string `yaml:"redirect_uri"`
	Storage      string `yaml:"storage"`
	LogLevel     string `yaml:"log_level"`
}

// Flags holds the raw command-line values. Empty strings and a zero port
// mean "not set".
type Flags struct {
	ServerURL    string
	ClientID     string
	ClientSecret string
	AuthMethod   string
	Scope        string
	CallbackPort int
	RedirectURI  string
	Storage      string
	LogLevel     string
	ConfigFile   string
}

type options struct {
	withDotEnv []string
	withLookup func(string) string
}

// Option configures Load.
type Option func(*options)

// WithDotEnv layers the given .env files below the process environment.
// Missing files are ignored.
func WithDotEnv(paths ...string) Option {
	return func(o *options) {
		o.withDotEnv = paths
	}
}

// WithLookup replaces os.Getenv.
func WithLookup(fn func(key string) string) Option {
	return func(o *options) {
		o.withLookup = fn
	}
}

func getOpts(opt ...Option) options {
	opts := options{withLookup: os.Getenv}
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

// Load resolves and validates the configuration.
func Load(flags Flags, opt ...Option) (*Config, error) {
	const op = "config.Load"
	opts := getOpts(opt...)

	dotenv, err := readDotEnv(opts.withDotEnv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	getEnv := func(key, defaultValue string) string {
		if v := opts.withLookup(key); v != "" {
			return v
		}
		if v := dotenv[key]; v != "" {
			return v
		}
		return defaultValue
	}

	file := &Config{}
	if path := getConfig(flags.ConfigFile, "", getEnv(EnvConfigFile, "")); path != "" {
		if file, err = LoadFile(path); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	resolve := func(flagValue, envKey, fileValue, defaultValue string) string {
		return getConfig(flagValue, getEnv(envKey, ""), getConfig(fileValue, "", defaultValue))
	}

	cfg := &Config{
		ServerURL:    resolve(flags.ServerURL, EnvServerURL, file.ServerURL, DefaultServerURL),
		ClientID:     resolve(flags.ClientID, EnvClientID, file.ClientID, ""),
		ClientSecret: resolve(flags.ClientSecret, EnvClientSecret, file.ClientSecret, ""),
		AuthMethod:   resolve(flags.AuthMethod, EnvAuthMethod, file.AuthMethod, ""),
		Scope:        resolve(flags.Scope, EnvScope, file.Scope, DefaultScope),
		Storage:      resolve(flags.Storage, EnvStorage, file.Storage, DefaultStorage),
		LogLevel:     resolve(flags.LogLevel, EnvLogLevel, file.LogLevel, DefaultLogLevel),
	}

	// The port is an int flag; resolve it as a string like the rest.
	var flagPort, filePort string
	if flags.CallbackPort != 0 {
		flagPort = strconv.Itoa(flags.CallbackPort)
	}
	if file.CallbackPort != 0 {
		filePort = strconv.Itoa(file.CallbackPort)
	}
	portStr := resolve(flagPort, EnvCallbackPort, filePort, strconv.Itoa(DefaultCallbackPort))
	port, portErr := strconv.Atoi(portStr)
	cfg.CallbackPort = port

	// The default redirect URI depends on the port.
	cfg.RedirectURI = resolve(flags.RedirectURI, EnvRedirectURI, file.RedirectURI,
		fmt.Sprintf("http://localhost:%d/callback", port))

	var retErr *multierror.Error
	if portErr != nil {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: callback port %q is not a number", ErrInvalidConfig, portStr))
	}
	if err := cfg.Validate(); err != nil {
		retErr = multierror.Append(retErr, err)
	}
	if err := retErr.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

// LoadFile reads a YAML configuration file without validating it.
func LoadFile(path string) (*Config, error) {
	const op = "config.LoadFile"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: read config file: %w", op, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: unmarshal config file: %w", op, err)
	}
	return &cfg, nil
}

func readDotEnv(paths []string) (map[string]string, error) {
	merged := map[string]string{}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		vals, err := godotenv.Read(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		for k, v := range vals {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}
	return merged, nil
}

// getConfig returns the first non-empty of flagValue, envValue and
// defaultValue.
func getConfig(flagValue, envValue, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue != "" {
		return envValue
	}
	return defaultValue
}

// Validate checks the resolved values.
func (c *Config) Validate() error {
	var retErr *multierror.Error
	if err := validateServerURL(c.ServerURL); err != nil {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: server url: %w", ErrInvalidConfig, err))
	}
	if c.ClientID == "" {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: client id not set; use --client-id, %s or a .env file", ErrInvalidConfig, EnvClientID))
	}
	if c.CallbackPort <= 0 || c.CallbackPort > 65535 {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: callback port %d out of range", ErrInvalidConfig, c.CallbackPort))
	}
	switch c.Storage {
	case StorageFile, StorageKeyring, StorageSession:
	default:
		retErr = multierror.Append(retErr, fmt.Errorf("%w: unknown storage %q", ErrInvalidConfig, c.Storage))
	}
	if c.Level() == hclog.NoLevel {
		retErr = multierror.Append(retErr, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel))
	}
	return retErr.ErrorOrNil()
}

// Warnings returns non-fatal problems worth showing to the user.
func (c *Config) Warnings() []string {
	var warnings []string
	if strings.HasPrefix(strings.ToLower(c.ServerURL), "http://") {
		warnings = append(warnings,
			"Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
			"This is only safe for local development. Use HTTPS in production.")
	}
	if _, err := uuid.Parse(c.ClientID); err != nil {
		warnings = append(warnings, fmt.Sprintf("CLIENT_ID doesn't appear to be a valid UUID: %s", c.ClientID))
	}
	return warnings
}

// Level returns the parsed log level.
func (c *Config) Level() hclog.Level {
	return hclog.LevelFromString(c.LogLevel)
}

func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}
