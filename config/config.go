// Package config loads server configuration from, in increasing
// precedence order: built-in defaults, an optional YAML file, process
// environment variables, and explicit CLI flags.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config holds every option the server recognizes.
type Config struct {
	Port        int    `yaml:"port"`
	TLSCertPath string `yaml:"tls_cert_path"`
	TLSKeyPath  string `yaml:"tls_key_path"`
	RequireE2EE bool   `yaml:"require_e2ee"`
	DBPath      string `yaml:"db_path"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		Port:        8080,
		RequireE2EE: true,
		DBPath:      "rura.db",
		LogLevel:    "info",
	}
}

// fileConfig mirrors Config but with a pointer RequireE2EE so the YAML
// decoder can distinguish "absent from the file" from "explicitly false".
type fileConfig struct {
	Port        int    `yaml:"port"`
	TLSCertPath string `yaml:"tls_cert_path"`
	TLSKeyPath  string `yaml:"tls_key_path"`
	RequireE2EE *bool  `yaml:"require_e2ee"`
	DBPath      string `yaml:"db_path"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoadYAMLFile overlays non-zero fields from the YAML document at path
// onto cfg. A missing file is not an error (the config file is optional).
func LoadYAMLFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fromFile fileConfig
	if err := yaml.Unmarshal(raw, &fromFile); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	mergeNonZero(cfg, fromFile)
	return nil
}

// ApplyEnv overlays recognized environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("RURA_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v, ok := os.LookupEnv("RURA_TLS_CERT"); ok {
		cfg.TLSCertPath = v
	}
	if v, ok := os.LookupEnv("RURA_TLS_KEY"); ok {
		cfg.TLSKeyPath = v
	}
	if v, ok := os.LookupEnv("RURA_REQUIRE_E2EE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RequireE2EE = b
		}
	}
	if v, ok := os.LookupEnv("RURA_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("RURA_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("RURA_LOG_FILE"); ok {
		cfg.LogFile = v
	}
	if v, ok := os.LookupEnv("RURA_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
}

// FlagOverlay holds the values cobra parsed, independent of cfg, so
// callers can tell "flag left at its zero value" apart from "flag
// explicitly passed" via cmd.Flags().Changed.
type FlagOverlay struct {
	Port        int
	TLSCertPath string
	TLSKeyPath  string
	RequireE2EE bool
	DBPath      string
	LogLevel    string
	LogFile     string
	MetricsAddr string
	ConfigPath  string
}

// BindFlags registers every recognized option as a cobra flag, parsed
// into overlay. Defaults shown in --help come from cfg (main passes the
// built-in Defaults(); env and file values are applied later); the overlay
// fields themselves are only meaningful together with Changed (see
// ApplyChangedFlags).
func BindFlags(cmd *cobra.Command, cfg Config, overlay *FlagOverlay) {
	cmd.Flags().IntVar(&overlay.Port, "port", cfg.Port, "TCP port to listen on")
	cmd.Flags().StringVar(&overlay.TLSCertPath, "tls-cert", cfg.TLSCertPath, "path to the TLS certificate chain (PEM, required)")
	cmd.Flags().StringVar(&overlay.TLSKeyPath, "tls-key", cfg.TLSKeyPath, "path to the TLS private key (PEM, PKCS#8 or RSA, required)")
	cmd.Flags().BoolVar(&overlay.RequireE2EE, "require-e2ee", cfg.RequireE2EE, "reject message bodies that are not a valid v1 E2EE envelope")
	cmd.Flags().StringVar(&overlay.DBPath, "db-path", cfg.DBPath, "path to the sqlite identity store file")
	cmd.Flags().StringVar(&overlay.LogLevel, "log-level", cfg.LogLevel, "zap log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&overlay.LogFile, "log-file", cfg.LogFile, "optional rotating log file path (stderr if unset)")
	cmd.Flags().StringVar(&overlay.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "optional host:port to serve Prometheus /metrics on")
	cmd.Flags().StringVar(&overlay.ConfigPath, "config", "", "optional YAML config file")
}

// ApplyChangedFlags overlays onto cfg only the flags the user actually
// passed on the command line, giving flags the highest precedence over
// env vars and the YAML file without letting unset flag defaults
// clobber values those lower layers already supplied.
func ApplyChangedFlags(cmd *cobra.Command, overlay FlagOverlay, cfg *Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = overlay.Port
	}
	if flags.Changed("tls-cert") {
		cfg.TLSCertPath = overlay.TLSCertPath
	}
	if flags.Changed("tls-key") {
		cfg.TLSKeyPath = overlay.TLSKeyPath
	}
	if flags.Changed("require-e2ee") {
		cfg.RequireE2EE = overlay.RequireE2EE
	}
	if flags.Changed("db-path") {
		cfg.DBPath = overlay.DBPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = overlay.LogLevel
	}
	if flags.Changed("log-file") {
		cfg.LogFile = overlay.LogFile
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = overlay.MetricsAddr
	}
}

// Validate checks the invariants the server cannot start without.
func (c Config) Validate() error {
	if c.TLSCertPath == "" {
		return fmt.Errorf("tls cert path is required (--tls-cert or RURA_TLS_CERT)")
	}
	if c.TLSKeyPath == "" {
		return fmt.Errorf("tls key path is required (--tls-key or RURA_TLS_KEY)")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// mergeNonZero overlays the non-zero-valued fields of src onto dst.
func mergeNonZero(dst *Config, src fileConfig) {
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.TLSCertPath != "" {
		dst.TLSCertPath = src.TLSCertPath
	}
	if src.TLSKeyPath != "" {
		dst.TLSKeyPath = src.TLSKeyPath
	}
	if src.DBPath != "" {
		dst.DBPath = src.DBPath
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogFile != "" {
		dst.LogFile = src.LogFile
	}
	if src.MetricsAddr != "" {
		dst.MetricsAddr = src.MetricsAddr
	}
	if src.RequireE2EE != nil {
		dst.RequireE2EE = *src.RequireE2EE
	}
}
