package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAPI(cfg, ve)
	validateStream(cfg, ve)
	validateHistory(cfg, ve)
	validateCredentials(cfg, ve)
	validatePreview(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAPI(cfg *Config, ve *ValidationError) {
	a := cfg.API
	if a.BaseURL == "" {
		ve.Add("api.base_url must not be empty (set via COMPANION_API_BASE_URL)")
	} else if u, err := url.Parse(a.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Add("api.base_url %q must be an absolute http(s) URL", a.BaseURL)
	}
	if a.ConnTimeout < 0 {
		ve.Add("api.conn_timeout must be >= 0")
	}
	if a.RespTimeout < 0 {
		ve.Add("api.resp_timeout must be >= 0")
	}
	if a.RateLimit < 0 {
		ve.Add("api.rate_limit must be >= 0")
	}
	if a.RateLimit > 0 && a.RateBurst <= 0 {
		ve.Add("api.rate_burst must be > 0 when api.rate_limit is set")
	}
	if a.CircuitBreaker.Enabled && a.CircuitBreaker.Timeout < 0 {
		ve.Add("api.circuit_breaker.timeout must be >= 0")
	}
}

func validateStream(cfg *Config, ve *ValidationError) {
	if !strings.HasPrefix(cfg.Stream.Path, "/") {
		ve.Add("stream.path %q must start with /", cfg.Stream.Path)
	}
	if cfg.Stream.MaxLineBytes < 1024 {
		ve.Add("stream.max_line_bytes must be >= 1024")
	}
}

func validateHistory(cfg *Config, ve *ValidationError) {
	if !cfg.History.Enabled {
		return
	}
	if cfg.History.DBPath == "" {
		ve.Add("history.db_path must not be empty when history is enabled")
	}
	if cfg.History.Limit <= 0 {
		ve.Add("history.limit must be > 0")
	}
}

func validateCredentials(cfg *Config, ve *ValidationError) {
	if cfg.Credentials.Path == "" {
		ve.Add("credentials.path must not be empty")
	}
}

func validatePreview(cfg *Config, ve *ValidationError) {
	p := cfg.Preview
	if _, _, err := net.SplitHostPort(p.Addr); err != nil {
		ve.Add("preview.addr %q is invalid: %v", p.Addr, err)
	}
	if p.MaxErrors <= 0 {
		ve.Add("preview.max_errors must be > 0")
	}
	if p.ConsoleDebounce < 0 {
		ve.Add("preview.console_debounce must be >= 0")
	}
	if p.RateLimit < 0 {
		ve.Add("preview.rate_limit must be >= 0")
	}
	if p.RateLimit > 0 && p.RateBurst <= 0 {
		ve.Add("preview.rate_burst must be > 0 when preview.rate_limit is set")
	}
	if p.RequestLimit < 0 {
		ve.Add("preview.request_limit must be >= 0")
	}
	if p.ProbeTimeout <= 0 {
		ve.Add("preview.probe_timeout must be > 0")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is invalid (want: stdout, noop)", cfg.Tracer.Exporter)
	}
}
