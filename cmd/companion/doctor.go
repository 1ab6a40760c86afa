package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"project-companion/internal/adapter/credential"
	"project-companion/internal/adapter/history"
	"project-companion/internal/domain"
	"project-companion/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check config, login, backend and local dependencies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		// Some checks work without a config.
		cfg, cfgErr := config.Load(path)
		return runDoctor(cmd.OutOrStdout(), doctorChecks(path, cfgErr), cfg)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorChecks(cfgPath string, cfgErr error) []Check {
	return []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Login", Fn: checkLogin},
		{Name: "Backend", Fn: checkBackend},
		{Name: "History cache", Fn: checkHistory},
		{Name: "Workspace mirror", Fn: checkMirror},
		{Name: "Preview port", Fn: checkPreviewPort},
		{Name: "Chromium", Fn: checkChromium},
	}
}

// runDoctor executes all health checks and reports results.
func runDoctor(w io.Writer, checks []Check, cfg *config.Config) error {
	fmt.Fprintln(w, "companion doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

var notLoaded = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

// checkConfigFile reports whether the config file exists and parsed. A
// missing file is only a warning since defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check the syntax and permissions of %s", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkLogin(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if cfg.API.Token != "" {
		return CheckResult{Status: StatusPass, Message: "using api.token from config"}
	}
	store := credential.NewFileStore(cfg.Credentials.Path, config.Passphrase())
	_, err := credential.Tokens{Store: store}.RequireToken(context.Background())
	switch {
	case err == nil:
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("logged in (%s)", store.Path())}
	case errors.Is(err, domain.ErrNotAuthenticated):
		return CheckResult{Status: StatusFail, Message: "not logged in", Fix: "Run 'companion login'"}
	case errors.Is(err, domain.ErrTokenExpired):
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Run 'companion login' again"}
	default:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot read credentials: %v", err),
			Fix:     "Check COMPANION_CONFIG_KEY matches the key used at login",
		}
	}
}

func checkBackend(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(cfg.API.BaseURL, "/")+"/", nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("invalid api.base_url: %v", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", cfg.API.BaseURL, err),
			Fix:     "Check that the backend is running and api.base_url is correct",
		}
	}
	resp.Body.Close()

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", cfg.API.BaseURL, latency.Milliseconds()),
	}
}

func checkHistory(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if !cfg.History.Enabled {
		return CheckResult{Status: StatusPass, Message: "history cache disabled"}
	}
	store, err := history.Open(cfg.History.DBPath)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: err.Error(),
			Fix:     "Chat still works; fix history.db_path or set history.enabled: false",
		}
	}
	store.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("history cache at %s", cfg.History.DBPath)}
}

func checkMirror(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	dir := cfg.Workspace.MirrorDir
	if dir == "" {
		return CheckResult{Status: StatusPass, Message: "no mirror directory, files stay in memory"}
	}
	absDir, _ := filepath.Abs(dir)
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("mirror directory %s cannot be created: %v", absDir, err),
			Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", absDir),
		}
	}
	testFile := filepath.Join(absDir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("mirror directory %s is not writable: %v", absDir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 755 %s", absDir),
		}
	}
	os.Remove(testFile)

	msg := fmt.Sprintf("mirror directory %s writable", absDir)
	if cfg.Workspace.Watch {
		msg += ", watching for local edits"
	}
	return CheckResult{Status: StatusPass, Message: msg}
}

func checkPreviewPort(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	ln, err := net.Listen("tcp", cfg.Preview.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s unavailable: %v", cfg.Preview.Addr, err),
			Fix:     "Stop the process using it or change preview.addr",
		}
	}
	ln.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s free", cfg.Preview.Addr)}
}

// checkChromium looks for a browser for 'preview probe'. Missing is only a
// warning since the probe is optional.
func checkChromium(_ *config.Config) CheckResult {
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if path, err := exec.LookPath(name); err == nil {
			return CheckResult{
				Status:  StatusPass,
				Message: fmt.Sprintf("found %s at %s", name, path),
			}
		}
	}
	return CheckResult{
		Status:  StatusWarn,
		Message: "Chromium not found, 'preview probe' needs --remote",
		Fix:     "Install Chromium: apt install chromium",
	}
}
