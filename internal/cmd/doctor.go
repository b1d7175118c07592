package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/appid"
	"github.com/intunectl/intunectl/internal/config"
	"github.com/intunectl/intunectl/internal/core/store"
	"github.com/intunectl/intunectl/internal/graph"
	"github.com/intunectl/intunectl/internal/observability"
)

type checkStatus int

const (
	checkPass checkStatus = iota
	checkWarn
	checkFail
	checkSkip
)

func (s checkStatus) mark() string {
	switch s {
	case checkPass:
		return "✅"
	case checkWarn:
		return "⚠️ "
	case checkFail:
		return "❌"
	default:
		return "-"
	}
}

// doctorEnv is shared by the checks of one doctor run.
type doctorEnv struct {
	cfg     *config.Config
	cfgErr  error
	connect bool
	now     time.Time
}

type doctorCheck struct {
	name string
	run  func(ctx context.Context, env *doctorEnv) (checkStatus, string)
}

type doctorResult struct {
	name   string
	status checkStatus
	detail string
}

var doctorChecks = []doctorCheck{
	{"Go runtime", checkRuntime},
	{"Gofulmen/Crucible", checkCrucible},
	{"configuration", checkConfig},
	{"Graph credentials", checkCredentials},
	{"database", checkDatabase},
	{"throttled endpoints", checkThrottled},
	{"token acquisition", checkToken},
}

func checkRuntime(context.Context, *doctorEnv) (checkStatus, string) {
	return checkPass, fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func checkCrucible(context.Context, *doctorEnv) (checkStatus, string) {
	v := crucible.GetVersion()
	if v.Gofulmen == "" || v.Crucible == "" {
		return checkWarn, "version metadata missing"
	}
	return checkPass, fmt.Sprintf("v%s / v%s", v.Gofulmen, v.Crucible)
}

func checkConfig(_ context.Context, env *doctorEnv) (checkStatus, string) {
	path := config.DefaultConfigPath()
	switch {
	case env.cfgErr != nil:
		return checkFail, env.cfgErr.Error()
	case fileExists(path):
		return checkPass, path
	default:
		return checkPass, fmt.Sprintf("defaults (no %s)", path)
	}
}

func checkCredentials(_ context.Context, env *doctorEnv) (checkStatus, string) {
	if env.cfg == nil {
		return checkSkip, "config not loaded"
	}
	if _, err := graph.NewCredential(env.cfg.Graph.Credentials); err != nil {
		prefix := appid.EnvPrefix(GetAppIdentity())
		return checkFail, fmt.Sprintf("%v; set %sTENANT_ID, %sCLIENT_ID and %sCLIENT_SECRET, or %sACCESS_TOKEN",
			err, prefix, prefix, prefix, prefix)
	}
	return checkPass, credentialMode(env.cfg.Graph.Credentials)
}

func checkDatabase(ctx context.Context, env *doctorEnv) (checkStatus, string) {
	if env.cfg == nil {
		return checkSkip, "config not loaded"
	}
	location := describeStore(env.cfg.Store)
	db, err := openConfiguredStore(ctx, env.cfg.Store)
	if err != nil {
		return checkFail, fmt.Sprintf("%s: %v", location, err)
	}
	defer func() { _ = db.Close() }()

	last, err := db.LastRefresh(ctx)
	switch {
	case err != nil:
		return checkWarn, location + " (snapshot status unavailable)"
	case last == nil:
		return checkPass, location + " (no snapshot yet, run 'policy refresh')"
	default:
		return checkPass, fmt.Sprintf("%s (snapshot %s)", location, formatTimeAgo(env.now, *last))
	}
}

// checkThrottled warns when Graph still has any endpoint in backoff.
func checkThrottled(ctx context.Context, env *doctorEnv) (checkStatus, string) {
	if env.cfg == nil {
		return checkSkip, "config not loaded"
	}
	db, err := openConfiguredStore(ctx, env.cfg.Store)
	if err != nil {
		return checkSkip, "store unavailable"
	}
	defer func() { _ = db.Close() }()

	entries, err := db.ListRateLimits(ctx, store.RateLimitQuery{All: true})
	if err != nil {
		return checkWarn, err.Error()
	}
	var throttled []string
	for _, entry := range entries {
		if entry.State.Throttled(env.now) {
			throttled = append(throttled, entry.Endpoint)
		}
	}
	if len(throttled) > 0 {
		return checkWarn, fmt.Sprintf("%d of %d in backoff: %s (see 'rate-limit list')",
			len(throttled), len(entries), strings.Join(throttled, ", "))
	}
	return checkPass, fmt.Sprintf("none of %d tracked", len(entries))
}

func checkToken(ctx context.Context, env *doctorEnv) (checkStatus, string) {
	switch {
	case !env.connect:
		return checkSkip, "use --connect"
	case env.cfg == nil:
		return checkSkip, "config not loaded"
	}
	cred, err := graph.NewCredential(env.cfg.Graph.Credentials)
	if err != nil {
		return checkFail, err.Error()
	}
	session, err := graph.NewSession(ctx, cred)
	if err != nil {
		return checkFail, err.Error()
	}
	expires := session.ExpiresAt()
	_ = session.Close()
	return checkPass, "token valid until " + expiryLabel(expires)
}

// runDoctorChecks runs every check in order. Later checks see the config
// loaded by the caller.
func runDoctorChecks(ctx context.Context, env *doctorEnv, checks []doctorCheck) []doctorResult {
	results := make([]doctorResult, 0, len(checks))
	for _, check := range checks {
		status, detail := check.run(ctx, env)
		results = append(results, doctorResult{name: check.name, status: status, detail: detail})
	}
	return results
}

func doctorLine(i, total int, r doctorResult) string {
	line := fmt.Sprintf("[%d/%d] Checking %s... ", i+1, total, r.name)
	if r.status == checkSkip {
		return line + "skipped (" + r.detail + ")"
	}
	return line + r.status.mark() + " " + r.detail
}

func doctorHealthy(results []doctorResult) bool {
	for _, r := range results {
		if r.status == checkFail || r.status == checkWarn {
			return false
		}
	}
	return true
}

var doctorConnect bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on configuration, Graph credentials, the local store,
and persisted rate limit state.

With --connect the doctor also acquires an access token, which verifies the
tenant id, client id and client secret against the identity platform.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		_, binaryName := appid.Names(GetAppIdentity())
		log.Info("=== " + binaryName + " doctor ===")
		log.Info("")

		env := &doctorEnv{connect: doctorConnect, now: time.Now()}
		env.cfg, env.cfgErr = config.Load(cmd.Context())
		if env.cfgErr != nil {
			env.cfg = nil
		}

		results := runDoctorChecks(cmd.Context(), env, doctorChecks)
		for i, r := range results {
			line := doctorLine(i, len(results), r)
			switch r.status {
			case checkFail:
				log.Error(line, zap.String("check", r.name))
			case checkWarn:
				log.Warn(line, zap.String("check", r.name))
			default:
				log.Info(line, zap.String("check", r.name))
			}
		}

		log.Info("")
		if doctorHealthy(results) {
			log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", binaryName))
		} else {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		log.Info("=== End Diagnostics ===")
	},
}

var (
	doctorInitForce   bool
	doctorResetConfig bool
	doctorResetData   bool
	doctorResetAll    bool
	doctorResetYes    bool
)

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if fileExists(configPath) && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		body := buildInitConfig(appid.EnvPrefix(GetAppIdentity()))
		if err := os.WriteFile(configPath, []byte(body), 0o600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := observability.CLILogger
		log.Info("Configuration:")
		log.Info(fmt.Sprintf("  Config file:     %s", pathStatus(config.DefaultConfigPath())))
		log.Info(fmt.Sprintf("  Data directory:  %s", pathStatus(config.DefaultDataDir())))
		log.Info(fmt.Sprintf("  Cache directory: %s", pathStatus(config.DefaultCacheDir())))

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return nil
		}
		log.Info("  Database:        " + describeStore(cfg.Store))

		log.Info("")
		log.Info("Credentials:")
		prefix := appid.EnvPrefix(GetAppIdentity())
		for _, name := range []string{"TENANT_ID", "CLIENT_ID", "CLIENT_SECRET", "ACCESS_TOKEN"} {
			log.Info(fmt.Sprintf("  %s%s: %s", prefix, name, envStatus(prefix+name)))
		}

		log.Info("")
		log.Info("Effective Settings:")
		for _, line := range effectiveSettings(cfg) {
			log.Info("  " + line)
		}
		return nil
	},
}

func effectiveSettings(cfg *config.Config) []string {
	return []string{
		"graph.base_url: " + cfg.Graph.BaseURL,
		"graph.groups_base_url: " + cfg.Graph.GroupsBaseURL,
		"graph.timeout: " + cfg.Graph.Timeout.String(),
		"graph.credentials: " + credentialMode(cfg.Graph.Credentials),
		fmt.Sprintf("retry: max_retries=%d max_auth_retries=%d", cfg.Retry.MaxRetries, cfg.Retry.MaxAuthRetries),
		fmt.Sprintf("pacing: initial=%s min=%s max=%s growth=%.2f decay=%.2f",
			cfg.Pacing.Initial, cfg.Pacing.Min, cfg.Pacing.Max, cfg.Pacing.Growth, cfg.Pacing.Decay),
		fmt.Sprintf("rate_limit_margin: %.2f (%d overrides)", cfg.RateLimitMargin, len(cfg.RateLimits)),
		"store.operation_retention: " + cfg.Store.OperationRetention.String(),
	}
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the user config file and/or the local database",
	Long: `Remove the user config file (--config), the local database holding rate
limit state, snapshots and the operation log (--data), or both (--all).

Asks for confirmation unless --yes is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig, doctorResetData = true, true
		}
		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		var targets []string
		if doctorResetConfig {
			targets = append(targets, config.DefaultConfigPath())
		}
		if doctorResetData {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if strings.TrimSpace(cfg.Store.URL) != "" {
				return fmt.Errorf("remote store configured; database reset is not supported")
			}
			path, _ := filepath.Abs(localStorePath(cfg.Store))
			targets = append(targets, path)
		}

		if !doctorResetYes {
			ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), "Remove "+strings.Join(targets, " and ")+"?")
			if err != nil {
				return err
			}
			if !ok {
				observability.CLILogger.Info("Reset aborted")
				return nil
			}
		}

		for _, path := range targets {
			if err := removeIfExists(path); err != nil {
				return err
			}
		}
		return nil
	},
}

func removeIfExists(path string) error {
	if path == "" {
		return nil
	}
	switch err := os.Remove(path); {
	case err == nil:
		observability.CLILogger.Info("Removed", zap.String("path", path))
	case os.IsNotExist(err):
		observability.CLILogger.Info("Already removed", zap.String("path", path))
	default:
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if !fileExists(configPath) {
			return fmt.Errorf("config file not found: %s: %w", configPath, os.ErrNotExist)
		}
		if _, err := config.Load(cmd.Context()); err != nil {
			return err
		}
		observability.CLILogger.Info("Config is valid", zap.String("path", configPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd, doctorConfigCmd, doctorResetCmd, doctorValidateCmd)

	doctorCmd.Flags().BoolVar(&doctorConnect, "connect", false, "acquire a Graph access token as part of the checks")
	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local database")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
	doctorResetCmd.Flags().BoolVarP(&doctorResetYes, "yes", "y", false, "skip the confirmation prompt")
}

// credentialMode names the credential flow a config selects without
// revealing any secret.
func credentialMode(cfg graph.CredentialConfig) string {
	switch {
	case strings.TrimSpace(cfg.AccessToken) != "":
		return "static access token"
	case strings.TrimSpace(cfg.TenantID) != "" && strings.TrimSpace(cfg.ClientID) != "" && strings.TrimSpace(cfg.ClientSecret) != "":
		return fmt.Sprintf("client credentials (tenant %s, client %s)", cfg.TenantID, cfg.ClientID)
	default:
		return "not configured"
	}
}

func localStorePath(cfg config.StoreConfig) string {
	if cfg.Path != "" {
		return strings.TrimPrefix(cfg.Path, "file:")
	}
	return config.DefaultStorePath()
}

func describeStore(cfg config.StoreConfig) string {
	if cfg.URL != "" {
		return redactURL(cfg.URL) + " (remote)"
	}
	path, _ := filepath.Abs(localStorePath(cfg))
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return fmt.Sprintf("%s (%s)", path, formatFileSize(info.Size()))
	case os.IsNotExist(err):
		return path + " (not created yet)"
	default:
		return fmt.Sprintf("%s (error: %v)", path, err)
	}
}

// redactURL drops the query string, which may carry an authToken.
func redactURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i] + "?…"
	}
	return raw
}

func expiryLabel(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Local().Format(time.RFC3339)
}

func formatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d bytes", bytes)
	}
	value, suffix := float64(bytes)/unit, "KB"
	for _, next := range []string{"MB", "GB"} {
		if value < unit {
			break
		}
		value, suffix = value/unit, next
	}
	return fmt.Sprintf("%.1f %s", value, suffix)
}

// formatTimeAgo renders how long before now t was.
func formatTimeAgo(now, t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch d := now.Sub(t); {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "min")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func buildInitConfig(envPrefix string) string {
	lines := []string{
		"# intunectl config, created by 'intunectl doctor init'",
		"# Keep secrets in the environment: " + envPrefix + "CLIENT_SECRET or " + envPrefix + "ACCESS_TOKEN.",
		"graph:",
		"  tenant_id: \"\"",
		"  client_id: \"\"",
		"retry:",
		"  max_retries: 3",
		"  max_auth_retries: 1",
		"pacing:",
		"  initial: 100ms",
		"  max: 5s",
	}
	return strings.Join(lines, "\n") + "\n"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func pathStatus(path string) string {
	switch {
	case path == "":
		return "(not resolved)"
	case fileExists(path):
		return path + " (exists)"
	default:
		return path + " (missing)"
	}
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}
