package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/appid"
	"github.com/intunectl/intunectl/internal/config"
	"github.com/intunectl/intunectl/internal/observability"
)

type infoField struct {
	label string
	key   string
	value string
}

type infoSection struct {
	title  string
	fields []infoField
}

func field(label, key string, value any) infoField {
	return infoField{label: label, key: key, value: fmt.Sprint(value)}
}

// buildInfoSections renders what envinfo prints. cfg may be nil when the
// config failed to load; only build and runtime sections are returned then.
func buildInfoSections(cfg *config.Config, lookupEnv func(string) (string, bool)) []infoSection {
	_, binaryName := appid.Names(GetAppIdentity())
	v := crucible.GetVersion()

	sections := []infoSection{
		{"Application", []infoField{
			field("Name", "binary", binaryName),
			field("Version", "version", versionInfo.Version),
			field("Commit", "commit", versionInfo.Commit),
			field("Built", "build_date", versionInfo.BuildDate),
		}},
		{"SSOT", []infoField{
			field("Gofulmen", "gofulmen_version", v.Gofulmen),
			field("Crucible", "crucible_version", v.Crucible),
		}},
		{"Runtime", []infoField{
			field("Go Version", "go_version", runtime.Version()),
			field("Platform", "platform", runtime.GOOS+"/"+runtime.GOARCH),
			field("NumCPU", "num_cpu", runtime.NumCPU()),
		}},
	}
	if cfg == nil {
		return sections
	}

	storeLabel, storeValue := "DB Path", cfg.Store.Path
	if strings.TrimSpace(cfg.Store.URL) != "" {
		storeLabel, storeValue = "DB URL", redactURL(cfg.Store.URL)
	}
	executor := []infoField{
		field("Max Retries", "max_retries", cfg.Retry.MaxRetries),
		field("Max Auth Retries", "max_auth_retries", cfg.Retry.MaxAuthRetries),
		field("Pacing Initial", "pacing_initial", cfg.Pacing.Initial),
		field("Pacing Range", "pacing_range", fmt.Sprintf("%s - %s", cfg.Pacing.Min, cfg.Pacing.Max)),
		field("Pacing Growth/Decay", "pacing_factors", fmt.Sprintf("x%.2f / x%.2f", cfg.Pacing.Growth, cfg.Pacing.Decay)),
		field("Rate Margin", "rate_limit_margin", fmt.Sprintf("%.2f", cfg.RateLimitMargin)),
	}
	if len(cfg.RateLimits) > 0 {
		executor = append(executor, field("Rate Limits", "rate_limits", cfg.RateLimits))
	}

	var env []infoField
	for _, name := range config.EnvVarNames() {
		state := "unset"
		if _, ok := lookupEnv(name); ok {
			state = "set"
		}
		env = append(env, field(name, name, state))
	}

	return append(sections,
		infoSection{"Configuration", []infoField{
			field("Config File", "config_file", config.DefaultConfigPath()),
			field("Server", "listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
			field("Log Level", "log_level", cfg.Logging.Level),
			field("Log Profile", "log_profile", cfg.Logging.Profile),
			field("DB Driver", "db_driver", cfg.Store.Driver),
			field(storeLabel, "db_location", storeValue),
			field("Metrics", "metrics", metricsLabel(cfg.Metrics)),
		}},
		infoSection{"Graph", []infoField{
			field("Base URL", "graph_base_url", cfg.Graph.BaseURL),
			field("Groups URL", "graph_groups_base_url", cfg.Graph.GroupsBaseURL),
			field("Timeout", "graph_timeout", cfg.Graph.Timeout),
			field("Credentials", "credentials", credentialMode(cfg.Graph.Credentials)),
			field("Scopes", "scopes", strings.Join(cfg.Graph.Credentials.Scopes, " ")),
		}},
		infoSection{"Executor", executor},
		infoSection{"Environment Variables", env},
	)
}

func metricsLabel(m config.MetricsConfig) string {
	if !m.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("enabled on :%d", m.Port)
}

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long: `Display build, runtime and effective configuration details.

Environment variables are reported as set or unset; their values are never
printed.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		_, binaryName := appid.Names(GetAppIdentity())

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			cfg = nil
		}

		log.Info("=== " + binaryName + " Environment Information ===")
		log.Info("")
		for _, section := range buildInfoSections(cfg, os.LookupEnv) {
			log.Info(section.title + ":")
			width := 0
			for _, f := range section.fields {
				width = max(width, len(f.label))
			}
			for _, f := range section.fields {
				log.Info(fmt.Sprintf("  %-*s  %s", width+1, f.label+":", f.value), zap.String(f.key, f.value))
			}
			log.Info("")
		}
		log.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
