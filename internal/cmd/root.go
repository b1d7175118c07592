package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/appid"
	"github.com/intunectl/intunectl/internal/observability"
)

var (
	cfgFile string
	verbose bool

	appIdentity *appidentity.Identity

	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo records build metadata injected by main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the identity applied at startup, or nil.
func GetAppIdentity() *appidentity.Identity {
	return appIdentity
}

// rootCmd is renamed from the app identity by applyIdentity.
var rootCmd = &cobra.Command{
	Use:   filepath.Base(os.Args[0]),
	Short: "Bulk Microsoft Intune policy management",
	Long: `Manage Microsoft Intune policies through Microsoft Graph.

Use the subcommands to perform specific operations.`,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Config loading must not emit metrics to stdout; serve installs a real
	// telemetry system later.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	// Help text needs the identity before cobra handles --help.
	if identity, err := appid.Get(context.Background()); err == nil {
		applyIdentity(identity)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; defaults to app identity config path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// applyIdentity records identity and renames the CLI surfaces after it.
func applyIdentity(identity *appidentity.Identity) {
	if identity == nil {
		return
	}
	appIdentity = identity
	if identity.BinaryName != "" {
		rootCmd.Use = identity.BinaryName
	}
	if identity.Description != "" {
		rootCmd.Short = identity.Description
		rootCmd.Long = fmt.Sprintf("%s - %s\n\nUse the subcommands to perform specific operations.", identity.BinaryName, identity.Description)
	}
	if f := rootCmd.PersistentFlags().Lookup("config"); f != nil && identity.ConfigName != "" {
		f.Usage = fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", identity.ConfigName)
	}
}

// initConfig prepares viper for serve, which reads listener settings and
// supports SIGHUP reloads. Commands that talk to Graph use config.Load.
func initConfig() {
	identity, err := appid.Get(context.Background())
	if err != nil {
		ExitWithCodeStderr(foundry.ExitFileNotFound, "Failed to load app identity", err)
	}
	applyIdentity(identity)
	_, binaryName := appid.Names(appIdentity)
	observability.InitCLILogger(binaryName, verbose)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		addConfigSearchPaths()
	}

	viper.SetEnvPrefix(appid.ViperPrefix(appIdentity))
	viper.AutomaticEnv()

	switch err := viper.ReadInConfig(); {
	case err == nil:
		observability.CLILogger.Debug("Using config file", zap.String("path", viper.ConfigFileUsed()))
	case isConfigNotFound(err):
		observability.CLILogger.Debug("No config file found, using defaults and environment variables")
	default:
		observability.CLILogger.Warn("Error reading config file", zap.Error(err))
	}

	setDefaults()
}

// configSearch lists the directories viper searches and the config base
// name. The XDG directory comes first, then the binary-named legacy
// directory, then ./config.
func configSearch(identity *appidentity.Identity, home string) (dirs []string, name string) {
	configName, binaryName := appid.Names(identity)
	dir := gfconfig.GetAppConfigDir(configName)
	if dir == "" {
		return []string{home, "./config"}, "." + configName
	}
	dirs = []string{dir}
	if binaryName != configName {
		if legacy := gfconfig.GetAppConfigDir(binaryName); legacy != "" {
			dirs = append(dirs, legacy)
		}
	}
	return append(dirs, "./config"), "config"
}

func addConfigSearchPaths() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dirs, name := configSearch(appIdentity, home)
	if name != "config" {
		observability.CLILogger.Warn("Could not resolve XDG config directory, falling back to home directory",
			zap.String("home", home))
	}
	for _, dir := range dirs {
		viper.AddConfigPath(dir)
	}
	viper.SetConfigName(name)
	viper.SetConfigType("yaml")
}

func isConfigNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound)
}

// serveDefaults are the keys serve reads through viper. They mirror
// config/intunectl/v0/intunectl-defaults.yaml.
var serveDefaults = map[string]any{
	"server.host":             "localhost",
	"server.port":             8080,
	"server.read_timeout":     "30s",
	"server.write_timeout":    "30s",
	"server.idle_timeout":     "120s",
	"server.shutdown_timeout": "10s",
	"logging.level":           "info",
	"metrics.enabled":         true,
	"metrics.port":            9090,
}

func setDefaults() {
	for key, value := range serveDefaults {
		viper.SetDefault(key, value)
	}
}
