// Package config loads intunectl settings from three layers with
// gofulmen/config:
//
//  1. defaults in config/intunectl/v0/intunectl-defaults.yaml
//  2. the user's config.yaml, found through the app identity
//  3. INTUNECTL_* environment variables, then runtime overrides
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/pathfinder"
	"github.com/fulmenhq/gofulmen/schema"
	"github.com/go-viper/mapstructure/v2"

	"github.com/intunectl/intunectl/internal/appid"
)

var (
	configMu    sync.RWMutex
	appConfig   *Config
	appIdentity *appidentity.Identity
)

// EnvVarSpec maps one environment variable onto a config path.
type EnvVarSpec = gfconfig.EnvVarSpec

const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Bindings name variables by suffix; getEnvSpecs adds the prefix.
func str(suffix, path string) EnvVarSpec {
	return EnvVarSpec{Name: suffix, Path: strings.Split(path, "."), Type: EnvString}
}

func num(suffix, path string) EnvVarSpec {
	return EnvVarSpec{Name: suffix, Path: strings.Split(path, "."), Type: EnvInt}
}

func flag(suffix, path string) EnvVarSpec {
	return EnvVarSpec{Name: suffix, Path: strings.Split(path, "."), Type: EnvBool}
}

// Durations travel as strings and are converted by the decode hook.
var envBindings = []EnvVarSpec{
	str("GRAPH_BASE_URL", "graph.base_url"),
	str("GRAPH_GROUPS_BASE_URL", "graph.groups_base_url"),
	str("GRAPH_TIMEOUT", "graph.timeout"),
	str("GRAPH_SCOPES", "graph.scopes"),
	str("AUTHORITY_URL", "graph.authority_url"),
	str("TENANT_ID", "graph.tenant_id"),
	str("CLIENT_ID", "graph.client_id"),
	str("CLIENT_SECRET", "graph.client_secret"),
	str("ACCESS_TOKEN", "graph.access_token"),

	num("MAX_RETRIES", "retry.max_retries"),
	num("MAX_AUTH_RETRIES", "retry.max_auth_retries"),
	str("PACING_INITIAL", "pacing.initial"),
	str("PACING_MIN", "pacing.min"),
	str("PACING_MAX", "pacing.max"),

	str("DB_DRIVER", "store.driver"),
	str("DB_PATH", "store.path"),
	str("DB_URL", "store.url"),
	str("DB_AUTH_TOKEN", "store.auth_token"),
	str("OPERATION_RETENTION", "store.operation_retention"),

	str("HOST", "server.host"),
	num("PORT", "server.port"),
	str("READ_TIMEOUT", "server.read_timeout"),
	str("WRITE_TIMEOUT", "server.write_timeout"),
	str("IDLE_TIMEOUT", "server.idle_timeout"),
	str("SHUTDOWN_TIMEOUT", "server.shutdown_timeout"),

	str("LOG_LEVEL", "logging.level"),
	str("LOG_PROFILE", "logging.profile"),
	flag("METRICS_ENABLED", "metrics.enabled"),
	num("METRICS_PORT", "metrics.port"),
}

// floatBindings cover settings EnvVarSpec has no type for.
var floatBindings = map[string]string{
	"PACING_GROWTH":     "pacing.growth",
	"PACING_DECAY":      "pacing.decay",
	"RATE_LIMIT_MARGIN": "rate_limit_margin",
}

// Load resolves all layers, validates the result and makes it the current
// config. It is safe to call again on reload.
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if err := ensureIdentity(ctx); err != nil {
		return nil, err
	}

	root, err := findProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}

	envOverrides, err := environmentLayer()
	if err != nil {
		return nil, err
	}

	merged, diagnostics, err := gfconfig.LoadLayeredConfig(layeredOptions(root), append([]map[string]any{envOverrides}, runtimeOverrides...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load layered config: %w", err)
	}
	// Schema diagnostics are advisory; Validate enforces what the executor needs.
	for _, diag := range diagnostics {
		fmt.Fprintf(os.Stderr, "Config validation: %s: %s\n", diag.Pointer, diag.Message)
	}

	cfg, err := decode(merged)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

func ensureIdentity(ctx context.Context) error {
	configMu.RLock()
	loaded := appIdentity != nil
	configMu.RUnlock()
	if loaded {
		return nil
	}

	identity, err := appid.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load app identity: %w", err)
	}
	configMu.Lock()
	appIdentity = identity
	configMu.Unlock()
	return nil
}

func layeredOptions(root string) gfconfig.LayeredConfigOptions {
	return gfconfig.LayeredConfigOptions{
		Category:     "intunectl",
		Version:      "v0",
		DefaultsFile: "intunectl-defaults.yaml",
		SchemaID:     "intunectl/v0/config",
		UserPaths:    getUserConfigPaths(),
		Catalog:      schema.NewCatalog(filepath.Join(root, "schemas")),
		DefaultsRoot: filepath.Join(root, "config"),
	}
}

func environmentLayer() (map[string]any, error) {
	overrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if overrides == nil {
		overrides = map[string]any{}
	}
	if err := applyFloatEnvOverrides(envPrefix(), overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}

func decode(merged map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// findProjectRoot locates the directory holding config/ and schemas/. In CI
// a workspace variable bounds the search when the checkout sits outside $HOME.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	markers := []string{"go.mod", ".git"}

	if runningInCI() {
		for _, boundary := range ciBoundaries(cwd) {
			root, err := pathfinder.FindRepositoryRoot(cwd, markers,
				pathfinder.WithBoundary(boundary),
				pathfinder.WithMaxDepth(20),
			)
			if err == nil {
				return root, nil
			}
		}
	}

	root, err := pathfinder.FindRepositoryRoot(cwd, markers, pathfinder.WithMaxDepth(10))
	if err != nil {
		return "", fmt.Errorf("project root not found: %w", err)
	}
	return root, nil
}

func runningInCI() bool {
	for _, key := range []string{"GITHUB_ACTIONS", "CI"} {
		if strings.EqualFold(strings.TrimSpace(os.Getenv(key)), "true") {
			return true
		}
	}
	return false
}

// ciBoundaries returns absolute workspace directories that contain cwd.
func ciBoundaries(cwd string) []string {
	var out []string
	for _, key := range []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"} {
		dir := strings.TrimSpace(os.Getenv(key))
		if dir == "" {
			continue
		}
		dir = filepath.Clean(dir)
		if !filepath.IsAbs(dir) {
			continue
		}
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			continue
		}
		if rel, err := filepath.Rel(dir, cwd); err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		out = append(out, dir)
	}
	return out
}

// GetConfig returns the most recently loaded config, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func currentIdentity() *appidentity.Identity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

func envPrefix() string {
	return appid.EnvPrefix(currentIdentity())
}

func getEnvSpecs() []EnvVarSpec {
	prefix := envPrefix()
	specs := make([]EnvVarSpec, 0, len(envBindings))
	for _, b := range envBindings {
		b.Name = prefix + b.Name
		specs = append(specs, b)
	}
	return specs
}

// EnvVarNames lists every environment variable Load reads, sorted.
func EnvVarNames() []string {
	prefix := envPrefix()
	names := make([]string, 0, len(envBindings)+len(floatBindings))
	for _, b := range envBindings {
		names = append(names, prefix+b.Name)
	}
	for suffix := range floatBindings {
		names = append(names, prefix+suffix)
	}
	sort.Strings(names)
	return names
}

func applyFloatEnvOverrides(prefix string, overrides map[string]any) error {
	for suffix, path := range floatBindings {
		raw := strings.TrimSpace(os.Getenv(prefix + suffix))
		if raw == "" {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", prefix, suffix, err)
		}
		setPath(overrides, strings.Split(path, "."), value)
	}
	return nil
}

func setPath(root map[string]any, path []string, value any) {
	node := root
	for _, key := range path[:len(path)-1] {
		next, ok := node[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[key] = next
		}
		node = next
	}
	node[path[len(path)-1]] = value
}

func appNames() (configName, binaryName string) {
	return appid.Names(currentIdentity())
}

func getUserConfigPaths() []string {
	if currentIdentity() == nil {
		return nil
	}
	configName, binaryName := appNames()
	var legacy []string
	if binaryName != configName {
		legacy = append(legacy, binaryName)
	}
	return gfconfig.GetAppConfigPaths(configName, legacy...)
}

// DefaultConfigPath is the user-layer config.yaml.
func DefaultConfigPath() string {
	configName, _ := appNames()
	dir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

func DefaultDataDir() string {
	configName, _ := appNames()
	return gfconfig.GetAppDataDir(configName)
}

func DefaultCacheDir() string {
	configName, _ := appNames()
	return gfconfig.GetAppCacheDir(configName)
}

// DefaultStorePath is the local libsql file used when no store is configured.
func DefaultStorePath() string {
	configName, binaryName := appNames()
	dir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dir, binaryName+".db")
}
