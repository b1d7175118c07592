// Package appid resolves the intunectl app identity. An external
// .fulmen/app.yaml, or the path in FULMEN_APP_IDENTITY_PATH, wins over the
// copy embedded in the binary.
package appid

import (
	"context"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/intunectl/intunectl/internal/assets/appidentity"
)

const (
	fallbackName   = "intunectl"
	fallbackPrefix = "INTUNECTL_"
)

func init() {
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// EnvPrefix returns the identity's variable prefix ending in "_".
func EnvPrefix(identity *appidentity.Identity) string {
	prefix := fallbackPrefix
	if identity != nil && strings.TrimSpace(identity.EnvPrefix) != "" {
		prefix = strings.TrimSpace(identity.EnvPrefix)
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// ViperPrefix is EnvPrefix without the separator, which viper adds itself.
func ViperPrefix(identity *appidentity.Identity) string {
	return strings.TrimSuffix(EnvPrefix(identity), "_")
}

// Names returns the config directory name and binary name, each falling
// back to intunectl.
func Names(identity *appidentity.Identity) (configName, binaryName string) {
	configName, binaryName = fallbackName, fallbackName
	if identity == nil {
		return configName, binaryName
	}
	if name := strings.TrimSpace(identity.ConfigName); name != "" {
		configName = name
	}
	if name := strings.TrimSpace(identity.BinaryName); name != "" {
		binaryName = name
	}
	return configName, binaryName
}
