package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/config"
	errwrap "github.com/intunectl/intunectl/internal/errors"
	"github.com/intunectl/intunectl/internal/graph"
	"github.com/intunectl/intunectl/internal/intune"
	"github.com/intunectl/intunectl/internal/observability"
)

// selfCheck fails the health command with a config-invalid exit code.
type selfCheck struct {
	name string
	run  func(ctx context.Context) error
}

var selfChecks = []selfCheck{
	{"version information", func(context.Context) error {
		if versionInfo.Version == "" {
			return errors.New("version information missing")
		}
		return nil
	}},
	{"configuration", func(ctx context.Context) error {
		_, err := config.Load(ctx)
		return err
	}},
	{"policy endpoints", func(context.Context) error {
		if len(intune.TypeNames()) == 0 {
			return errors.New("no policy types registered")
		}
		return nil
	}},
	{"pacer bounds", func(context.Context) error {
		cfg := config.GetConfig()
		if cfg == nil {
			return nil
		}
		p := graph.NewPacer(cfg.Pacing)
		if cur := p.Current(); cur < cfg.Pacing.Min || (cfg.Pacing.Max > 0 && cur > cfg.Pacing.Max) {
			return fmt.Errorf("initial delay %s outside %s - %s", cur, cfg.Pacing.Min, cfg.Pacing.Max)
		}
		return nil
	}},
}

// runSelfChecks stops at the first failing check.
func runSelfChecks(ctx context.Context, checks []selfCheck, passed func(name string)) (string, error) {
	for _, c := range checks {
		if err := c.run(ctx); err != nil {
			return c.name, err
		}
		passed(c.name)
	}
	return "", nil
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify the binary can start: version metadata, configuration, policy endpoint table and pacer bounds.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		if log == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("logger not initialized"))
			return
		}
		log.Info("Running health check...")

		failed, err := runSelfChecks(cmd.Context(), selfChecks, func(name string) {
			log.Info("✅ " + name)
		})
		if err != nil {
			log.Error("❌ FAIL: "+failed, zap.Error(err))
			ExitWithCode(log, foundry.ExitConfigInvalid, failed+" check failed", errwrap.NewConfigInvalidError(err.Error()))
			return
		}

		log.Info("")
		log.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
