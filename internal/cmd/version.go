package cmd

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/intunectl/intunectl/internal/appid"
	"github.com/intunectl/intunectl/internal/intune"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. --extended adds the commit, toolchain, Gofulmen/Crucible versions and supported policy types.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeVersion(cmd.OutOrStdout(), extended)
	},
}

func writeVersion(w io.Writer, full bool) error {
	_, binaryName := appid.Names(GetAppIdentity())
	lines := []string{binaryName + " " + versionInfo.Version}
	if full {
		v := crucible.GetVersion()
		lines = append(lines,
			"Commit: "+versionInfo.Commit,
			"Built: "+versionInfo.BuildDate,
			"Go: "+runtime.Version(),
			"",
			"Gofulmen: "+v.Gofulmen,
			"Crucible: "+v.Crucible,
			"",
			"Policy types: "+strings.Join(intune.TypeNames(), ", "),
		)
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
