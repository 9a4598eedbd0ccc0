// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/invoke-ai/invokeai/envconfig"
	"github.com/invoke-ai/invokeai/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "invokeai",
		Short:         "InvokeAI model and image tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
			slog.Debug("invokeai config", "env", envconfig.Values())
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	nameCmd := newNameCmd()
	imageCmd := newImageCmd()
	loraCmd := newLoraCmd()
	modelCmd := newModelCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	for _, cmd := range []*cobra.Command{nameCmd, imageCmd, loraCmd, modelCmd} {
		switch cmd {
		case imageCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["INVOKEAI_DEBUG"], envVars["INVOKEAI_API_BASE"]})
		case loraCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["INVOKEAI_DEBUG"], envVars["INVOKEAI_DEVICE"], envVars["INVOKEAI_PRECISION"]})
		case modelCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["INVOKEAI_DEBUG"],
				envVars["INVOKEAI_ROOT"],
				envVars["INVOKEAI_MODELS"],
				envVars["INVOKEAI_PRECISION"],
				envVars["INVOKEAI_LOAD_WORKERS"],
			})
		default:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["INVOKEAI_DEBUG"]})
		}
	}

	rootCmd.AddCommand(nameCmd, imageCmd, loraCmd, modelCmd)

	return rootCmd
}
