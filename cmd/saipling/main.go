// Command saipling plans, generates and applies AI-assisted drafts for a
// book workspace.
package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TenVexAI/saipling/pkg/config"
	"github.com/TenVexAI/saipling/pkg/logger"
	"github.com/TenVexAI/saipling/pkg/presenter"
)

var (
	cfg        config.Config
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "saipling",
	Short: "AI drafting assistant for book workspaces",
	Long: `saipling plans a generation against your workspace, shows the context and
cost it will use, streams the draft once you confirm and writes it to disk.
It also extracts and applies edit directives from model replies and converts
between markdown and the editor's rich-text tree.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// setup loads configuration and initializes logging and tracing before any
// subcommand runs.
func setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	if err := config.Init(configFile); err != nil {
		return err
	}
	loaded, err := config.GetConfigFromViper()
	if err != nil {
		return err
	}
	cfg = loaded

	if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}
	logger.SetLogFormat(cfg.LogFormat)

	return initTracing(cmd.Context())
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default $HOME/.saipling/config.yaml or ./config.yaml)")
	flags.StringP("workspace", "w", "", "Workspace root (default current directory)")
	flags.String("model", "", "Model to generate with (overrides skill and config)")
	flags.Int("max-tokens", 0, "Maximum tokens for the generated draft")
	flags.String("profile", "", "Named configuration profile to apply")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text or json)")

	viper.BindPFlag("workspace", flags.Lookup("workspace"))
	viper.BindPFlag("model", flags.Lookup("model"))
	viper.BindPFlag("max_tokens", flags.Lookup("max-tokens"))
	viper.BindPFlag("profile", flags.Lookup("profile"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))

	rootCmd.AddCommand(
		withTracing(generateCmd),
		withTracing(directivesCmd),
		withTracing(normalizeCmd),
		withTracing(convertCmd),
		withTracing(frontmatterCmd),
		withTracing(usageCmd),
		withTracing(serveCmd),
		withTracing(skillsCmd),
		versionCmd,
	)
}

func main() {
	ctx := context.Background()
	err := rootCmd.ExecuteContext(ctx)
	if shutdownErr := shutdownTracing(ctx); shutdownErr != nil {
		logger.G(ctx).WithError(shutdownErr).Warn("failed to flush traces")
	}
	if err != nil {
		presenter.Error(err, "")
		os.Exit(1)
	}
}
