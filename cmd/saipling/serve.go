package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TenVexAI/saipling/pkg/costs"
	"github.com/TenVexAI/saipling/pkg/logger"
	"github.com/TenVexAI/saipling/pkg/presenter"
	"github.com/TenVexAI/saipling/pkg/server"
	"github.com/TenVexAI/saipling/pkg/skills"
	"github.com/TenVexAI/saipling/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local HTTP API used by the editor",
	Long: `Start a local HTTP server exposing directive extraction and application,
draft normalization, rich-text conversion, metadata parsing, skills and cost
totals for the workspace. Listens on localhost:8765 by default.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		root, err := cfg.WorkspaceRoot()
		if err != nil {
			return err
		}
		dirs := skillDirs(root)
		registry := skills.Initialize(ctx, dirs, cfg.AllowedSkills)
		if watch, _ := cmd.Flags().GetBool("watch-skills"); watch {
			go func() {
				if err := skills.Watch(ctx, registry, dirs, cfg.AllowedSkills, skills.DefaultDebounce); err != nil {
					logger.G(ctx).WithError(err).Warn("skill reloading disabled")
				}
			}()
		}

		opts := server.Options{
			Config: server.Config{
				Host:           cfg.Server.Host,
				Port:           cfg.Server.Port,
				AllowedOrigins: cfg.Server.AllowedOrigins,
			},
			Store:   storage.New(root),
			Session: costs.NewSession(),
			Skills:  registry,
		}

		path, err := cfg.LedgerFile()
		if err != nil {
			return err
		}
		ledger, err := costs.OpenLedger(ctx, path)
		if err != nil {
			logger.G(ctx).WithError(err).Warn("cost ledger unavailable")
		} else {
			defer ledger.Close()
			opts.Ledger = ledger
		}

		srv, err := server.NewServer(opts)
		if err != nil {
			return err
		}
		logger.G(ctx).WithField("workspace", root).Info("starting API server")
		presenter.Info("Press Ctrl+C to stop the server")

		if err := srv.Start(ctx); err != nil {
			return err
		}
		presenter.Info("Server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("host", "", "Host to bind (default localhost)")
	serveCmd.Flags().Int("port", 0, "Port to bind (default 8765)")
	serveCmd.Flags().Bool("watch-skills", true, "Reload skills when their files change")
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
