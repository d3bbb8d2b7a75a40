package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TenVexAI/saipling/pkg/telemetry"
	"github.com/TenVexAI/saipling/pkg/version"
)

var (
	tracer                             = telemetry.Tracer("saipling.cli")
	shutdownTracing telemetry.Shutdown = func(context.Context) error { return nil }
)

func initTracing(ctx context.Context) error {
	tracing := cfg.Tracing
	tracing.ServiceVersion = version.Get().Version

	shutdown, err := telemetry.InitTracer(ctx, tracing)
	if err != nil {
		return err
	}
	shutdownTracing = shutdown
	return nil
}

// sensitiveFlags are never recorded as span attributes.
var sensitiveFlags = map[string]bool{"api-key": true, "token": true, "key": true}

// withTracing runs cmd inside a "cli.command" span.
func withTracing(cmd *cobra.Command) *cobra.Command {
	originalRun := cmd.RunE

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		attrs := []attribute.KeyValue{
			attribute.String("command.name", cmd.Name()),
			attribute.String("command.path", cmd.CommandPath()),
			attribute.Int("args.count", len(args)),
		}
		cmd.Flags().Visit(func(flag *pflag.Flag) {
			if !sensitiveFlags[flag.Name] {
				attrs = append(attrs, attribute.String("flag."+flag.Name, flag.Value.String()))
			}
		})

		ctx, span := tracer.Start(cmd.Context(), "cli.command", trace.WithAttributes(attrs...))
		defer span.End()
		cmd.SetContext(ctx)

		if err := originalRun(cmd, args); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
	return cmd
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Bool("tracing-enabled", false, "Enable OpenTelemetry tracing")
	flags.String("tracing-sampler", "ratio", "Tracing sampler type (always, never, ratio)")
	flags.Float64("tracing-ratio", 1, "Sampling ratio when using the ratio sampler")

	viper.BindPFlag("tracing.enabled", flags.Lookup("tracing-enabled"))
	viper.BindPFlag("tracing.sampler", flags.Lookup("tracing-sampler"))
	viper.BindPFlag("tracing.ratio", flags.Lookup("tracing-ratio"))
}
