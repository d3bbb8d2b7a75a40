package main

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/TenVexAI/saipling/pkg/costs"
	"github.com/TenVexAI/saipling/pkg/presenter"
)

// UsageConfig holds the usage command flags.
type UsageConfig struct {
	Since  string
	Until  string
	Format string
}

// NewUsageConfig returns the defaults: the past 30 days as a table.
func NewUsageConfig() *UsageConfig {
	return &UsageConfig{Since: "30d", Format: "table"}
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show generation costs recorded in the project ledger",
	Long: `Show token usage and cost of past generations, broken down by day and model.

Examples:
  saipling usage                               # Past 30 days
  saipling usage --since 2026-09-01            # Since a date
  saipling usage --since 1w --format json      # Past week as JSON`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := NewUsageConfig()
		config.Since, _ = cmd.Flags().GetString("since")
		config.Until, _ = cmd.Flags().GetString("until")
		config.Format, _ = cmd.Flags().GetString("format")

		path, err := cfg.LedgerFile()
		if err != nil {
			return err
		}
		ledger, err := costs.OpenLedger(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer ledger.Close()
		return runUsage(cmd.Context(), cmd.OutOrStdout(), ledger, config, time.Now)
	},
}

func init() {
	defaults := NewUsageConfig()
	usageCmd.Flags().String("since", defaults.Since, "Show usage since this time (e.g. 2026-09-01, 1d, 1w)")
	usageCmd.Flags().String("until", defaults.Until, "Show usage until this time (e.g. 2026-09-30)")
	usageCmd.Flags().String("format", defaults.Format, "Output format: table or json")
}

var relativeTimeSpec = regexp.MustCompile(`^(\d+)([dhw])$`)

// parseTimeSpec parses "2026-09-01", "12h", "3d" or "2w" relative to now.
func parseTimeSpec(spec string, now func() time.Time) (time.Time, error) {
	if spec == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", spec); err == nil {
		return t, nil
	}

	matches := relativeTimeSpec.FindStringSubmatch(spec)
	if matches == nil {
		return time.Time{}, errors.Errorf("invalid time specification: %s (expected YYYY-MM-DD, 1h, 1d or 1w)", spec)
	}
	amount, err := strconv.Atoi(matches[1])
	if err != nil {
		return time.Time{}, errors.Errorf("invalid number in time specification: %s", matches[1])
	}

	current := now()
	switch matches[2] {
	case "h":
		return current.Add(-time.Duration(amount) * time.Hour), nil
	case "w":
		return current.AddDate(0, 0, -amount*7), nil
	default:
		return current.AddDate(0, 0, -amount), nil
	}
}

// DailyUsage aggregates one day of generations.
type DailyUsage struct {
	Date         string  `json:"date"`
	Generations  int     `json:"generations"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// UsageReport is the usage command output.
type UsageReport struct {
	Daily  []DailyUsage         `json:"daily"`
	Models []costs.ModelSummary `json:"models"`
	Total  DailyUsage           `json:"total"`
}

// aggregateUsage groups entries per UTC day, newest first, and per model.
func aggregateUsage(entries []costs.Entry) *UsageReport {
	days := make(map[string]*DailyUsage)
	models := make(map[string]*costs.ModelSummary)
	report := &UsageReport{Total: DailyUsage{Date: "TOTAL"}}

	for _, e := range entries {
		key := e.CreatedAt.UTC().Format("2006-01-02")
		day, ok := days[key]
		if !ok {
			day = &DailyUsage{Date: key}
			days[key] = day
		}
		model, ok := models[e.Model]
		if !ok {
			model = &costs.ModelSummary{Model: e.Model}
			models[e.Model] = model
		}

		for _, u := range []*DailyUsage{day, &report.Total} {
			u.Generations++
			u.InputTokens += e.InputTokens
			u.OutputTokens += e.OutputTokens
			u.Cost += e.Cost
		}
		model.Generations++
		model.InputTokens += e.InputTokens
		model.OutputTokens += e.OutputTokens
		model.Cost += e.Cost
	}

	report.Daily = make([]DailyUsage, 0, len(days))
	for _, day := range days {
		report.Daily = append(report.Daily, *day)
	}
	sort.Slice(report.Daily, func(i, j int) bool { return report.Daily[i].Date > report.Daily[j].Date })

	report.Models = make([]costs.ModelSummary, 0, len(models))
	for _, model := range models {
		report.Models = append(report.Models, *model)
	}
	sort.Slice(report.Models, func(i, j int) bool {
		if report.Models[i].Cost != report.Models[j].Cost {
			return report.Models[i].Cost > report.Models[j].Cost
		}
		return report.Models[i].Model < report.Models[j].Model
	})
	return report
}

// entrySource is the part of the ledger the usage command reads.
type entrySource interface {
	Between(ctx context.Context, since, until time.Time) ([]costs.Entry, error)
}

func runUsage(ctx context.Context, w io.Writer, ledger entrySource, config *UsageConfig, now func() time.Time) error {
	since, err := parseTimeSpec(config.Since, now)
	if err != nil {
		return err
	}
	since = since.Truncate(24 * time.Hour)

	until, err := parseTimeSpec(config.Until, now)
	if err != nil {
		return err
	}
	if !until.IsZero() {
		until = until.Truncate(24 * time.Hour).Add(24*time.Hour - time.Nanosecond)
	}

	entries, err := ledger.Between(ctx, since, until)
	if err != nil {
		return err
	}
	report := aggregateUsage(entries)

	if config.Format == "json" {
		return writeJSON(w, report)
	}
	if len(entries) == 0 {
		presenter.Info("No generations recorded in the specified time range.")
		return nil
	}
	displayUsageTable(w, report)
	return nil
}

func displayUsageTable(w io.Writer, report *UsageReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Date\tGenerations\tInput Tokens\tOutput Tokens\tCost")
	fmt.Fprintln(tw, "----\t-----------\t------------\t-------------\t----")
	for _, day := range report.Daily {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", day.Date, day.Generations, day.InputTokens, day.OutputTokens, costs.FormatUSD(day.Cost))
	}
	fmt.Fprintln(tw, "----\t-----------\t------------\t-------------\t----")
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%s\n", report.Total.Generations, report.Total.InputTokens, report.Total.OutputTokens, costs.FormatUSD(report.Total.Cost))
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "Model\tGenerations\tInput Tokens\tOutput Tokens\tCost")
	for _, model := range report.Models {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", model.Model, model.Generations, model.InputTokens, model.OutputTokens, costs.FormatUSD(model.Cost))
	}
	tw.Flush()
}
