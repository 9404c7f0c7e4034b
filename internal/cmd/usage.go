package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccswap/ccswap/internal/credentials"
	"github.com/ccswap/ccswap/internal/registry"
	"github.com/ccswap/ccswap/internal/swap"
	"github.com/ccswap/ccswap/internal/usage"
)

var usageJSON bool

var usageCmd = &cobra.Command{
	Use:     "usage",
	Short:   "Show per-account quota utilization",
	GroupID: GroupAccounts,
	Args:    cobra.NoArgs,
	RunE:    runUsage,
}

func init() {
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	reg, err := registry.Open()
	if err != nil {
		return err
	}
	if _, err := reg.EnsureDefault(); err != nil {
		return err
	}
	accounts, err := reg.List()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no accounts registered")
		return nil
	}

	store := credentials.NewStore()
	results := usage.NewClient().CheckAll(ctx, swap.Candidates(ctx, store, accounts))

	if usageJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(usageReport(results))
	}

	fmt.Fprint(cmd.OutOrStdout(), renderUsageTable(results, time.Local))
	return nil
}

// usageRow is the externally visible shape of one account's usage.
// Tokens never leave the process.
type usageRow struct {
	Name     string `json:"name"`
	Priority int    `json:"priority,omitempty"`
	FiveHour int    `json:"five_hour_pct"`
	SevenDay int    `json:"seven_day_pct"`
	ResetsAt string `json:"resets_at,omitempty"`
	Error    string `json:"error,omitempty"`
}

func usageReport(results []usage.Result) []usageRow {
	rows := make([]usageRow, 0, len(results))
	for _, r := range results {
		row := usageRow{Name: r.Name, Priority: r.Priority, Error: r.Usage.Error}
		if r.Usage.Error == "" {
			row.FiveHour = r.Usage.FiveHour.Percent()
			row.SevenDay = r.Usage.SevenDay.Percent()
			if t, ok := r.Usage.EarliestReset(); ok {
				row.ResetsAt = t.Format(time.RFC3339)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// renderUsageTable renders the human-readable table. Reset times show
// in the given zone so tests can pin UTC.
func renderUsageTable(results []usage.Result, zone *time.Location) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSESSION\tWEEK\tRESETS\tSTATUS")
	for _, r := range results {
		if r.Usage.Error != "" {
			fmt.Fprintf(w, "%s\t-\t-\t-\t%s\n", r.Name, r.Usage.Error)
			continue
		}
		resets := "-"
		if t, ok := r.Usage.EarliestReset(); ok {
			resets = t.In(zone).Format("Jan 2 15:04")
		}
		fmt.Fprintf(w, "%s\t%d%%\t%d%%\t%s\tok\n",
			r.Name, r.Usage.FiveHour.Percent(), r.Usage.SevenDay.Percent(), resets)
	}
	w.Flush()
	return b.String()
}
