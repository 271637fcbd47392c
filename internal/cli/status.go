package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"marketfeed/internal/core/config"
	"marketfeed/internal/core/domain"
	"marketfeed/internal/health"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current health of all configured sources",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	url := fmt.Sprintf("http://localhost:%d/health/detailed", cfg.Server.Port)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		slog.Error("Failed to reach feed", "url", url, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		slog.Error("Failed to decode health report", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Overall: %s (generated %s)\n\n",
		report.Overall, report.GeneratedAt.Format(time.RFC3339))

	ids := make([]string, 0, len(report.Sources))
	for id := range report.Sources {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SOURCE\tSTATUS\tAVAILABILITY\tAVG LATENCY\tCIRCUIT\tSLA")
	for _, id := range ids {
		sr := report.Sources[domain.SourceID(id)]
		sla := "ok"
		if !sr.SLA.Compliant {
			sla = fmt.Sprintf("violated %v", sr.SLA.Violations)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%s\t%s\t%s\n",
			id, sr.Status, sr.Aggregates.Availability,
			sr.Aggregates.AvgLatency, sr.Circuit.State, sla)
	}
	_ = w.Flush()

	if len(report.Alerts) > 0 {
		fmt.Printf("\n%d alert(s) in the last hour\n", len(report.Alerts))
	}
}
