// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/pdiddy/scholar-gateway/internal/health"
	"github.com/pdiddy/scholar-gateway/internal/ratelimit"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect per-source rate limiters and mirror health",
}

// --- status subcommand ---

var sourcesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every source's rate-limit state and mirror health",
	Long: `Status reports each source's token bucket (available tokens, capacity,
contracted rate, queued callers) and, for multi-mirror sources, the health
and latency of every mirror from the most recent probe round.`,
	RunE: runSourcesStatus,
}

func runSourcesStatus(cmd *cobra.Command, args []string) error {
	reg, _, logger, err := newRegistry(cmd)
	if err != nil {
		return err
	}
	defer reg.Close()
	defer logger.Sync()

	limiters := reg.LimiterStatus()
	mirrors := reg.MirrorStatus()

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Limiters map[string]ratelimit.Status      `json:"limiters"`
			Mirrors  map[string][]health.MirrorStatus `json:"mirrors"`
		}{limiters, mirrors})
	}

	names := make([]string, 0, len(limiters))
	for name := range limiters {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(os.Stdout, "%-18s  %-8s  %-8s  %-10s  %s\n",
		"Source", "Tokens", "Burst", "Rate", "Queued")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 60))
	for _, name := range names {
		st := limiters[name]
		fmt.Fprintf(os.Stdout, "%-18s  %-8d  %-8d  %-10.3f  %d\n",
			name, st.AvailableTokens, st.MaxTokens, st.RequestsPerSecond, st.PendingRequests)
	}

	if len(mirrors) > 0 {
		mirrorNames := make([]string, 0, len(mirrors))
		for name := range mirrors {
			mirrorNames = append(mirrorNames, name)
		}
		sort.Strings(mirrorNames)

		fmt.Fprintf(os.Stdout, "\n%-18s  %-40s  %-8s  %s\n",
			"Source", "Mirror", "Status", "Latency")
		fmt.Fprintln(os.Stdout, strings.Repeat("-", 80))
		for _, name := range mirrorNames {
			for _, m := range mirrors[name] {
				fmt.Fprintf(os.Stdout, "%-18s  %-40s  %-8s  %dms\n",
					name, m.URL, m.Status, m.ResponseTimeMs)
			}
		}
	}
	return nil
}

// --- probe subcommand ---

var sourcesProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe every multi-mirror source's endpoints now",
	Long: `Probe forces an immediate health check of every monitored mirror set,
bypassing the probe staleness window, and prints the refreshed ranking.`,
	RunE: runSourcesProbe,
}

func runSourcesProbe(cmd *cobra.Command, args []string) error {
	reg, _, logger, err := newRegistry(cmd)
	if err != nil {
		return err
	}
	defer reg.Close()
	defer logger.Sync()

	reg.ForceHealthCheck(cmd.Context())

	mirrors := reg.MirrorStatus()
	if len(mirrors) == 0 {
		fmt.Println("No multi-mirror sources configured.")
		return nil
	}

	names := make([]string, 0, len(mirrors))
	for name := range mirrors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(os.Stdout, "%s:\n", name)
		for i, m := range mirrors[name] {
			fmt.Fprintf(os.Stdout, "  %d. %-40s  %-8s  %dms\n",
				i+1, m.URL, m.Status, m.ResponseTimeMs)
		}
	}
	return nil
}

// --- metrics subcommand ---

var sourcesMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Dump gathered Prometheus metrics for every source",
	Long: `Metrics runs a probe round so the collectors carry fresh samples, then
prints every registered metric in the Prometheus text exposition format.`,
	RunE: runSourcesMetrics,
}

func runSourcesMetrics(cmd *cobra.Command, args []string) error {
	reg, promReg, _, logger, err := newMeteredRegistry(cmd)
	if err != nil {
		return err
	}
	defer reg.Close()
	defer logger.Sync()

	reg.ForceHealthCheck(cmd.Context())

	families, err := promReg.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			return fmt.Errorf("encoding metrics: %w", err)
		}
	}
	return nil
}

func init() {
	sourcesStatusCmd.Flags().Bool("json", false, "output status as JSON")

	sourcesCmd.AddCommand(sourcesStatusCmd)
	sourcesCmd.AddCommand(sourcesProbeCmd)
	sourcesCmd.AddCommand(sourcesMetricsCmd)

	rootCmd.AddCommand(sourcesCmd)
}
