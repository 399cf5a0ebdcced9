package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/claudesync/claudesync/internal/engine"
	"github.com/claudesync/claudesync/internal/localstate"
)

// clientMetrics mirrors the naming convention internal/server/httpapi's
// metrics use (claudesync_{subsystem}_{name}_{unit}), scoped to this
// device's local sync state rather than server request traffic.
type clientMetrics struct {
	registry  *prometheus.Registry
	synced    prometheus.Gauge
	failed    prometheus.Gauge
	conflicts prometheus.Gauge
}

func newClientMetrics() *clientMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &clientMetrics{
		registry: reg,
		synced: factory.NewGauge(prometheus.GaugeOpts{
			Name: "claudesync_client_paths_synced",
			Help: "Paths currently in the synced state on this device.",
		}),
		failed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "claudesync_client_paths_failed",
			Help: "Paths currently in the failed state on this device.",
		}),
		conflicts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "claudesync_client_paths_conflict",
			Help: "Paths currently in the conflict state on this device.",
		}),
	}
}

func (m *clientMetrics) set(s engine.Summary) {
	m.synced.Set(float64(s.Synced))
	m.failed.Set(float64(s.Failed))
	m.conflicts.Set(float64(s.Conflicts))
}

func newMetricsCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Report this device's local sync metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "json" && format != "prometheus" {
				return fmt.Errorf("metrics: --format must be json or prometheus, got %q", format)
			}

			cc := mustCLIContext(cmd.Context())

			stateFile := cc.Cfg.Server.StateFile
			if stateFile == "" {
				stateFile = cc.Cfg.Server.SyncDir + "/.claudesync-state.db"
			}

			store, err := localstate.Open(stateFile, cc.Logger)
			if err != nil {
				return fmt.Errorf("metrics: %w", err)
			}
			defer store.Close()

			states, err := store.LoadAll(context.Background())
			if err != nil {
				return fmt.Errorf("metrics: %w", err)
			}

			summary := engine.Summarize(states)

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("metrics: %w", err)
				}
				defer f.Close()

				out = f
			}

			if format == "json" {
				return json.NewEncoder(out).Encode(summary)
			}

			m := newClientMetrics()
			m.set(summary)

			families, err := m.registry.Gather()
			if err != nil {
				return fmt.Errorf("metrics: %w", err)
			}

			enc := expfmt.NewEncoder(out, expfmt.NewFormat(expfmt.TypeTextPlain))
			for _, f := range families {
				if err := enc.Encode(f); err != nil {
					return fmt.Errorf("metrics: %w", err)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "prometheus", "output format: json or prometheus")
	cmd.Flags().StringVar(&output, "output", "", "write to this path instead of stdout")

	return cmd
}
