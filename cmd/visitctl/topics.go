package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/drfirst/visitdesk/internal/infrastructure/redpanda"
)

func topicsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Check the notification topics on the configured brokers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ensure, _ := cmd.Flags().GetBool("ensure")

			if err := redpanda.HealthCheck(cmd.Context(), a.cfg.KafkaBrokers); err != nil {
				return err
			}
			admin, err := redpanda.NewAdmin(a.cfg.KafkaBrokers, a.logger)
			if err != nil {
				return err
			}
			defer admin.Close()

			if ensure {
				if err := admin.EnsureTopics(cmd.Context()); err != nil {
					return err
				}
			}
			existing, err := admin.ListTopics(cmd.Context())
			if err != nil {
				return err
			}
			return printTopics(cmd.OutOrStdout(), redpanda.DefaultTopicConfigs(), existing)
		},
	}
	cmd.Flags().Bool("ensure", false, "Create missing notification topics")
	return cmd
}

// printTopics reports each expected topic as present or missing
func printTopics(w io.Writer, want []redpanda.TopicConfig, existing []string) error {
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}
	missing := 0
	for _, tc := range want {
		state := "ok"
		if !have[tc.Name] {
			state = "missing"
			missing++
		}
		if _, err := fmt.Fprintf(w, "%-24s %s\n", tc.Name, state); err != nil {
			return err
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d notification topic(s) missing; rerun with --ensure", missing)
	}
	return nil
}
