package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drfirst/visitdesk/internal/visitview"
)

func listCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recently updated visits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			sess, err := a.session()
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			records, err := client.List(cmd.Context(), sess.Token, limit)
			if err != nil {
				return fmt.Errorf("list visits: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			var p visitview.Presenter
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPATIENT\tUPDATED")
			for _, r := range records {
				patient := visitview.NotAvailable
				if r.PatientName != nil && *r.PatientName != "" {
					patient = *r.PatientName
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, p.StatusBadge(r.Status).Label, patient, p.FormatTimestamp(r.UpdatedAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum visits to list")
	cmd.Flags().Bool("json", false, "Print records as JSON")
	return cmd
}
