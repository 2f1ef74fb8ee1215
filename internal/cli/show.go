package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func (a *App) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the port's configuration document",
		Args:  cobra.NoArgs,
		RunE: a.withSession(false, func(cmd *cobra.Command, _ []string, s *session) error {
			doc, err := s.authority.Load(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		}),
	}
}

func (a *App) cargoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cargo",
		Short: "Inspect stored cargo",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "exists [cargo_id]",
		Short: "Report whether cargo is stored",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(false, func(cmd *cobra.Command, args []string, s *session) error {
			ok, err := s.authority.CargoExists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ok {
				success(cmd.OutOrStdout(), "Cargo %s is stored", args[0])
			} else {
				notice(cmd.OutOrStdout(), "Cargo %s is not stored", args[0])
			}
			return nil
		}),
	})

	var expiry time.Duration
	urlCmd := &cobra.Command{
		Use:   "url [cargo_id]",
		Short: "Print pre-signed download links for a cargo",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(false, func(cmd *cobra.Command, args []string, s *session) error {
			links, err := s.authority.CargoURLs(cmd.Context(), args[0], expiry)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "payload\t%s\npad_lock_key\t%s\n", links.Payload, links.PadLockKey)
			return nil
		}),
	}
	urlCmd.Flags().DurationVar(&expiry, "expiry", 0, "Link lifetime (default 15m)")
	cmd.AddCommand(urlCmd)
	return cmd
}

func (a *App) logbookCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logbook",
		Short: "Show recorded changes to the port",
		Args:  cobra.NoArgs,
		RunE: a.withSession(false, func(cmd *cobra.Command, _ []string, s *session) error {
			if s.logbook == nil {
				return errors.New("no logbook configured (use --logbook or ENFRA_LOGBOOK)")
			}
			entries, err := s.logbook.Entries(cmd.Context(), s.authority.Name(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No logbook entries.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tOPERATION\tSUBJECT\tSTATUS\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.OccurredAt.Format(time.RFC3339), e.Operation, e.Subject, e.Status, e.Error)
			}
			return w.Flush()
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Entries to show (0 for all)")
	return cmd
}
