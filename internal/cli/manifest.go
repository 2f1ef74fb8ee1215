package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func (a *App) manifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Manage cargo manifests",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create [name]",
		Short: "Create (or empty) a cargo manifest",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(false, func(cmd *cobra.Command, args []string, s *session) error {
			if err := s.authority.CreateCargoManifest(cmd.Context(), args[0]); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Created cargo manifest %s", args[0])
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "update [name] [cargo_id...]",
		Short: "Replace a manifest's cargo ids",
		Long: `Replace the manifest's cargo ids, in the order given. Every id must name
stored cargo; otherwise nothing is written.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.withSession(false, func(cmd *cobra.Command, args []string, s *session) error {
			ids := args[1:]
			if err := s.authority.UpdateCargoManifest(cmd.Context(), args[0], ids); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Updated cargo manifest %s: [%s]", args[0], strings.Join(ids, ", "))
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import-legacy [name]",
		Short: "Import a manifest stored in the per-manifest layout",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(false, func(cmd *cobra.Command, args []string, s *session) error {
			ids, err := s.authority.ImportLegacyManifest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Imported cargo manifest %s (%d cargo)", args[0], len(ids))
			return nil
		}),
	})
	return cmd
}
