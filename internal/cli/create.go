package cli

import (
	"github.com/spf13/cobra"

	"enfra/internal/port"
)

func (a *App) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a port and its project",
		Long: `Write an empty configuration document for the port and ensure a
DigitalOcean project with the port's name exists.

An existing port is never overwritten.

Examples:
  enfra create -o nyc3 -s harbor -p alpha`,
		Args: cobra.NoArgs,
		RunE: a.withSession(true, func(cmd *cobra.Command, _ []string, s *session) error {
			project, err := s.authority.Construct(cmd.Context())
			if port.IsKind(err, port.KindConflict) {
				notice(cmd.OutOrStdout(), "Port %s already exists", s.authority.Name())
				return nil
			}
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Created port %s (project %s)", s.authority.Name(), project.ID)
			return nil
		}),
	}
}
