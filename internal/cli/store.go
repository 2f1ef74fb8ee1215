package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func (a *App) storeCmd() *cobra.Command {
	var cargoPath, padLockPath string
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store a cargo file and its pad lock key in the port's container yard",
		Long: `Upload a cargo payload together with the script that unlocks it.
The new cargo id is printed on success.

Examples:
  enfra store -p alpha -c site.tar.gz -k unpack.sh`,
		Args: cobra.NoArgs,
		RunE: a.withSession(false, func(cmd *cobra.Command, _ []string, s *session) error {
			info, err := os.Stat(cargoPath)
			if err != nil {
				return fmt.Errorf("cargo %s: %w", cargoPath, err)
			}
			if info.IsDir() {
				return errors.New("storing a directory as cargo is not implemented")
			}
			cargo, err := os.Open(cargoPath)
			if err != nil {
				return fmt.Errorf("open cargo: %w", err)
			}
			defer func() { _ = cargo.Close() }()
			padLock, err := os.Open(padLockPath)
			if err != nil {
				return fmt.Errorf("open pad lock key: %w", err)
			}
			defer func() { _ = padLock.Close() }()

			id, err := s.authority.StoreCargo(cmd.Context(), cargoPath, cargo, padLock)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Stored cargo %s", id)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&cargoPath, "cargo", "c", "", "Cargo file")
	cmd.Flags().StringVarP(&padLockPath, "pad-lock-key", "k", "", "Script that unlocks the cargo")
	_ = cmd.MarkFlagRequired("cargo")
	_ = cmd.MarkFlagRequired("pad-lock-key")
	return cmd
}
