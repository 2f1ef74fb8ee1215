package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"enfra/internal/port"
)

func (a *App) configureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Change a port's fleets and piers",
	}
	cmd.AddCommand(a.addFleetCmd())
	cmd.AddCommand(a.addPierCmd())
	cmd.AddCommand(a.loadPierCmd())
	return cmd
}

func (a *App) addFleetCmd() *cobra.Command {
	var (
		specFile string
		captain  string
	)
	cmd := &cobra.Command{
		Use:   "add-fleet [fleet]",
		Short: "Provision a fleet and record it in the port",
		Long: `Provision an autoscale pool and a load balancer named <port>-<fleet>
from a fleet spec file (YAML or JSON), then record the spec in the port.

Existing resources with the call sign are reused; duplicates are an error.

Example spec:
  ship_type: s-1vcpu-1gb
  crew: ubuntu-24-04-x64
  captain: $LOCAL
  min_size: 1
  max_size: 3
  reinforcement_strategy: cpu:0.7
  gangways:
    - pier_end: {type: http, number: 80}
      ship_end: {type: http, number: 8080}

Examples:
  enfra configure add-fleet web --spec web.yaml -p alpha -o nyc3 -s harbor`,
		Args: cobra.ExactArgs(1),
		RunE: a.withSession(true, func(cmd *cobra.Command, args []string, s *session) error {
			spec, err := readFleetSpec(specFile)
			if err != nil {
				return err
			}
			if captain != "" {
				spec.Captain = captain
			}
			report, err := s.authority.AddFleet(cmd.Context(), args[0], spec)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Fleet %s", report)
			return nil
		}),
	}
	cmd.Flags().StringVar(&specFile, "spec", "", "Fleet spec file (YAML or JSON)")
	cmd.Flags().StringVarP(&captain, "ssh-key-fp", "k", "", "SSH key fingerprint for the fleet ($LOCAL for your own key)")
	cmd.Flags().StringVar(&a.sshKeyFile, "ssh-key-file", "", "Public key used for $LOCAL (default the single ~/.ssh/*.pub)")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

// readFleetSpec decodes a fleet spec. A missing captain means the local key.
func readFleetSpec(path string) (port.FleetSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return port.FleetSpec{}, fmt.Errorf("read fleet spec: %w", err)
	}
	var spec port.FleetSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return port.FleetSpec{}, fmt.Errorf("parse fleet spec %s: %w", path, err)
	}
	if spec.Captain == "" {
		spec.Captain = port.LocalCaptain
	}
	return spec, nil
}

func (a *App) addPierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-pier [pier]",
		Short: "Add an empty pier to the port",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(false, func(cmd *cobra.Command, args []string, s *session) error {
			if err := s.authority.AddPier(cmd.Context(), args[0]); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Added pier %s to port %s", args[0], s.authority.Name())
			return nil
		}),
	}
}

func (a *App) loadPierCmd() *cobra.Command {
	var pier string
	cmd := &cobra.Command{
		Use:   "load-pier [cargo_id]",
		Short: "Load stored cargo onto a pier",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(false, func(cmd *cobra.Command, args []string, s *session) error {
			if err := s.authority.LoadPier(cmd.Context(), pier, args[0]); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Loaded cargo %s onto pier %s", args[0], pier)
			return nil
		}),
	}
	cmd.Flags().StringVar(&pier, "pier", "", "Pier to load")
	_ = cmd.MarkFlagRequired("pier")
	return cmd
}
