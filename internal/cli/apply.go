package cli

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"enfra/internal/port"
)

func (a *App) applyCmd() *cobra.Command {
	var orgFile string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile a port with a port org file",
		Long: `Create the port and its project if needed, load every cargo manifest from
the legacy layout and provision every fleet described in a port org file
(YAML or JSON). The org's ocean, sea and port_name are used unless the
matching flags are given.

Cargo manifests must be "$CARGO_IDS"; hard-coded id lists are rejected.

Example org:
  ocean: nyc3
  sea: harbor
  port_name: alpha
  cargo_manifests:
    site: $CARGO_IDS
  fleets:
    web:
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
  enfra apply -f port.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := readOrg(orgFile)
			if err != nil {
				return err
			}
			fillFromOrg(&a.opts.ocean, org.Ocean)
			fillFromOrg(&a.opts.sea, org.Sea)
			fillFromOrg(&a.opts.portName, org.PortName)
			return a.withSession(true, func(cmd *cobra.Command, _ []string, s *session) error {
				report, err := s.authority.Apply(cmd.Context(), org)
				w := cmd.OutOrStdout()
				if report.Constructed {
					success(w, "Created port %s", s.authority.Name())
				}
				for _, name := range slices.Sorted(maps.Keys(report.Manifests)) {
					success(w, "Cargo manifest %s: %d cargo", name, len(report.Manifests[name]))
				}
				for _, fr := range report.Fleets {
					success(w, "Fleet %s", fr)
				}
				return err
			})(cmd, args)
		},
	}
	cmd.Flags().StringVarP(&orgFile, "file", "f", "", "Port org file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func fillFromOrg(flag *string, value string) {
	if *flag == "" {
		*flag = value
	}
}

// readOrg decodes a port org. Fleets without a captain use the local key.
func readOrg(path string) (port.Org, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return port.Org{}, fmt.Errorf("read port org: %w", err)
	}
	var org port.Org
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&org); err != nil {
		return port.Org{}, fmt.Errorf("parse port org %s: %w", path, err)
	}
	for name, spec := range org.Fleets {
		if spec.Captain == "" {
			spec.Captain = port.LocalCaptain
			org.Fleets[name] = spec
		}
	}
	return org, nil
}
