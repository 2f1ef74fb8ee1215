package port

import (
	"bytes"
	"context"
	"errors"
	"maps"
	"slices"

	"enfra/internal/blob"
)

// LegacyManifestPlaceholder marks a port org manifest whose ids are kept in
// the legacy per-manifest layout.
const LegacyManifestPlaceholder = "$CARGO_IDS"

// Org declares a whole port in one document. Sea selects the object store
// and is consumed by whoever opens it; the authority checks the rest.
type Org struct {
	Ocean          string               `json:"ocean" yaml:"ocean"`
	Sea            string               `json:"sea" yaml:"sea"`
	PortName       string               `json:"port_name" yaml:"port_name"`
	CargoManifests map[string]any       `json:"cargo_manifests" yaml:"cargo_manifests"`
	Fleets         map[string]FleetSpec `json:"fleets" yaml:"fleets"`
}

// OrgReport records what Apply reconciled before it returned.
type OrgReport struct {
	Constructed bool
	Project     Project
	Manifests   map[string][]string
	Fleets      []FleetReport
}

// Apply reconciles the port with org: the document and project exist, every
// manifest is loaded from the legacy layout (created empty when absent) and
// every fleet is provisioned. Manifests and fleets run in name order and
// Apply stops at the first failure; the report holds the steps that
// completed. The whole org is validated before anything is written.
func (a *Authority) Apply(ctx context.Context, org Org) (OrgReport, error) {
	report := OrgReport{Manifests: map[string][]string{}}
	err := a.observe(ctx, "apply", a.name, true, func(ctx context.Context) error {
		if err := a.checkOrg(org); err != nil {
			return err
		}

		err := a.createDocument(ctx)
		switch {
		case err == nil:
			report.Constructed = true
		case !IsKind(err, KindConflict):
			return err
		}
		if a.cloud != nil {
			if report.Project, err = a.ensureProject(ctx); err != nil {
				return err
			}
		}

		for _, name := range slices.Sorted(maps.Keys(org.CargoManifests)) {
			ids, err := a.applyManifest(ctx, name)
			if err != nil {
				return err
			}
			report.Manifests[name] = ids
		}
		for _, name := range slices.Sorted(maps.Keys(org.Fleets)) {
			fr, err := a.AddFleet(ctx, name, org.Fleets[name])
			if err != nil {
				return err
			}
			report.Fleets = append(report.Fleets, fr)
		}
		return nil
	})
	return report, err
}

func (a *Authority) checkOrg(org Org) error {
	const op = "apply"
	if org.PortName != "" && org.PortName != a.name {
		return errorf(KindValidation, op, org.PortName, "port org describes port %s, not %s", org.PortName, a.name)
	}
	if org.Ocean != "" && org.Ocean != a.ocean {
		return errorf(KindValidation, op, org.Ocean, "port org is in ocean %s, not %q", org.Ocean, a.ocean)
	}
	for name, src := range org.CargoManifests {
		if err := validName(name); err != nil {
			return newError(KindValidation, op, name, err)
		}
		if s, ok := src.(string); !ok || s != LegacyManifestPlaceholder {
			return errorf(KindValidation, op, name, "hard-coded cargo ids are not supported, use %q", LegacyManifestPlaceholder)
		}
	}
	if len(org.Fleets) > 0 && a.fleets == nil {
		return errorf(KindValidation, op, a.name, "no cloud client configured")
	}
	for name, spec := range org.Fleets {
		if err := validName(name); err != nil {
			return newError(KindValidation, op, name, err)
		}
		if err := spec.Validate(); err != nil {
			return newError(KindValidation, op, name, err)
		}
		if _, err := ParseReinforcementStrategy(spec.ReinforcementStrategy); err != nil {
			return err
		}
	}
	return nil
}

// applyManifest imports a legacy manifest, first writing an empty one when
// the legacy object does not exist yet.
func (a *Authority) applyManifest(ctx context.Context, name string) ([]string, error) {
	ids, err := a.ImportLegacyManifest(ctx, name)
	if !IsNotFound(err) {
		return ids, err
	}
	_, err = a.store.Put(ctx, LegacyManifestKey(a.name, name), bytes.NewReader([]byte("[]")), blob.PutOptions{ContentType: "application/json", IfNoneMatch: true})
	if err != nil && !errors.Is(err, blob.ErrPreconditionFailed) {
		return nil, newError(KindStorage, "write legacy manifest", name, err)
	}
	return a.ImportLegacyManifest(ctx, name)
}
