// Package port implements the port authority: the state machine that owns a
// port's configuration document in object storage, validates mutations
// against stored cargo and live cloud resources, and provisions fleets.
package port

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"enfra/internal/blob"
)

// ProjectPurpose is the purpose recorded on every port project.
const ProjectPurpose = "Service or API"

// Authority owns the lifecycle of one port's configuration document. Every
// mutation is a read-modify-write of the whole document; without optimistic
// concurrency the last writer wins.
type Authority struct {
	name       string
	ocean      string
	store      blob.Store
	cloud      Cloud
	fleets     *FleetProvisioner
	keys       KeyResolver
	newID      func() string
	optimistic bool

	logger  *slog.Logger
	metrics MetricsRecorder
	tracer  Tracer
	logbook Logbook
}

// Option configures an Authority.
type Option func(*Authority)

// WithCloud injects the resource provisioning client.
func WithCloud(c Cloud) Option { return func(a *Authority) { a.cloud = c } }

// WithOcean sets the region fleets are provisioned in.
func WithOcean(ocean string) Option { return func(a *Authority) { a.ocean = ocean } }

// WithKeyResolver injects the resolver used for the local captain sentinel.
func WithKeyResolver(k KeyResolver) Option { return func(a *Authority) { a.keys = k } }

// WithFleetProvisioner replaces the provisioner built from the cloud client.
func WithFleetProvisioner(p *FleetProvisioner) Option { return func(a *Authority) { a.fleets = p } }

// WithIDGenerator replaces the cargo id generator (uuid v4 by default).
func WithIDGenerator(fn func() string) Option { return func(a *Authority) { a.newID = fn } }

// WithOptimisticConcurrency makes document writes conditional on the ETag
// read at the start of the mutation.
func WithOptimisticConcurrency(on bool) Option { return func(a *Authority) { a.optimistic = on } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(a *Authority) { a.logger = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option { return func(a *Authority) { a.metrics = m } }

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option { return func(a *Authority) { a.tracer = t } }

// WithLogbook sets the mutation logbook.
func WithLogbook(l Logbook) Option { return func(a *Authority) { a.logbook = l } }

// NewAuthority binds an authority to the port name and its object store.
func NewAuthority(name string, store blob.Store, opts ...Option) (*Authority, error) {
	if err := validName(name); err != nil {
		return nil, newError(KindValidation, "new authority", name, err)
	}
	if store == nil {
		return nil, errorf(KindValidation, "new authority", name, "object store required")
	}
	a := &Authority{
		name:    name,
		store:   store,
		newID:   uuid.NewString,
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		logbook: noopLogbook{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a.logger = a.logger.With("port", name)
	if a.fleets == nil && a.cloud != nil {
		a.fleets = NewFleetProvisioner(a.cloud, a.keys, a.logger)
	}
	return a, nil
}

// Name returns the port name.
func (a *Authority) Name() string { return a.name }

// Load fetches and parses the port's document. A missing document yields a
// KindNotFound error, which callers treat as "port does not exist".
func (a *Authority) Load(ctx context.Context) (Document, error) {
	var doc Document
	err := a.observe(ctx, "load", "", false, func(ctx context.Context) error {
		var err error
		doc, _, err = a.load(ctx)
		return err
	})
	return doc, err
}

// Construct writes an empty document (never overwriting an existing one)
// and ensures the port's project exists when a cloud client is configured.
func (a *Authority) Construct(ctx context.Context) (Project, error) {
	var project Project
	err := a.observe(ctx, "construct", "", true, func(ctx context.Context) error {
		if err := a.createDocument(ctx); err != nil {
			return err
		}
		if a.cloud == nil {
			a.logger.DebugContext(ctx, "no cloud client configured, project not provisioned")
			return nil
		}
		var err error
		project, err = a.ensureProject(ctx)
		return err
	})
	return project, err
}

// createDocument writes an empty document create-only. An existing document
// is a KindConflict.
func (a *Authority) createDocument(ctx context.Context) error {
	body, err := NewDocument().Encode()
	if err != nil {
		return newError(KindStorage, "encode document", a.name, err)
	}
	_, err = a.store.Put(ctx, ConfigKey(a.name), bytes.NewReader(body), blob.PutOptions{ContentType: "application/json", IfNoneMatch: true})
	if errors.Is(err, blob.ErrPreconditionFailed) {
		return errorf(KindConflict, "construct", a.name, "port already exists")
	}
	if err != nil {
		return newError(KindStorage, "write document", a.name, err)
	}
	return nil
}

// EnsureProject finds the port's project by exact name, creating it when
// absent. Several projects with the name are an ambiguous state.
func (a *Authority) EnsureProject(ctx context.Context) (Project, error) {
	var project Project
	err := a.observe(ctx, "ensure project", "", false, func(ctx context.Context) error {
		var err error
		project, err = a.ensureProject(ctx)
		return err
	})
	return project, err
}

func (a *Authority) ensureProject(ctx context.Context) (Project, error) {
	if a.cloud == nil {
		return Project{}, errorf(KindValidation, "ensure project", a.name, "no cloud client configured")
	}
	projects, err := a.cloud.ListProjects(ctx)
	if err != nil {
		return Project{}, newError(KindProvider, "list projects", a.name, err)
	}
	matches := filterByName(projects, a.name, func(p Project) string { return p.Name })
	switch len(matches) {
	case 0:
		p, err := a.cloud.CreateProject(ctx, ProjectRequest{Name: a.name, Purpose: ProjectPurpose})
		if err != nil {
			return Project{}, newError(KindProvider, "create project", a.name, err)
		}
		a.logger.InfoContext(ctx, "project created", "project_id", p.ID)
		return p, nil
	case 1:
		return matches[0], nil
	default:
		return Project{}, errorf(KindAmbiguousState, "ensure project", a.name, "%d projects share the name", len(matches))
	}
}

// CreateCargoManifest sets the manifest to an empty id list. An existing
// manifest of the same name is truncated.
func (a *Authority) CreateCargoManifest(ctx context.Context, name string) error {
	return a.observe(ctx, "create cargo manifest", name, true, func(ctx context.Context) error {
		if err := validName(name); err != nil {
			return newError(KindValidation, "create cargo manifest", name, err)
		}
		return a.mutate(ctx, func(_ context.Context, doc *Document) error {
			doc.CargoManifests[name] = CargoManifest{CargoIDs: []string{}}
			return nil
		})
	})
}

// UpdateCargoManifest replaces the manifest's ids after checking that every
// id names stored cargo. Nothing is written when a check fails.
func (a *Authority) UpdateCargoManifest(ctx context.Context, name string, cargoIDs []string) error {
	return a.observe(ctx, "update cargo manifest", name, true, func(ctx context.Context) error {
		return a.mutate(ctx, func(ctx context.Context, doc *Document) error {
			if _, ok := doc.CargoManifests[name]; !ok {
				return errorf(KindNotFound, "update cargo manifest", name, "cargo manifest does not exist")
			}
			if err := a.requireCargo(ctx, "update cargo manifest", cargoIDs...); err != nil {
				return err
			}
			ids := make([]string, len(cargoIDs))
			copy(ids, cargoIDs)
			doc.CargoManifests[name] = CargoManifest{CargoIDs: ids}
			return nil
		})
	})
}

// ImportLegacyManifest reads a manifest written in the per-manifest layout
// (a JSON array of cargo ids) and records it in the document, replacing any
// ids the manifest already held.
func (a *Authority) ImportLegacyManifest(ctx context.Context, name string) ([]string, error) {
	var ids []string
	err := a.observe(ctx, "import legacy manifest", name, true, func(ctx context.Context) error {
		if err := validName(name); err != nil {
			return newError(KindValidation, "import legacy manifest", name, err)
		}
		raw, err := a.read(ctx, LegacyManifestKey(a.name, name))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &ids); err != nil {
			return newError(KindValidation, "decode legacy manifest", name, err)
		}
		if ids == nil {
			ids = []string{}
		}
		return a.mutate(ctx, func(ctx context.Context, doc *Document) error {
			if err := a.requireCargo(ctx, "import legacy manifest", ids...); err != nil {
				return err
			}
			doc.CargoManifests[name] = CargoManifest{CargoIDs: ids}
			return nil
		})
	})
	return ids, err
}

// StoreCargo writes the payload and its unlock key under a fresh cargo id
// and returns the id. The payload is written first and is not removed if
// the unlock key write fails, so such cargo never reports as existing.
func (a *Authority) StoreCargo(ctx context.Context, filename string, payload, padLockKey io.Reader) (string, error) {
	var id string
	err := a.observe(ctx, "store cargo", filename, true, func(ctx context.Context) error {
		if payload == nil || padLockKey == nil {
			return errorf(KindValidation, "store cargo", filename, "payload and pad lock key required")
		}
		id = a.newID()
		meta := map[string]string{"port": a.name, "cargo-id": id}
		if _, err := a.store.Put(ctx, CargoKey(a.name, id, cargoFilename(filename)), payload, blob.PutOptions{ContentType: "application/octet-stream", Metadata: meta}); err != nil {
			return newError(KindStorage, "write cargo", id, err)
		}
		if _, err := a.store.Put(ctx, PadLockKey(a.name, id), padLockKey, blob.PutOptions{ContentType: "text/x-shellscript", Metadata: meta}); err != nil {
			return newError(KindStorage, "write pad lock key", id, err)
		}
		a.logger.InfoContext(ctx, "cargo stored", "cargo_id", id)
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// CargoExists reports whether the cargo's unlock key is stored.
func (a *Authority) CargoExists(ctx context.Context, cargoID string) (bool, error) {
	var exists bool
	err := a.observe(ctx, "cargo exists", cargoID, false, func(ctx context.Context) error {
		var err error
		exists, err = a.cargoExists(ctx, cargoID)
		return err
	})
	return exists, err
}

// CargoLinks are pre-signed download links for one cargo.
type CargoLinks struct {
	CargoID    string `json:"cargo_id"`
	Payload    string `json:"payload"`
	PadLockKey string `json:"pad_lock_key"`
}

// CargoURLs signs download links for a stored cargo's payload and pad lock
// key. A zero expiry uses the store default.
func (a *Authority) CargoURLs(ctx context.Context, cargoID string, expiry time.Duration) (CargoLinks, error) {
	const op = "cargo urls"
	links := CargoLinks{CargoID: cargoID}
	err := a.observe(ctx, op, cargoID, false, func(ctx context.Context) error {
		exists, err := a.cargoExists(ctx, cargoID)
		if err != nil {
			return err
		}
		if !exists {
			return errorf(KindNotFound, op, cargoID, "no such cargo in port %s", a.name)
		}
		objects, err := a.store.List(ctx, ContainerYardPrefix(a.name, cargoID))
		if err != nil {
			return newError(KindStorage, "list container yard", cargoID, err)
		}
		payloadKey := ""
		for _, obj := range objects {
			if obj.Key != PadLockKey(a.name, cargoID) {
				payloadKey = obj.Key
				break
			}
		}
		if payloadKey == "" {
			return errorf(KindNotFound, op, cargoID, "cargo payload missing")
		}
		opts := blob.PresignOptions{Expiry: expiry}
		if links.Payload, err = a.store.PresignURL(ctx, payloadKey, opts); err != nil {
			return presignError(cargoID, err)
		}
		if links.PadLockKey, err = a.store.PresignURL(ctx, PadLockKey(a.name, cargoID), opts); err != nil {
			return presignError(cargoID, err)
		}
		return nil
	})
	return links, err
}

func presignError(cargoID string, err error) error {
	if errors.Is(err, blob.ErrUnsupported) {
		return newError(KindValidation, "presign cargo", cargoID, err)
	}
	return newError(KindStorage, "presign cargo", cargoID, err)
}

func (a *Authority) cargoExists(ctx context.Context, cargoID string) (bool, error) {
	if validName(cargoID) != nil {
		return false, nil
	}
	_, err := a.store.Head(ctx, PadLockKey(a.name, cargoID))
	if blob.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, newError(KindStorage, "head pad lock key", cargoID, err)
	}
	return true, nil
}

func (a *Authority) requireCargo(ctx context.Context, op string, cargoIDs ...string) error {
	for _, id := range cargoIDs {
		ok, err := a.cargoExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return errorf(KindValidation, op, id, "non-existent cargo id detected")
		}
	}
	return nil
}

// AddFleet provisions the fleet's autoscale pool and load balancer and
// records the spec in the document. The spec is validated and its
// reinforcement strategy parsed before any remote call.
func (a *Authority) AddFleet(ctx context.Context, fleet string, spec FleetSpec) (FleetReport, error) {
	var report FleetReport
	err := a.observe(ctx, "add fleet", fleet, true, func(ctx context.Context) error {
		const op = "add fleet"
		if err := validName(fleet); err != nil {
			return newError(KindValidation, op, fleet, err)
		}
		if err := spec.Validate(); err != nil {
			return newError(KindValidation, op, fleet, err)
		}
		if _, err := ParseReinforcementStrategy(spec.ReinforcementStrategy); err != nil {
			return err
		}
		if a.fleets == nil {
			return errorf(KindValidation, op, fleet, "no cloud client configured")
		}
		if _, _, err := a.load(ctx); err != nil {
			return err
		}
		project, err := a.ensureProject(ctx)
		if err != nil {
			return err
		}
		report, err = a.fleets.Provision(ctx, FleetRequest{
			Port:      a.name,
			Ocean:     a.ocean,
			ProjectID: project.ID,
			Fleet:     fleet,
			Spec:      spec,
		})
		if err != nil {
			return err
		}
		spec.CallSign = report.CallSign
		return a.mutate(ctx, func(_ context.Context, doc *Document) error {
			doc.Fleets[fleet] = spec
			return nil
		})
	})
	return report, err
}

// AddPier adds an empty pier. An existing pier is a conflict.
func (a *Authority) AddPier(ctx context.Context, pier string) error {
	return a.observe(ctx, "add pier", pier, true, func(ctx context.Context) error {
		if err := validName(pier); err != nil {
			return newError(KindValidation, "add pier", pier, err)
		}
		return a.mutate(ctx, func(_ context.Context, doc *Document) error {
			if _, ok := doc.Piers[pier]; ok {
				return errorf(KindConflict, "add pier", pier, "pier already exists")
			}
			doc.Piers[pier] = Pier{}
			return nil
		})
	})
}

// LoadPier points an existing pier at stored cargo.
func (a *Authority) LoadPier(ctx context.Context, pier, cargoID string) error {
	return a.observe(ctx, "load pier", pier, true, func(ctx context.Context) error {
		return a.mutate(ctx, func(ctx context.Context, doc *Document) error {
			if _, ok := doc.Piers[pier]; !ok {
				return errorf(KindNotFound, "load pier", pier, "pier does not exist")
			}
			if err := a.requireCargo(ctx, "load pier", cargoID); err != nil {
				return err
			}
			id := cargoID
			doc.Piers[pier] = Pier{CargoID: &id}
			return nil
		})
	})
}

// mutate re-reads the latest document, applies fn and persists the result.
func (a *Authority) mutate(ctx context.Context, fn func(context.Context, *Document) error) error {
	doc, etag, err := a.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, &doc); err != nil {
		return err
	}
	return a.save(ctx, doc, etag)
}

func (a *Authority) load(ctx context.Context) (Document, string, error) {
	info, rc, err := a.store.Get(ctx, ConfigKey(a.name))
	if blob.IsNotFound(err) {
		return Document{}, "", errorf(KindNotFound, "load", a.name, "port %s does not exist", a.name)
	}
	if err != nil {
		return Document{}, "", newError(KindStorage, "read document", a.name, err)
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return Document{}, "", newError(KindStorage, "read document", a.name, err)
	}
	doc, err := DecodeDocument(raw)
	if err != nil {
		return Document{}, "", newError(KindStorage, "decode document", a.name, err)
	}
	return doc, info.ETag, nil
}

func (a *Authority) save(ctx context.Context, doc Document, etag string) error {
	body, err := doc.Encode()
	if err != nil {
		return newError(KindStorage, "encode document", a.name, err)
	}
	opts := blob.PutOptions{ContentType: "application/json"}
	if a.optimistic {
		if etag == "" {
			return errorf(KindStorage, "write document", a.name, "store reported no etag, refusing an unconditional write")
		}
		opts.IfMatch = etag
	}
	_, err = a.store.Put(ctx, ConfigKey(a.name), bytes.NewReader(body), opts)
	if errors.Is(err, blob.ErrPreconditionFailed) {
		return errorf(KindConflict, "write document", a.name, "document changed since it was read")
	}
	if err != nil {
		return newError(KindStorage, "write document", a.name, err)
	}
	return nil
}

func (a *Authority) read(ctx context.Context, key string) ([]byte, error) {
	_, rc, err := a.store.Get(ctx, key)
	if blob.IsNotFound(err) {
		return nil, errorf(KindNotFound, "read", key, "object does not exist")
	}
	if err != nil {
		return nil, newError(KindStorage, "read", key, err)
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, newError(KindStorage, "read", key, err)
	}
	return raw, nil
}

// observe wraps an operation with tracing, metrics, logging and, for
// mutations, a logbook entry.
func (a *Authority) observe(ctx context.Context, op, subject string, mutation bool, fn func(context.Context) error) (err error) {
	ctx, span := a.tracer.Start(ctx, op, subject)
	started := time.Now()
	defer func() {
		span.End(err)
		a.metrics.Observe(ctx, op, err == nil, time.Since(started))
		if err != nil {
			a.logger.WarnContext(ctx, "port operation failed", "operation", op, "subject", subject, "kind", KindOf(err), "error", err)
		} else {
			a.logger.DebugContext(ctx, "port operation completed", "operation", op, "subject", subject)
		}
		if mutation {
			entry := LogEntry{Port: a.name, Operation: op, Subject: subject, Status: LogStatusSuccess, OccurredAt: time.Now().UTC()}
			if err != nil {
				entry.Status = LogStatusError
				entry.Error = err.Error()
			}
			a.logbook.Record(ctx, entry)
		}
	}()
	return fn(ctx)
}
