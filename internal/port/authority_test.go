package port_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"enfra/internal/blob"
	"enfra/internal/port"
	"enfra/internal/port/porttest"
)

func newAuthority(t *testing.T, name string, store blob.Store, opts ...port.Option) *port.Authority {
	t.Helper()
	a, err := port.NewAuthority(name, store, opts...)
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}
	return a
}

func storeCargo(t *testing.T, a *port.Authority, payload string) string {
	t.Helper()
	id, err := a.StoreCargo(context.Background(), "payload.bin", strings.NewReader(payload), strings.NewReader("#!/bin/sh\necho unlock"))
	if err != nil {
		t.Fatalf("store cargo: %v", err)
	}
	return id
}

func rawDocument(t *testing.T, store blob.Store, name string) []byte {
	t.Helper()
	_, rc, err := store.Get(context.Background(), port.ConfigKey(name))
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	return b
}

func TestShipmentScenario(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	cloud := porttest.NewCloud()
	a := newAuthority(t, "alpha", store, port.WithCloud(cloud))

	project, err := a.Construct(ctx)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if project.Name != "alpha" || project.ID == "" {
		t.Fatalf("unexpected project %+v", project)
	}
	if err := a.CreateCargoManifest(ctx, "shipment-1"); err != nil {
		t.Fatalf("create manifest: %v", err)
	}
	id, err := a.StoreCargo(ctx, "", bytes.NewReader([]byte("payload")), bytes.NewReader([]byte("#!/bin/sh\necho unlock")))
	if err != nil {
		t.Fatalf("store cargo: %v", err)
	}
	if err := a.UpdateCargoManifest(ctx, "shipment-1", []string{id}); err != nil {
		t.Fatalf("update manifest: %v", err)
	}
	doc, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := doc.CargoManifests["shipment-1"].CargoIDs; !reflect.DeepEqual(got, []string{id}) {
		t.Fatalf("expected [%s], got %v", id, got)
	}
	if _, err := store.Head(ctx, port.CargoKey("alpha", id, port.DefaultCargoName)); err != nil {
		t.Fatalf("expected payload under default name: %v", err)
	}
}

func TestLoadMissingPortIsNotFound(t *testing.T) {
	a := newAuthority(t, "ghost", blob.NewMemory())
	_, err := a.Load(context.Background())
	if !port.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !errors.Is(err, &port.Error{Kind: port.KindNotFound}) {
		t.Fatalf("expected errors.Is to match kind")
	}
}

func TestConstructWritesEmptyDocumentOnce(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	a := newAuthority(t, "alpha", store)

	if _, err := a.Construct(ctx); err != nil {
		t.Fatalf("construct: %v", err)
	}
	doc, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.CargoManifests) != 0 || len(doc.Fleets) != 0 || len(doc.Piers) != 0 {
		t.Fatalf("expected empty document, got %+v", doc)
	}
	if got := string(rawDocument(t, store, "alpha")); got != `{"cargo_manifests":{},"fleets":{},"piers":{}}` {
		t.Fatalf("unexpected stored document %s", got)
	}

	if err := a.CreateCargoManifest(ctx, "m"); err != nil {
		t.Fatalf("create manifest: %v", err)
	}
	_, err = a.Construct(ctx)
	if !port.IsKind(err, port.KindConflict) {
		t.Fatalf("expected conflict on second construct, got %v", err)
	}
	doc, _ = a.Load(ctx)
	if _, ok := doc.CargoManifests["m"]; !ok {
		t.Fatalf("second construct overwrote the document")
	}
}

func TestConstructReusesExistingProject(t *testing.T) {
	cloud := porttest.NewCloud()
	cloud.Projects = []port.Project{{ID: "p-1", Name: "alpha"}, {ID: "p-2", Name: "beta"}}
	a := newAuthority(t, "alpha", blob.NewMemory(), port.WithCloud(cloud))
	project, err := a.Construct(context.Background())
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if project.ID != "p-1" || len(cloud.Projects) != 2 {
		t.Fatalf("expected existing project reused, got %+v (%d projects)", project, len(cloud.Projects))
	}
}

func TestEnsureProjectAmbiguous(t *testing.T) {
	cloud := porttest.NewCloud()
	cloud.Projects = []port.Project{{ID: "p-1", Name: "alpha"}, {ID: "p-2", Name: "alpha"}}
	a := newAuthority(t, "alpha", blob.NewMemory(), port.WithCloud(cloud))
	if _, err := a.EnsureProject(context.Background()); !port.IsKind(err, port.KindAmbiguousState) {
		t.Fatalf("expected ambiguous state, got %v", err)
	}
}

func TestEnsureProjectWithoutCloud(t *testing.T) {
	a := newAuthority(t, "alpha", blob.NewMemory())
	if _, err := a.EnsureProject(context.Background()); !port.IsKind(err, port.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateCargoManifestTruncates(t *testing.T) {
	ctx := context.Background()
	a := newAuthority(t, "alpha", blob.NewMemory())
	if _, err := a.Construct(ctx); err != nil {
		t.Fatalf("construct: %v", err)
	}
	if err := a.CreateCargoManifest(ctx, "m"); err != nil {
		t.Fatalf("create manifest: %v", err)
	}
	id := storeCargo(t, a, "one")
	if err := a.UpdateCargoManifest(ctx, "m", []string{id}); err != nil {
		t.Fatalf("update manifest: %v", err)
	}
	if err := a.CreateCargoManifest(ctx, "m"); err != nil {
		t.Fatalf("recreate manifest: %v", err)
	}
	doc, _ := a.Load(ctx)
	if ids := doc.CargoManifests["m"].CargoIDs; ids == nil || len(ids) != 0 {
		t.Fatalf("expected empty non-nil id list, got %#v", ids)
	}
}

func TestCreateCargoManifestRequiresPort(t *testing.T) {
	a := newAuthority(t, "alpha", blob.NewMemory())
	if err := a.CreateCargoManifest(context.Background(), "m"); !port.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := a.CreateCargoManifest(context.Background(), "a/b"); !port.IsKind(err, port.KindValidation) {
		t.Fatalf("expected validation for bad name, got %v", err)
	}
}

func TestUpdateCargoManifestRejectsUnknownCargo(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	a := newAuthority(t, "alpha", store)
	if _, err := a.Construct(ctx); err != nil {
		t.Fatalf("construct: %v", err)
	}
	if err := a.CreateCargoManifest(ctx, "m"); err != nil {
		t.Fatalf("create manifest: %v", err)
	}
	known := storeCargo(t, a, "one")
	before := rawDocument(t, store, "alpha")

	err := a.UpdateCargoManifest(ctx, "m", []string{known, "never-issued"})
	if !port.IsKind(err, port.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if after := rawDocument(t, store, "alpha"); !bytes.Equal(before, after) {
		t.Fatalf("document changed after failed update:\n%s\n%s", before, after)
	}
}

func TestUpdateCargoManifestPreservesOrder(t *testing.T) {
	ctx := context.Background()
	a := newAuthority(t, "alpha", blob.NewMemory())
	if _, err := a.Construct(ctx); err != nil {
		t.Fatalf("construct: %v", err)
	}
	if err := a.CreateCargoManifest(ctx, "m"); err != nil {
		t.Fatalf("create manifest: %v", err)
	}
	ids := []string{storeCargo(t, a, "1"), storeCargo(t, a, "2"), storeCargo(t, a, "3")}
	want := []string{ids[2], ids[0], ids[1], ids[0]}
	if err := a.UpdateCargoManifest(ctx, "m", want); err != nil {
		t.Fatalf("update manifest: %v", err)
	}
	doc, _ := a.Load(ctx)
	if got := doc.CargoManifests["m"].CargoIDs; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestUpdateCargoManifestMissingManifest(t *testing.T) {
	ctx := context.Background()
	a := newAuthority(t, "alpha", blob.NewMemory())
	if _, err := a.Construct(ctx); err != nil {
		t.Fatalf("construct: %v", err)
	}
	if err := a.UpdateCargoManifest(ctx, "absent", nil); !port.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreCargoIssuesFreshIDs(t *testing.T) {
	ctx := context.Background()
	a := newAuthority(t, "alpha", blob.NewMemory())
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := storeCargo(t, a, "payload")
		if seen[id] {
			t.Fatalf("id %s reused", id)
		}
		seen[id] = true
		ok, err := a.CargoExists(ctx, id)
		if err != nil || !ok {
			t.Fatalf("expected cargo %s to exist: %v %v", id, ok, err)
		}
	}
	for _, id := range []string{"never-issued", "", "../x"} {
		ok, err := a.CargoExists(ctx, id)
		if err != nil || ok {
			t.Fatalf("expected %q to be absent: %v %v", id, ok, err)
		}
	}
}

func TestStoreCargoLayout(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	a := newAuthority(t, "alpha", store, port.WithIDGenerator(func() string { return "fixed" }))
	id, err := a.StoreCargo(ctx, "dir/site.tar.gz", strings.NewReader("payload"), strings.NewReader("key"))
	if err != nil {
		t.Fatalf("store cargo: %v", err)
	}
	if id != "fixed" {
		t.Fatalf("expected generated id, got %s", id)
	}
	infos, err := store.List(ctx, port.ContainerYardPrefix("alpha", id))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var keys []string
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	want := []string{
		"ports/alpha/container_yard/fixed/pad_lock_key.sh",
		"ports/alpha/container_yard/fixed/site.tar.gz",
	}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for _, info := range infos {
		if info.Metadata["port"] != "alpha" || info.Metadata["cargo-id"] != "fixed" {
			t.Fatalf("missing cargo metadata on %s: %v", info.Key, info.Metadata)
		}
	}
}

func TestCargoURLs(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMockS3ForTests()
	a := newAuthority(t, "alpha", store)
	id, err := a.StoreCargo(ctx, "site.tar.gz", strings.NewReader("payload"), strings.NewReader("key"))
	if err != nil {
		t.Fatalf("store cargo: %v", err)
	}
	links, err := a.CargoURLs(ctx, id, time.Hour)
	if err != nil {
		t.Fatalf("cargo urls: %v", err)
	}
	if !strings.Contains(links.Payload, "/container_yard/"+id+"/site.tar.gz?") || !strings.Contains(links.Payload, "X-Amz-Expires=3600") {
		t.Fatalf("unexpected payload link %s", links.Payload)
	}
	if !strings.Contains(links.PadLockKey, "/container_yard/"+id+"/pad_lock_key.sh?") {
		t.Fatalf("unexpected pad lock key link %s", links.PadLockKey)
	}
	if _, err := a.CargoURLs(ctx, "missing", 0); !port.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	mem := newAuthority(t, "alpha", blob.NewMemory())
	if _, err := mem.CargoURLs(ctx, storeCargo(t, mem, "p"), 0); !port.IsKind(err, port.KindValidation) || !errors.Is(err, blob.ErrUnsupported) {
		t.Fatalf("expected unsupported presign as validation, got %v", err)
	}
}

func TestStoreCargoRequiresReaders(t *testing.T) {
	a := newAuthority(t, "alpha", blob.NewMemory())
	if _, err := a.StoreCargo(context.Background(), "x", nil, strings.NewReader("k")); !port.IsKind(err, port.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPiers(t *testing.T) {
	ctx := context.Background()
	a := newAuthority(t, "alpha", blob.NewMemory())
	if _, err := a.Construct(ctx); err != nil {
		t.Fatalf("construct: %v", err)
	}
	if err := a.AddPier(ctx, "web"); err != nil {
		t.Fatalf("add pier: %v", err)
	}
	if err := a.AddPier(ctx, "web"); !port.IsKind(err, port.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := a.LoadPier(ctx, "web", "never-issued"); !port.IsKind(err, port.KindValidation) {
		t.Fatalf("expected validation, got %v", err)
	}
	if err := a.LoadPier(ctx, "api", "x"); !port.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	id := storeCargo(t, a, "site")
	if err := a.LoadPier(ctx, "web", id); err != nil {
		t.Fatalf("load pier: %v", err)
	}
	doc, _ := a.Load(ctx)
	if p := doc.Piers["web"]; p.CargoID == nil || *p.CargoID != id {
		t.Fatalf("expected pier loaded with %s, got %+v", id, p)
	}
}

func TestImportLegacyManifest(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	a := newAuthority(t, "alpha", store)
	if _, err := a.Construct(ctx); err != nil {
		t.Fatalf("construct: %v", err)
	}
	if _, err := a.ImportLegacyManifest(ctx, "old"); !port.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	id := storeCargo(t, a, "one")
	body := `["` + id + `"]`
	if _, err := store.Put(ctx, port.LegacyManifestKey("alpha", "old"), strings.NewReader(body), blob.PutOptions{}); err != nil {
		t.Fatalf("seed legacy manifest: %v", err)
	}
	ids, err := a.ImportLegacyManifest(ctx, "old")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	doc, _ := a.Load(ctx)
	if !reflect.DeepEqual(doc.CargoManifests["old"].CargoIDs, ids) || len(ids) != 1 {
		t.Fatalf("unexpected import result %v / %+v", ids, doc.CargoManifests)
	}

	other := storeCargo(t, a, "two")
	if err := a.UpdateCargoManifest(ctx, "old", []string{other, id}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := a.ImportLegacyManifest(ctx, "old"); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	doc, _ = a.Load(ctx)
	if got := doc.CargoManifests["old"].CargoIDs; !reflect.DeepEqual(got, []string{id}) {
		t.Fatalf("legacy import should replace the manifest's ids, got %v", got)
	}

	if _, err := store.Put(ctx, port.LegacyManifestKey("alpha", "bad"), strings.NewReader(`["missing"]`), blob.PutOptions{}); err != nil {
		t.Fatalf("seed legacy manifest: %v", err)
	}
	if _, err := a.ImportLegacyManifest(ctx, "bad"); !port.IsKind(err, port.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := store.Put(ctx, port.LegacyManifestKey("alpha", "junk"), strings.NewReader(`{`), blob.PutOptions{}); err != nil {
		t.Fatalf("seed legacy manifest: %v", err)
	}
	if _, err := a.ImportLegacyManifest(ctx, "junk"); !port.IsKind(err, port.KindValidation) {
		t.Fatalf("expected validation error for malformed manifest, got %v", err)
	}
}

func TestAddFleetProvisionsAndRecords(t *testing.T) {
	ctx := context.Background()
	cloud := porttest.NewCloud()
	keys := &porttest.Keys{Fingerprint: "aa:bb"}
	a := newAuthority(t, "alpha", blob.NewMemory(), port.WithCloud(cloud), port.WithKeyResolver(keys), port.WithOcean("nyc3"))
	if _, err := a.Construct(ctx); err != nil {
		t.Fatalf("construct: %v", err)
	}
	report, err := a.AddFleet(ctx, "web", porttest.SampleFleet())
	if err != nil {
		t.Fatalf("add fleet: %v", err)
	}
	if report.CallSign != "alpha-web" || !report.PoolCreated || !report.LoadBalancerCreated {
		t.Fatalf("unexpected report %+v", report)
	}
	doc, _ := a.Load(ctx)
	fleet, ok := doc.Fleets["web"]
	if !ok || fleet.CallSign != "alpha-web" || fleet.Captain != port.LocalCaptain {
		t.Fatalf("fleet not recorded: %+v", doc.Fleets)
	}
	projectID := cloud.Projects[0].ID
	if got := cloud.Assigned[projectID]; !reflect.DeepEqual(got, []string{port.LoadBalancerURN(report.LoadBalancer.ID)}) {
		t.Fatalf("expected load balancer assigned to project, got %v", got)
	}

	again, err := a.AddFleet(ctx, "web", porttest.SampleFleet())
	if err != nil {
		t.Fatalf("second add fleet: %v", err)
	}
	if again.PoolCreated || again.LoadBalancerCreated {
		t.Fatalf("expected reuse, got %+v", again)
	}
	if pools, lbs := cloud.Count("alpha-web"); pools != 1 || lbs != 1 {
		t.Fatalf("expected one pool and one lb, got %d/%d", pools, lbs)
	}

	cloud.LoadBalancers = append(cloud.LoadBalancers, port.LoadBalancer{ID: "rogue", Name: "alpha-web"})
	if _, err := a.AddFleet(ctx, "web", porttest.SampleFleet()); !port.IsKind(err, port.KindAmbiguousState) {
		t.Fatalf("expected ambiguous state, got %v", err)
	}
}

func TestAddFleetFailsFastBeforeRemoteCalls(t *testing.T) {
	ctx := context.Background()
	cloud := porttest.NewCloud()
	a := newAuthority(t, "alpha", blob.NewMemory(), port.WithCloud(cloud))

	spec := porttest.SampleFleet()
	spec.ReinforcementStrategy = "disk:0.5"
	if _, err := a.AddFleet(ctx, "web", spec); !port.IsKind(err, port.KindParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
	spec = porttest.SampleFleet()
	spec.Gangways = nil
	if _, err := a.AddFleet(ctx, "web", spec); !port.IsKind(err, port.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := a.AddFleet(ctx, "web", porttest.SampleFleet()); !port.IsNotFound(err) {
		t.Fatalf("expected not found for unconstructed port, got %v", err)
	}
	if len(cloud.Projects)+len(cloud.Pools)+len(cloud.LoadBalancers) != 0 {
		t.Fatalf("remote calls made before validation")
	}
}

func TestAddFleetWithoutCloud(t *testing.T) {
	a := newAuthority(t, "alpha", blob.NewMemory())
	if _, err := a.AddFleet(context.Background(), "web", porttest.SampleFleet()); !port.IsKind(err, port.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddFleetProviderError(t *testing.T) {
	ctx := context.Background()
	cloud := porttest.NewCloud()
	a := newAuthority(t, "alpha", blob.NewMemory(), port.WithCloud(cloud), port.WithKeyResolver(&porttest.Keys{Fingerprint: "f"}))
	if _, err := a.Construct(ctx); err != nil {
		t.Fatalf("construct: %v", err)
	}
	boom := errors.New("rate limited")
	cloud.Failing = boom
	_, err := a.AddFleet(ctx, "web", porttest.SampleFleet())
	if !port.IsKind(err, port.KindProvider) || !errors.Is(err, boom) {
		t.Fatalf("expected provider error wrapping cause, got %v", err)
	}
	doc, _ := a.Load(ctx)
	if len(doc.Fleets) != 0 {
		t.Fatalf("fleet recorded despite provider failure")
	}
}

// racingStore lets another writer commit between an authority's read and write.
type racingStore struct {
	blob.Store
	onGet func()
}

func (s *racingStore) Get(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	info, rc, err := s.Store.Get(ctx, key)
	if s.onGet != nil {
		fn := s.onGet
		s.onGet = nil
		fn()
	}
	return info, rc, err
}

func TestOptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemory()
	other := newAuthority(t, "alpha", mem)
	if _, err := other.Construct(ctx); err != nil {
		t.Fatalf("construct: %v", err)
	}

	race := func() {
		if err := other.AddPier(ctx, "rival"); err != nil {
			t.Errorf("rival add pier: %v", err)
		}
	}

	careful := newAuthority(t, "alpha", &racingStore{Store: mem, onGet: race}, port.WithOptimisticConcurrency(true))
	if err := careful.AddPier(ctx, "mine"); !port.IsKind(err, port.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	careless := newAuthority(t, "alpha", &racingStore{Store: mem, onGet: func() {
		if err := other.AddPier(ctx, "late"); err != nil {
			t.Errorf("rival add pier: %v", err)
		}
	}})
	if err := careless.AddPier(ctx, "mine"); err != nil {
		t.Fatalf("last writer should win: %v", err)
	}
	doc, _ := other.Load(ctx)
	if _, ok := doc.Piers["late"]; ok {
		t.Fatalf("expected rival write to be overwritten, got %+v", doc.Piers)
	}
	if _, ok := doc.Piers["mine"]; !ok {
		t.Fatalf("expected own write persisted, got %+v", doc.Piers)
	}
}

func TestOptimisticConcurrencyOnSpaces(t *testing.T) {
	ctx := context.Background()
	spaces := blob.NewMockS3ForTests()
	other := newAuthority(t, "alpha", spaces)
	if _, err := other.Construct(ctx); err != nil {
		t.Fatalf("construct: %v", err)
	}
	head, err := spaces.Head(ctx, port.ConfigKey("alpha"))
	if err != nil || head.ETag == "" {
		t.Fatalf("expected an etag from the bucket, got %+v %v", head, err)
	}

	careful := newAuthority(t, "alpha", &racingStore{Store: spaces, onGet: func() {
		if err := other.AddPier(ctx, "rival"); err != nil {
			t.Errorf("rival add pier: %v", err)
		}
	}}, port.WithOptimisticConcurrency(true))
	if err := careful.AddPier(ctx, "mine"); !port.IsKind(err, port.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	doc, err := other.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := doc.Piers["rival"]; !ok {
		t.Fatalf("rival pier lost: %+v", doc.Piers)
	}
	if _, ok := doc.Piers["mine"]; ok {
		t.Fatalf("conflicting write persisted: %+v", doc.Piers)
	}
}

// etaglessStore drops ETags the way a hand-placed file in the port yard does.
type etaglessStore struct{ blob.Store }

func (s etaglessStore) Get(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	info, rc, err := s.Store.Get(ctx, key)
	info.ETag = ""
	return info, rc, err
}

func TestOptimisticWriteRequiresETag(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemory()
	if _, err := newAuthority(t, "alpha", mem).Construct(ctx); err != nil {
		t.Fatalf("construct: %v", err)
	}
	before := rawDocument(t, mem, "alpha")
	careful := newAuthority(t, "alpha", etaglessStore{Store: mem}, port.WithOptimisticConcurrency(true))
	if err := careful.AddPier(ctx, "mine"); !port.IsKind(err, port.KindStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if after := rawDocument(t, mem, "alpha"); !bytes.Equal(before, after) {
		t.Fatalf("document rewritten without a precondition: %s", after)
	}
	if err := newAuthority(t, "alpha", etaglessStore{Store: mem}).AddPier(ctx, "mine"); err != nil {
		t.Fatalf("last-writer-wins mode should not need an etag: %v", err)
	}
}

type failingStore struct {
	blob.Store
	err error
}

func (s failingStore) Get(context.Context, string) (blob.Info, io.ReadCloser, error) {
	return blob.Info{}, nil, s.err
}

func (s failingStore) Head(context.Context, string) (blob.Info, error) {
	return blob.Info{}, s.err
}

func TestStorageErrorsAreClassified(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")
	a := newAuthority(t, "alpha", failingStore{Store: blob.NewMemory(), err: boom})
	if _, err := a.Load(ctx); !port.IsKind(err, port.KindStorage) || !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if _, err := a.CargoExists(ctx, "id"); !port.IsKind(err, port.KindStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestNewAuthorityValidates(t *testing.T) {
	if _, err := port.NewAuthority("", blob.NewMemory()); !port.IsKind(err, port.KindValidation) {
		t.Fatalf("expected validation for empty name, got %v", err)
	}
	if _, err := port.NewAuthority("alpha", nil); !port.IsKind(err, port.KindValidation) {
		t.Fatalf("expected validation for nil store, got %v", err)
	}
}

type recordingLogbook struct{ entries []port.LogEntry }

func (r *recordingLogbook) Record(_ context.Context, e port.LogEntry) {
	r.entries = append(r.entries, e)
}

func TestOperationsAreObserved(t *testing.T) {
	ctx := context.Background()
	book := &recordingLogbook{}
	tracer := port.NewJSONTracer(nil)
	metrics := port.NewExpvarMetricsRecorder("")
	a := newAuthority(t, "alpha", blob.NewMemory(), port.WithLogbook(book), port.WithTracer(tracer), port.WithMetrics(metrics))

	if _, err := a.Construct(ctx); err != nil {
		t.Fatalf("construct: %v", err)
	}
	_ = a.AddPier(ctx, "web")
	_ = a.AddPier(ctx, "web")
	_, _ = a.Load(ctx)

	if len(book.entries) != 3 {
		t.Fatalf("expected three mutation entries, got %+v", book.entries)
	}
	last := book.entries[2]
	if last.Operation != "add pier" || last.Status != port.LogStatusError || last.Subject != "web" || last.Port != "alpha" {
		t.Fatalf("unexpected logbook entry %+v", last)
	}
	spans := tracer.Spans()
	if len(spans) != 4 {
		t.Fatalf("expected four spans, got %d", len(spans))
	}
	if spans[1].Subject != "web" || spans[1].TraceID != tracer.TraceID() {
		t.Fatalf("unexpected span %+v", spans[1])
	}
	snap := metrics.Snapshot()
	if snap["add pier"].Success != 1 || snap["add pier"].Error != 1 || snap["load"].Success != 1 {
		t.Fatalf("unexpected metrics %+v", snap)
	}
}
