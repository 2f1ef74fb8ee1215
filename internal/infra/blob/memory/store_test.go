package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"enfra/internal/blob/core"
)

const docKey = "ports/alpha/port_authority_config.json"

func TestStore_MissingKeys(t *testing.T) {
	st := New()
	ctx := context.Background()
	if _, err := st.Head(ctx, docKey); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected not found, got %v", err)
	}
	if _, _, err := st.Get(ctx, docKey); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected not found, got %v", err)
	}
	if ok, err := st.Delete(ctx, docKey); err != nil || ok {
		t.Fatalf("delete of missing key: ok=%v err=%v", ok, err)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	st := New()
	ctx := context.Background()
	if st.Driver() != core.DriverMemory {
		t.Fatalf("driver mismatch %s", st.Driver())
	}
	info, err := st.Put(ctx, docKey, strings.NewReader("{}"), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"port": "alpha"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	// md5("{}")
	if info.ETag != "99914b932bd37a50b983c5e7c90ae93b" || info.Size != 2 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := st.Put(ctx, docKey, strings.NewReader(`{"a":1}`), core.PutOptions{}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	head, err := st.Head(ctx, docKey)
	if err != nil || head.Size != 7 || head.Metadata != nil {
		t.Fatalf("head after overwrite: %+v %v", head, err)
	}
	_, rc, err := st.Get(ctx, docKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != `{"a":1}` {
		t.Fatalf("unexpected payload %q", b)
	}
	if ok, err := st.Delete(ctx, docKey); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if st.Len() != 0 {
		t.Fatalf("expected empty store, have %d", st.Len())
	}
	if _, err := st.PresignURL(ctx, docKey, core.PresignOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported presign, got %v", err)
	}
}

func TestStore_ListIsSortedAndPrefixed(t *testing.T) {
	st := New()
	ctx := context.Background()
	for _, k := range []string{"ports/beta/x", "ports/alpha/container_yard/2/cargo", "ports/alpha/container_yard/1/cargo"} {
		if _, err := st.Put(ctx, k, bytes.NewReader(nil), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	items, err := st.List(ctx, "ports/alpha/")
	if err != nil || len(items) != 2 {
		t.Fatalf("list: %v %+v", err, items)
	}
	if items[0].Key != "ports/alpha/container_yard/1/cargo" {
		t.Fatalf("unexpected order %+v", items)
	}
}

func TestStore_Preconditions(t *testing.T) {
	st := New()
	ctx := context.Background()
	first, err := st.Put(ctx, docKey, strings.NewReader("one"), core.PutOptions{IfNoneMatch: true})
	if err != nil {
		t.Fatalf("create-only: %v", err)
	}
	cases := []struct {
		name string
		key  string
		opts core.PutOptions
	}{
		{"create-only on existing", docKey, core.PutOptions{IfNoneMatch: true}},
		{"if-match on absent key", "ports/alpha/other.json", core.PutOptions{IfMatch: first.ETag}},
	}
	for _, tc := range cases {
		if _, err := st.Put(ctx, tc.key, strings.NewReader("x"), tc.opts); !errors.Is(err, core.ErrPreconditionFailed) {
			t.Fatalf("%s: expected precondition failure, got %v", tc.name, err)
		}
	}
	if _, err := st.Put(ctx, docKey, strings.NewReader("two"), core.PutOptions{IfMatch: first.ETag}); err != nil {
		t.Fatalf("if-match: %v", err)
	}
	if _, err := st.Put(ctx, docKey, strings.NewReader("three"), core.PutOptions{IfMatch: first.ETag}); !errors.Is(err, core.ErrPreconditionFailed) {
		t.Fatalf("expected stale etag failure, got %v", err)
	}
}

func TestStore_RejectsInvalidKeys(t *testing.T) {
	st := New()
	for _, key := range []string{"", "/abs", "ports//alpha", "ports/../x", "trailing/", `win\path`} {
		if _, err := st.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("key %q: expected invalid key, got %v", key, err)
		}
	}
}

func TestStore_CopiesAreIsolated(t *testing.T) {
	st := New()
	st.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	md := map[string]string{"a": "1"}
	if _, err := st.Put(context.Background(), "k", bytes.NewReader(nil), core.PutOptions{Metadata: md}); err != nil {
		t.Fatalf("put: %v", err)
	}
	md["a"] = "2"
	h, _ := st.Head(context.Background(), "k")
	if h.Metadata["a"] != "1" || !h.LastModified.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected head %+v", h)
	}
	h.Metadata["a"] = "3"
	again, _ := st.Head(context.Background(), "k")
	if again.Metadata["a"] != "1" {
		t.Fatalf("head leaked internal metadata map")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestStore_ReadAndContextErrors(t *testing.T) {
	st := New()
	if _, err := st.Put(context.Background(), "bad", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := st.Put(ctx, "k", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, err := st.List(ctx, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation from list, got %v", err)
	}
	if st.Len() != 0 {
		t.Fatalf("failed puts must not store anything")
	}
}
