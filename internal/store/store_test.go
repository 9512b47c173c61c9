package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/eutxo/indexer/internal/schema"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	sch, err := schema.LoadOrdered(writeTestSchema(t))
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	s, err := Open(t.TempDir(), SpecsFromSchema(sch))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeTestSchema(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	const content = `
one_to_many_index:
  - name: ADDRESS
    enabled: true
one_to_one_index:
  - name: BOX_ID
    enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	return path
}

func TestStorePrefixIsolation(t *testing.T) {
	s := openTestStore(t)

	b := s.NewIndexedBatch()
	if err := s.Shared.Meta.SetBatch(b, []byte("k"), []byte("meta-value")); err != nil {
		t.Fatalf("SetBatch meta: %v", err)
	}
	if err := s.Shared.TxHashByPk.SetBatch(b, []byte("k"), []byte("tx-value")); err != nil {
		t.Fatalf("SetBatch tx: %v", err)
	}
	if err := b.Commit(nil); err != nil {
		t.Fatalf("commit: %v", err)
	}

	metaV, err := s.Shared.Meta.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get meta: %v", err)
	}
	txV, err := s.Shared.TxHashByPk.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get tx: %v", err)
	}
	if bytes.Equal(metaV, txV) {
		t.Fatalf("same raw key in two CFs collided: meta=%q tx=%q", metaV, txV)
	}
	if string(metaV) != "meta-value" || string(txV) != "tx-value" {
		t.Fatalf("got meta=%q tx=%q", metaV, txV)
	}
}

func TestBatchReadYourWrites(t *testing.T) {
	s := openTestStore(t)
	b := s.NewIndexedBatch()
	defer b.Close()

	if err := s.Shared.Meta.SetBatch(b, []byte("pending"), []byte("v1")); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}

	// Not yet committed: a direct Get must not see it.
	if v, err := s.Shared.Meta.Get([]byte("pending")); err != nil || v != nil {
		t.Fatalf("expected uncommitted write invisible to Get, got v=%q err=%v", v, err)
	}

	// But GetFrom against the batch itself must see it.
	v, err := s.Shared.Meta.GetFrom(b, []byte("pending"))
	if err != nil {
		t.Fatalf("GetFrom: %v", err)
	}
	if string(v) != "v1" {
		t.Fatalf("GetFrom = %q, want v1", v)
	}

	if err := b.Commit(nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if v, err := s.Shared.Meta.Get([]byte("pending")); err != nil || string(v) != "v1" {
		t.Fatalf("after commit Get = %q, err=%v", v, err)
	}
}

func TestGetMissingKeyReturnsNilNotError(t *testing.T) {
	s := openTestStore(t)
	v, err := s.Shared.Meta.Get([]byte("absent"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil for a missing key, got %q", v)
	}
}

func TestLastHeaderRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if _, found, err := s.GetLastHeader(); err != nil || found {
		t.Fatalf("expected no last header on an empty store, found=%v err=%v", found, err)
	}

	b := s.NewIndexedBatch()
	if err := s.Shared.Meta.SetBatch(b, []byte(MetaLastHeaderKey), []byte("header-bytes")); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}
	if err := b.Commit(nil); err != nil {
		t.Fatalf("commit: %v", err)
	}

	raw, found, err := s.GetLastHeader()
	if err != nil || !found {
		t.Fatalf("expected a last header, found=%v err=%v", found, err)
	}
	if string(raw) != "header-bytes" {
		t.Fatalf("GetLastHeader = %q", raw)
	}
}
