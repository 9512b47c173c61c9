package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/eutxo/indexer/internal/chainclient"
	"github.com/eutxo/indexer/internal/codec"
	"github.com/eutxo/indexer/internal/model"
	"github.com/eutxo/indexer/internal/schema"
	"github.com/eutxo/indexer/internal/store"
	"github.com/eutxo/indexer/internal/writeengine"
)

// fakeAdapter treats RawBlock as an already-decoded model.Block, so tests
// can hand ChainLink/ApplyBatch model.Block values directly without a
// real wire-format round trip.
type fakeAdapter struct{}

func (fakeAdapter) Decode(_ context.Context, raw chainclient.RawBlock) (model.Block, error) {
	b, ok := raw.(model.Block)
	if !ok {
		return model.Block{}, fmt.Errorf("fakeAdapter: unexpected raw type %T", raw)
	}
	return b, nil
}

// fakeClient serves blocks from an in-memory byHash map, exactly what
// ForkResolver.ChainLink needs to fetch ancestors by claimed identity.
type fakeClient struct {
	byHash map[model.BlockHash]model.Block
}

func newFakeClient() *fakeClient {
	return &fakeClient{byHash: make(map[model.BlockHash]model.Block)}
}

func (c *fakeClient) add(b model.Block) {
	c.byHash[b.Header.Hash] = b
}

func (c *fakeClient) TipHeight(context.Context) (uint64, error) { return 0, nil }

func (c *fakeClient) BlockByHeight(context.Context, uint64) (chainclient.RawBlock, error) {
	return nil, fmt.Errorf("fakeClient: BlockByHeight not used by ChainLink")
}

func (c *fakeClient) BlockByHash(_ context.Context, hash [32]byte) (chainclient.RawBlock, error) {
	b, ok := c.byHash[model.BlockHash(hash)]
	if !ok {
		return nil, fmt.Errorf("fakeClient: no block with hash %x", hash)
	}
	return b, nil
}

func (c *fakeClient) Close() error { return nil }

func openTestIndexerEngine(t *testing.T) (*Engine, *store.Store, *fakeClient) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	const content = `
one_to_many_index:
  - name: ADDRESS
    enabled: true
one_to_one_index: []
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	sch, err := schema.LoadOrdered(path)
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	s, err := store.Open(t.TempDir(), store.SpecsFromSchema(sch))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	we := writeengine.New(s, sch)
	client := newFakeClient()
	resolver := NewForkResolver(s, client, fakeAdapter{})
	return New(s, we, resolver), s, client
}

func chainBlock(height model.BlockHeight, hashByte byte, prevHashByte byte) model.Block {
	var hash, prev model.BlockHash
	hash[0] = hashByte
	prev[0] = prevHashByte
	return model.Block{
		Header: model.Header{Height: height, Hash: hash, PrevHash: prev, Time: model.BlockTimestamp(height)},
		Txs: []model.Tx{{
			Hash:    model.TxHash{hashByte, 0xAA},
			Outputs: []model.Utxo{{Index: 0, Value: uint64(height) * 1000}},
		}},
	}
}

// Covers spec.md's S4 scenario: a single-height fork at the tip. The
// already-persisted block at height 3 is replaced by a different block
// claiming the same parent, and ChainLink returns just that one
// replacement block since its parent is already the recognized tip.
func TestForkSingleHeightReplacement(t *testing.T) {
	e, s, _ := openTestIndexerEngine(t)

	b1 := chainBlock(1, 1, 0)
	b2 := chainBlock(2, 2, 1)
	b3Old := chainBlock(3, 3, 2)
	if err := e.ApplyBatch(context.Background(), []model.Block{b1, b2, b3Old}, 3); err != nil {
		t.Fatalf("ApplyBatch initial chain: %v", err)
	}

	b3New := chainBlock(3, 0xF3, 2) // same parent (height 2, hash=2), different own hash
	if err := e.ApplyBatch(context.Background(), []model.Block{b3New}, 3); err != nil {
		t.Fatalf("ApplyBatch fork: %v", err)
	}

	heightBytes := codec.EncodeHeightPrefix(3)
	hash, found, err := s.GetHashByHeight(heightBytes[:])
	if err != nil || !found {
		t.Fatalf("GetHashByHeight(3): found=%v err=%v", found, err)
	}
	if hash[0] != 0xF3 {
		t.Fatalf("height 3 hash = %x, want the winning fork's hash", hash)
	}

	// The old block's hash must no longer resolve to a header.
	if _, found, err := s.GetHeaderBytesByHash(b3Old.Header.Hash[:]); err != nil || found {
		t.Fatalf("expected the superseded block's header to be gone, found=%v err=%v", found, err)
	}
}

// Covers spec.md's S5 scenario: a two-height fork. Heights 2 and 3 both
// get replaced by a competing branch that diverges one block earlier than
// the single-height case, exercising ChainLink's backward walk through an
// unrecognized parent before it finds the common ancestor (height 1).
func TestForkTwoHeightReplacement(t *testing.T) {
	e, s, client := openTestIndexerEngine(t)

	b1 := chainBlock(1, 1, 0)
	b2Old := chainBlock(2, 2, 1)
	b3Old := chainBlock(3, 3, 2)
	if err := e.ApplyBatch(context.Background(), []model.Block{b1, b2Old, b3Old}, 3); err != nil {
		t.Fatalf("ApplyBatch initial chain: %v", err)
	}

	// The winning fork's height-2 block is not itself in the batch handed
	// to ApplyBatch below — ChainLink must discover it by walking back
	// through the client, exactly like an unsolicited height-3 block
	// whose parent the store has never seen.
	b2New := chainBlock(2, 0xF2, 1)
	client.add(b2New)

	b3New := chainBlock(3, 0xF3, 0xF2)
	if err := e.ApplyBatch(context.Background(), []model.Block{b3New}, 3); err != nil {
		t.Fatalf("ApplyBatch fork: %v", err)
	}

	for _, tc := range []struct {
		height     model.BlockHeight
		wantHash   byte
		staleBlock model.Block
	}{
		{2, 0xF2, b2Old},
		{3, 0xF3, b3Old},
	} {
		heightBytes := codec.EncodeHeightPrefix(tc.height)
		hash, found, err := s.GetHashByHeight(heightBytes[:])
		if err != nil || !found {
			t.Fatalf("GetHashByHeight(%d): found=%v err=%v", tc.height, found, err)
		}
		if hash[0] != tc.wantHash {
			t.Fatalf("height %d hash = %x, want %x", tc.height, hash[0], tc.wantHash)
		}
		if _, found, err := s.GetHeaderBytesByHash(tc.staleBlock.Header.Hash[:]); err != nil || found {
			t.Fatalf("expected superseded height %d header gone, found=%v err=%v", tc.height, found, err)
		}
	}

	// Height 1 (the common ancestor) must be untouched.
	heightBytes := codec.EncodeHeightPrefix(1)
	hash, found, err := s.GetHashByHeight(heightBytes[:])
	if err != nil || !found || hash[0] != 1 {
		t.Fatalf("common ancestor at height 1 should survive unchanged: hash=%x found=%v err=%v", hash, found, err)
	}
}

// Invariant 8: ForkResolver verifies a fetched ancestor's identity before
// accepting it — a node handing back a block with a different hash than
// the one claimed as the parent must fail loudly rather than silently
// splicing in the wrong ancestor.
func TestChainLinkRejectsMismatchedAncestorHash(t *testing.T) {
	_, s, client := openTestIndexerEngine(t)
	resolver := NewForkResolver(s, client, fakeAdapter{})

	// The orphan claims a parent hash the store has never seen, forcing
	// ChainLink to ask the client for it.
	var claimedParentHash model.BlockHash
	claimedParentHash[0] = 0xAB
	orphan := model.Block{Header: model.Header{Height: 2, Hash: model.BlockHash{2}, PrevHash: claimedParentHash}}

	// The client misbehaves: asked for hash 0xAB, it returns a block whose
	// own decoded hash is actually 0xCC.
	impostor := chainBlock(1, 0xCC, 0)
	client.byHash[claimedParentHash] = impostor

	if _, err := resolver.ChainLink(context.Background(), orphan); err == nil {
		t.Fatalf("expected ChainLink to reject an ancestor whose hash doesn't match the claimed parent")
	}
}
