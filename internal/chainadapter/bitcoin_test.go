package chainadapter

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/eutxo/indexer/internal/schema"
)

func coinbaseBlock(sig []byte) *wire.MsgBlock {
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  sig,
	})
	block := wire.NewMsgBlock(&wire.BlockHeader{})
	block.AddTransaction(coinbase)
	return block
}

func TestBip34HeightDecodesMinimalPush(t *testing.T) {
	// push length 3, little-endian height 500000 (0x07A120)
	sig := []byte{0x03, 0x20, 0xA1, 0x07}
	got, err := bip34Height(coinbaseBlock(sig))
	if err != nil {
		t.Fatalf("bip34Height: %v", err)
	}
	if got != 500000 {
		t.Fatalf("height = %d, want 500000", got)
	}
}

func TestBip34HeightSingleByte(t *testing.T) {
	sig := []byte{0x01, 0x01}
	got, err := bip34Height(coinbaseBlock(sig))
	if err != nil {
		t.Fatalf("bip34Height: %v", err)
	}
	if got != 1 {
		t.Fatalf("height = %d, want 1", got)
	}
}

func TestBip34HeightRejectsEmptyScript(t *testing.T) {
	if _, err := bip34Height(coinbaseBlock(nil)); err == nil {
		t.Fatalf("expected an error for an empty coinbase signature script")
	}
}

func TestBip34HeightRejectsNoCoinbase(t *testing.T) {
	block := wire.NewMsgBlock(&wire.BlockHeader{})
	if _, err := bip34Height(block); err == nil {
		t.Fatalf("expected an error for a block with no transactions")
	}
}

func TestBip34HeightRejectsOversizedPush(t *testing.T) {
	sig := []byte{0x09, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if _, err := bip34Height(coinbaseBlock(sig)); err == nil {
		t.Fatalf("expected an error for a push length over 8 bytes")
	}
}

// genesis-height fallback client: the real Bitcoin genesis block predates
// BIP34 and carries no coinbase height push at all, so Decode must fall
// back to a by-hash lookup for it.
type fakeHeightLookup struct{ height uint64 }

func (f *fakeHeightLookup) BlockHeightByHash(_ context.Context, _ [32]byte) (uint64, error) {
	return f.height, nil
}

// Covers spec.md's S1 scenario: decoding the real Bitcoin genesis block
// reproduces its well-known hash, and the missing BIP34 push falls back
// to the configured height-lookup client instead of failing outright.
func TestDecodeGenesisBlock(t *testing.T) {
	merkleRoot, err := chainhash.NewHashFromStr("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b")
	if err != nil {
		t.Fatalf("parse merkle root: %v", err)
	}
	header := &wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: *merkleRoot,
		Timestamp:  time.Unix(1231006505, 0),
		Bits:       0x1d00ffff,
		Nonce:      2083236893,
	}
	block := wire.NewMsgBlock(header)
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex}})
	block.AddTransaction(coinbase)

	adapter := NewBitcoinAdapter(&schema.Schema{}, &fakeHeightLookup{height: 0})
	got, err := adapter.Decode(context.Background(), block)
	if err != nil {
		t.Fatalf("Decode genesis block: %v", err)
	}
	if got.Header.Height != 0 {
		t.Fatalf("height = %d, want 0 (from fallback lookup)", got.Header.Height)
	}
	if gotHash := chainhash.Hash(got.Header.Hash).String(); gotHash != "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f" {
		t.Fatalf("genesis hash = %s, want 000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f", gotHash)
	}
}

func TestDecodeFallsBackToClientWhenBip34Missing(t *testing.T) {
	block := coinbaseBlock(nil) // no header set, empty coinbase script
	adapter := NewBitcoinAdapter(&schema.Schema{}, &fakeHeightLookup{height: 700000})
	got, err := adapter.Decode(context.Background(), block)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Header.Height != 700000 {
		t.Fatalf("height = %d, want 700000 from fallback", got.Header.Height)
	}
}

func TestDecodeReturnsErrorWhenBip34MissingAndNoFallbackClient(t *testing.T) {
	block := coinbaseBlock(nil)
	adapter := NewBitcoinAdapter(&schema.Schema{}, nil)
	if _, err := adapter.Decode(context.Background(), block); err == nil {
		t.Fatalf("expected an error when bip34 fails and no fallback client is configured")
	}
}
