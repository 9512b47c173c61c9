package indexer

import (
	"context"
	"fmt"

	"github.com/eutxo/indexer/internal/apperr"
	"github.com/eutxo/indexer/internal/chainadapter"
	"github.com/eutxo/indexer/internal/chainclient"
	"github.com/eutxo/indexer/internal/codec"
	"github.com/eutxo/indexer/internal/model"
	"github.com/eutxo/indexer/internal/store"
)

// ForkResolver is the Go translation of Indexer::chain_link in
// original_source/backend/src/indexer.rs, unrolled into a loop instead of
// recursion so an unusually deep reorg can't blow the goroutine stack.
// It only applies to pull-based chains (Bitcoin, Ergo): given a freshly
// decoded block, it walks backward through prev_hash until it reaches
// either genesis or a header the store already recognizes as the
// immediate parent, downloading any missing ancestors from the node
// along the way, and returns the full replacement segment oldest-first.
type ForkResolver struct {
	store   *store.Store
	client  chainclient.Client
	adapter chainadapter.Adapter
}

func NewForkResolver(s *store.Store, client chainclient.Client, adapter chainadapter.Adapter) *ForkResolver {
	return &ForkResolver{store: s, client: client, adapter: adapter}
}

// ChainLink returns the ordered (oldest-first) segment of blocks that must
// be persisted for block to become part of the canonical chain: just
// block itself when its parent is already the current tip, or block plus
// every ancestor back to the last common one when a fork is detected.
func (f *ForkResolver) ChainLink(ctx context.Context, block model.Block) ([]model.Block, error) {
	winningFork := []model.Block{block}
	current := block

	for {
		if current.Header.Height == 1 {
			return winningFork, nil
		}

		prevHeaderBytes, found, err := f.store.GetHeaderBytesByHash(current.Header.PrevHash[:])
		if err != nil {
			return nil, fmt.Errorf("lookup header by hash: %w", err)
		}

		if found {
			prevHeader, err := codec.DecodeHeader(prevHeaderBytes)
			if err != nil {
				return nil, fmt.Errorf("decode stored header: %w", err)
			}
			if prevHeader.Height == current.Header.Height-1 {
				return winningFork, nil
			}
			return nil, &apperr.ForkStateError{Msg: fmt.Sprintf(
				"inconsistent chain state: stored header for hash %x has height %d, expected %d",
				current.Header.PrevHash, prevHeader.Height, current.Header.Height-1)}
		}

		// Parent unknown: a fork. Fetch the exact block the child claims as
		// its parent by hash (not by height — the node must be asked for
		// this precise identity, matching spec.md §4.8's
		// block_provider.get_by_header(prev_header) step) and keep
		// walking back.
		raw, err := f.client.BlockByHash(ctx, current.Header.PrevHash)
		if err != nil {
			return nil, fmt.Errorf("fetch parent block %x: %w", current.Header.PrevHash, err)
		}
		parent, err := f.adapter.Decode(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("decode parent block %x: %w", current.Header.PrevHash, err)
		}
		if parent.Header.Hash != current.Header.PrevHash {
			return nil, &apperr.ForkStateError{Msg: fmt.Sprintf(
				"node returned block %x for claimed parent %x", parent.Header.Hash, current.Header.PrevHash)}
		}
		if parent.Header.Height != current.Header.Height-1 {
			return nil, &apperr.ForkStateError{Msg: fmt.Sprintf(
				"parent block %x has height %d, expected %d", parent.Header.Hash, parent.Header.Height, current.Header.Height-1)}
		}

		winningFork = append([]model.Block{parent}, winningFork...)
		current = parent
	}
}
