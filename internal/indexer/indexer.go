// Package indexer owns the decision of what a stream of decoded blocks
// means for the persisted chain state: straightforward forward
// extension most of the time, fork resolution near the tip, and
// (Cardano only) an explicit rollback event from the node's own
// chain-sync protocol. internal/writeengine does the actual row
// mutation; this package decides which blocks to hand it and in what
// order.
package indexer

import (
	"context"
	"fmt"
	"log"

	"github.com/eutxo/indexer/internal/codec"
	"github.com/eutxo/indexer/internal/model"
	"github.com/eutxo/indexer/internal/store"
	"github.com/eutxo/indexer/internal/writeengine"
)

// chainLinkWindow is how close to the chain tip a block has to be before
// ForkResolver gets involved, mirroring ChainSyncer::sync's own
// `curr_block.header.id.0 + 100 > chain_tip_header.id.0` guard: bulk
// historical sync far behind the tip is assumed canonical (the node
// itself won't hand out orphaned blocks for heights long settled), so
// skipping the chain-link check there is a pure throughput win, not a
// correctness gap.
const chainLinkWindow = 100

type Engine struct {
	store    *store.Store
	write    *writeengine.Engine
	resolver *ForkResolver // nil for stream-based chains (Cardano): no chain_link needed
	recent   *recentBlocks
}

func New(s *store.Store, write *writeengine.Engine, resolver *ForkResolver) *Engine {
	return &Engine{store: s, write: write, resolver: resolver, recent: newRecentBlocks()}
}

// LastHeight returns the height of the last persisted block, or 0 if the
// store is empty.
func (e *Engine) LastHeight() (model.BlockHeight, error) {
	raw, found, err := e.store.GetLastHeader()
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	h, err := codec.DecodeHeader(raw)
	if err != nil {
		return 0, err
	}
	return h.Height, nil
}

// ApplyBatch persists a batch of blocks fetched in height order. tipHeight
// is the chain's current best height as last observed, used only to
// decide whether fork resolution is worth the extra lookups for this
// batch.
func (e *Engine) ApplyBatch(ctx context.Context, blocks []model.Block, tipHeight uint64) error {
	if len(blocks) == 0 {
		return nil
	}

	if e.resolver == nil {
		if err := e.write.Persist(blocks); err != nil {
			return err
		}
		for _, b := range blocks {
			e.recent.add(b)
		}
		return nil
	}

	for _, block := range blocks {
		nearTip := uint64(block.Header.Height)+chainLinkWindow > tipHeight
		if !nearTip {
			if err := e.write.Persist([]model.Block{block}); err != nil {
				return fmt.Errorf("persist block %d: %w", block.Header.Height, err)
			}
			e.recent.add(block)
			continue
		}

		linked, err := e.resolver.ChainLink(ctx, block)
		if err != nil {
			return fmt.Errorf("chain link block %d: %w", block.Header.Height, err)
		}

		// A single linked block still replaces a different block already
		// persisted at its height (a one-block fork on a known parent).
		old, seen := e.recent.byHeightLookup(block.Header.Height)
		if len(linked) == 1 && (!seen || old.Header.Hash == block.Header.Hash) {
			if err := e.write.Persist(linked); err != nil {
				return fmt.Errorf("persist block %d: %w", block.Header.Height, err)
			}
			e.recent.add(linked[0])
			continue
		}

		log.Printf("[indexer] fork detected at height %d, replacing %d block(s)", block.Header.Height, len(linked))
		if err := e.replaceFork(linked); err != nil {
			return err
		}
	}
	return nil
}

// replaceFork is update_blocks: for every height the new fork occupies
// that was already persisted with a different hash, remove the old block
// first (from the recent-blocks window — see recent.go), then persist the
// new fork in full.
func (e *Engine) replaceFork(linked []model.Block) error {
	var toRemove []model.Block
	for _, nb := range linked {
		if old, ok := e.recent.byHeightLookup(nb.Header.Height); ok && old.Header.Hash != nb.Header.Hash {
			toRemove = append(toRemove, old)
		}
	}

	if len(toRemove) > 0 {
		for i, j := 0, len(toRemove)-1; i < j; i, j = i+1, j-1 {
			toRemove[i], toRemove[j] = toRemove[j], toRemove[i]
		}
		// Remove's own last-header write is immediately superseded by the
		// Persist call below, so the intermediate value passed here never
		// becomes visible to a reader.
		if err := e.write.Remove(toRemove, nil); err != nil {
			return fmt.Errorf("remove superseded fork blocks: %w", err)
		}
	}

	if err := e.write.Persist(linked); err != nil {
		return fmt.Errorf("persist winning fork: %w", err)
	}
	for _, b := range linked {
		e.recent.add(b)
	}
	return nil
}

// Rollback undoes every recently-persisted block above toHeight, keeping
// the block at toHeight itself, for stream-based chains (Cardano) whose
// node pushes an explicit rollback message instead of this indexer having
// to detect a fork itself. Only blocks still within the recent-blocks
// window can be undone this way; see recent.go.
func (e *Engine) Rollback(toHeight model.BlockHeight) error {
	last, err := e.LastHeight()
	if err != nil {
		return err
	}
	if toHeight >= last {
		return nil
	}

	var toRemove []model.Block
	for h := last; h > toHeight; h-- {
		b, ok := e.recent.byHeightLookup(h)
		if !ok {
			return fmt.Errorf("rollback target height %d is outside the retained window (oldest retained block missing at height %d)", toHeight, h)
		}
		toRemove = append(toRemove, b)
	}

	var newLast *model.Header
	if kept, ok := e.recent.byHeightLookup(toHeight); ok {
		newLast = &kept.Header
	}
	return e.write.Remove(toRemove, newLast)
}
