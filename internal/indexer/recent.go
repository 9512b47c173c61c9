package indexer

import "github.com/eutxo/indexer/internal/model"

// recentWindow is how many of the most recently persisted blocks stay
// available in memory for fork resolution to undo, mirroring
// BlockWriteService's own block_by_hash_cache LRU in the original
// implementation (bounded at 1_000 entries there) rather than
// reconstructing arbitrarily old blocks from storage. A reorg deeper than
// this window is not something any of the three target chains produce in
// practice once a handful of confirmations have passed.
const recentWindow = 2000

// recentBlocks holds the last few persisted blocks keyed by height,
// evicting heights in the order they were first added, so fork resolution can find out
// whether — and with what content — a given height was already persisted
// without re-reading it back out of the store.
type recentBlocks struct {
	byHeight map[model.BlockHeight]model.Block
	order    []model.BlockHeight
}

func newRecentBlocks() *recentBlocks {
	return &recentBlocks{byHeight: make(map[model.BlockHeight]model.Block)}
}

func (r *recentBlocks) add(b model.Block) {
	if _, exists := r.byHeight[b.Header.Height]; !exists {
		r.order = append(r.order, b.Header.Height)
	}
	r.byHeight[b.Header.Height] = b
	for len(r.order) > recentWindow {
		delete(r.byHeight, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *recentBlocks) byHeightLookup(h model.BlockHeight) (model.Block, bool) {
	b, ok := r.byHeight[h]
	return b, ok
}
