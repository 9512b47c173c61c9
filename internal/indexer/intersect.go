package indexer

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/eutxo/indexer/internal/chainadapter"
	"github.com/eutxo/indexer/internal/codec"
	"github.com/eutxo/indexer/internal/model"
)

// HeightForHash returns the height a given block hash was persisted at,
// for translating a Cardano chain-sync RollBackward point into the height
// Rollback needs.
func (e *Engine) HeightForHash(hash model.BlockHash) (model.BlockHeight, bool, error) {
	raw, found, err := e.store.GetHeaderBytesByHash(hash[:])
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}
	h, err := codec.DecodeHeader(raw)
	if err != nil {
		return 0, false, err
	}
	return h.Height, true, nil
}

// IntersectPoints implements blockprovider.IntersectResolver for Cardano:
// the node needs a point (slot + hash) to find where its chain-sync
// should resume from. We hand back the last persisted point alone,
// encoded as "slot:hash" (chainclient.CardanoClient.Start decodes it into
// a common.Point) — the node fails the intersect only if that exact point
// is no longer on its chain, which would mean a reorg deeper than any
// client keeps around.
func (e *Engine) IntersectPoints(_ context.Context, _ model.BlockHeight) ([]string, error) {
	raw, found, err := e.store.GetLastHeader()
	if err != nil {
		return nil, fmt.Errorf("read last header: %w", err)
	}
	if !found {
		return nil, nil
	}
	h, err := codec.DecodeHeader(raw)
	if err != nil {
		return nil, err
	}
	slot := chainadapter.UnixToSlot(h.Time)
	return []string{fmt.Sprintf("%d:%s", slot, hex.EncodeToString(h.Hash[:]))}, nil
}
