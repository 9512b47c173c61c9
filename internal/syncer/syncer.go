// Package syncer is the Go translation of ChainSyncer
// (original_source/backend/src/syncer.rs): it drains a blockprovider.Provider's
// event stream, batches blocks until their summed weight (inputs + outputs
// + assets) reaches MinBatchSize before handing them to
// the indexer (so a single WriteEngine.Persist call covers many blocks
// during bulk historical sync, and exactly one during steady-state
// tip-following), and reports progress through a monitor.Monitor.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/eutxo/indexer/internal/blockprovider"
	"github.com/eutxo/indexer/internal/indexer"
	"github.com/eutxo/indexer/internal/model"
	"github.com/eutxo/indexer/internal/monitor"
)

// flushInterval caps how long a partial batch waits for more blocks to
// arrive before being persisted anyway — needed so tip-following (one
// block at a time, well under MinBatchSize) doesn't stall indefinitely.
const flushInterval = 2 * time.Second

type ChainSyncer struct {
	Provider   blockprovider.Provider
	Engine     *indexer.Engine
	Monitor    *monitor.Monitor
	MinBatchSize int
	TipHeight  func(ctx context.Context) (uint64, error)
}

// Sync runs until ctx is cancelled or the provider returns a terminal
// error, or until the provider finishes (a pull provider does so once it
// has caught up with the tip), in which case it returns nil.
func (s *ChainSyncer) Sync(ctx context.Context) error {
	last, err := s.Engine.LastHeight()
	if err != nil {
		return fmt.Errorf("read last height: %w", err)
	}

	events := make(chan blockprovider.Event, 256)
	providerErrCh := make(chan error, 1)
	go func() {
		providerErrCh <- s.Provider.Run(ctx, last, events)
	}()

	batch := make([]model.Block, 0, s.minBatchSize())
	batchWeight := 0
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		tip, err := s.currentTip(ctx)
		if err != nil {
			return err
		}
		if err := s.Engine.ApplyBatch(ctx, batch, tip); err != nil {
			return fmt.Errorf("apply batch: %w", err)
		}
		last := batch[len(batch)-1].Header
		s.Monitor.SetTip(tip)
		s.Monitor.Observe(last.Height, len(batch))
		batch = batch[:0]
		batchWeight = 0
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = flush()
			return ctx.Err()

		case err := <-providerErrCh:
			if ferr := flush(); ferr != nil {
				return ferr
			}
			return err

		case ev, ok := <-events:
			if !ok {
				return flush()
			}
			if ev.Err != nil {
				_ = flush()
				return ev.Err
			}
			if ev.RollbackToId != "" {
				if err := flush(); err != nil {
					return err
				}
				if err := s.handleRollback(ev.RollbackToId); err != nil {
					return err
				}
				continue
			}
			if ev.Block != nil {
				batch = append(batch, *ev.Block)
				for _, tx := range ev.Block.Txs {
					batchWeight += len(tx.Inputs) + len(tx.Outputs)
					for _, u := range tx.Outputs {
						batchWeight += len(u.Assets)
					}
				}
				if batchWeight >= s.minBatchSize() {
					if err := flush(); err != nil {
						return err
					}
				}
			}

		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

func (s *ChainSyncer) handleRollback(toHash string) error {
	hash, err := parseHash(toHash)
	if err != nil {
		return fmt.Errorf("rollback point: %w", err)
	}
	height, found, err := s.Engine.HeightForHash(hash)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("rollback target %s not found in retained window", toHash)
	}
	return s.Engine.Rollback(height)
}

func (s *ChainSyncer) currentTip(ctx context.Context) (uint64, error) {
	if s.TipHeight == nil {
		return 0, nil
	}
	return s.TipHeight(ctx)
}

func (s *ChainSyncer) minBatchSize() int {
	if s.MinBatchSize > 0 {
		return s.MinBatchSize
	}
	return 1000
}
