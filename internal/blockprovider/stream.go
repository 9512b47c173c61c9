package blockprovider

import (
	"context"
	"fmt"

	"github.com/eutxo/indexer/internal/chainadapter"
	"github.com/eutxo/indexer/internal/chainclient"
	"github.com/eutxo/indexer/internal/model"
)

// IntersectResolver returns the hashes (most recent first) a
// StreamProvider should ask the node to intersect with when starting
// chain-sync from fromHeight. internal/indexer supplies this from its
// own persisted header chain — blockprovider has no storage access of
// its own.
type IntersectResolver func(ctx context.Context, fromHeight model.BlockHeight) ([]string, error)

// StreamProvider drives a push-based chainclient.StreamClient (Cardano):
// there is no polling loop or fetch concurrency to bound, since the node
// pushes one message at a time over the single chain-sync connection —
// decode is the only step this adds, and it runs inline so back-pressure
// from a slow consumer naturally throttles how far ahead the connection
// gets.
type StreamProvider struct {
	Client    chainclient.StreamClient
	Adapter   chainadapter.Adapter
	Intersect IntersectResolver
}

func NewStreamProvider(client chainclient.StreamClient, adapter chainadapter.Adapter, intersect IntersectResolver) *StreamProvider {
	return &StreamProvider{Client: client, Adapter: adapter, Intersect: intersect}
}

func (p *StreamProvider) Run(ctx context.Context, fromHeight model.BlockHeight, out chan<- Event) error {
	defer close(out)

	points, err := p.Intersect(ctx, fromHeight)
	if err != nil {
		return p.emitErr(ctx, out, fmt.Errorf("resolve intersect points: %w", err))
	}

	err = p.Client.Start(ctx, points, func(ev chainclient.StreamEvent) error {
		if ev.RollbackToId != "" {
			select {
			case out <- Event{RollbackToId: ev.RollbackToId}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		blk, err := p.Adapter.Decode(ctx, ev.Block)
		if err != nil {
			return fmt.Errorf("decode stream block: %w", err)
		}
		select {
		case out <- Event{Block: &blk}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return p.emitErr(ctx, out, err)
	}
	return nil
}

func (p *StreamProvider) emitErr(ctx context.Context, out chan<- Event, err error) error {
	select {
	case out <- Event{Err: err}:
	case <-ctx.Done():
	}
	return err
}
