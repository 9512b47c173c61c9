// Package blockprovider turns a chainclient connection into an ordered
// stream of decoded model.Block values, overlapping network fetch with
// adapter decode the way runner.PRunner overlaps block-read with
// block-parse: a bounded pool of workers fetches raw blocks ahead of the
// consumer while decoding runs concurrently behind it, so neither I/O
// wait nor CPU-bound decode blocks the other.
package blockprovider

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/eutxo/indexer/internal/chainadapter"
	"github.com/eutxo/indexer/internal/chainclient"
	"github.com/eutxo/indexer/internal/model"
)

// Event is one message a Provider emits: either a decoded block extending
// the chain, or (stream-based chains only) a rollback the consumer must
// unwind to before any further blocks are valid.
type Event struct {
	Block        *model.Block
	RollbackToId string
	Err          error
}

// Provider streams decoded blocks starting at fromHeight (exclusive —
// the next block to deliver is fromHeight+1) onto out, until ctx is
// cancelled or an unrecoverable error occurs (reported via a final Event
// with Err set, after which out is closed). A PullProvider also returns
// nil, closing out, once it has delivered every block up to the tip it
// last observed.
type Provider interface {
	Run(ctx context.Context, fromHeight model.BlockHeight, out chan<- Event) error
}

// defaultFetchConcurrency and defaultDecodeConcurrency bound how far a
// PullProvider gets ahead of its consumer and how many blocks decode in
// parallel, respectively.
const (
	defaultFetchConcurrency  = 8
	defaultDecodeConcurrency = 4
	defaultOutBuffer         = 64
)

// PullProvider drives a pull-based chainclient.Client (Bitcoin, Ergo):
// it polls TipHeight, fetches every height between the watermark and the
// tip with a bounded worker pool, decodes each with the chainadapter, and
// emits them strictly in height order.
type PullProvider struct {
	Client  chainclient.Client
	Adapter chainadapter.Adapter

	FetchConcurrency  int
	DecodeConcurrency int
}

func NewPullProvider(client chainclient.Client, adapter chainadapter.Adapter) *PullProvider {
	return &PullProvider{
		Client:            client,
		Adapter:           adapter,
		FetchConcurrency:  defaultFetchConcurrency,
		DecodeConcurrency: defaultDecodeConcurrency,
	}
}

func (p *PullProvider) Run(ctx context.Context, fromHeight model.BlockHeight, out chan<- Event) error {
	defer close(out)

	next := uint64(fromHeight) + 1
	for {
		tip, err := p.Client.TipHeight(ctx)
		if err != nil {
			return p.emitErr(ctx, out, fmt.Errorf("tip height: %w", err))
		}
		if next > tip {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return nil
			}
		}

		batchEnd := tip
		const maxBatch = 2000
		if batchEnd-next+1 > maxBatch {
			batchEnd = next + maxBatch - 1
		}

		blocks, err := p.fetchAndDecode(ctx, next, batchEnd)
		if err != nil {
			return p.emitErr(ctx, out, err)
		}
		for i := range blocks {
			select {
			case out <- Event{Block: &blocks[i]}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		next = batchEnd + 1
	}
}

func (p *PullProvider) emitErr(ctx context.Context, out chan<- Event, err error) error {
	select {
	case out <- Event{Err: err}:
	case <-ctx.Done():
	}
	return err
}

// fetchAndDecode fetches [start, end] with a bounded worker pool and
// decodes each raw block, returning them in height order — mirroring
// runner.PRunner's readBlockBytes-then-parseBlocksParallel split, except
// fetch is itself the concurrent stage here since it is the network call.
func (p *PullProvider) fetchAndDecode(ctx context.Context, start, end uint64) ([]model.Block, error) {
	n := int(end - start + 1)
	raw := make([]chainclient.RawBlock, n)

	fetchSem := semaphore.NewWeighted(int64(p.fetchConcurrency()))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		height := start + uint64(i)
		if err := fetchSem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer fetchSem.Release(1)
			block, err := p.Client.BlockByHeight(gctx, height)
			if err != nil {
				return fmt.Errorf("fetch block %d: %w", height, err)
			}
			raw[i] = block
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	decoded := make([]model.Block, n)
	decodeSem := semaphore.NewWeighted(int64(p.decodeConcurrency()))
	g2, gctx2 := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		if err := decodeSem.Acquire(gctx2, 1); err != nil {
			break
		}
		g2.Go(func() error {
			defer decodeSem.Release(1)
			blk, err := p.Adapter.Decode(gctx2, raw[i])
			if err != nil {
				return fmt.Errorf("decode block at offset %d: %w", i, err)
			}
			decoded[i] = blk
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return nil, err
	}
	return decoded, nil
}

func (p *PullProvider) fetchConcurrency() int {
	if p.FetchConcurrency > 0 {
		return p.FetchConcurrency
	}
	return defaultFetchConcurrency
}

func (p *PullProvider) decodeConcurrency() int {
	if p.DecodeConcurrency > 0 {
		return p.DecodeConcurrency
	}
	return defaultDecodeConcurrency
}
