// Package chainclient defines the raw-block-fetching contract every chain
// implements, and the bitcoin/cardano/ergo clients that satisfy it. This
// is deliberately a thin layer: it knows how to get bytes off the wire and
// nothing about the eutxo data model — that translation is ChainAdapter's
// job (internal/chainadapter).
package chainclient

import "context"

// RawBlock is whatever a specific chain's client hands back: bitcoin's is
// a wire.MsgBlock, cardano's a gouroboros ledger block, ergo's a decoded
// JSON struct. ChainAdapter type-asserts it back to the concrete type it
// expects; the two always travel together.
type RawBlock any

// Client is the pull-based contract: fetch one block by height or by
// hash, and report the chain's current tip height. Bitcoin and Ergo both
// expose a request/response node API shaped like this.
type Client interface {
	// TipHeight returns the chain's current best height.
	TipHeight(ctx context.Context) (uint64, error)
	// BlockByHeight fetches and returns the raw block at height.
	BlockByHeight(ctx context.Context, height uint64) (RawBlock, error)
	// BlockByHash fetches and returns the raw block with the given hash,
	// used to fetch an exact claimed ancestor by identity rather than by
	// position during fork resolution.
	BlockByHash(ctx context.Context, hash [32]byte) (RawBlock, error)
	Close() error
}

// StreamEvent is one message a StreamClient's long-lived connection
// delivers: either a new block extending the tip, or a rollback to an
// earlier point the consumer must unwind to before continuing.
type StreamEvent struct {
	Block        RawBlock
	RollbackToId string // non-empty only for a rollback event
}

// StreamClient is the push-based contract Cardano's node-to-client
// Ouroboros chain-sync mini-protocol exposes: a single long-lived
// connection that pushes RollForward/RollBackward events, rather than a
// client pulling one block at a time by height.
type StreamClient interface {
	// Start begins chain-sync from the given intersection points (most
	// recent first) and blocks until ctx is cancelled or an
	// unrecoverable error occurs, invoking onEvent for every message.
	Start(ctx context.Context, intersect []string, onEvent func(StreamEvent) error) error
	Close() error
}
