package chainclient

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	ouroboros "github.com/blinklabs-io/gouroboros"
	"github.com/blinklabs-io/gouroboros/ledger"
	"github.com/blinklabs-io/gouroboros/protocol/chainsync"
	"github.com/blinklabs-io/gouroboros/protocol/common"

	"github.com/eutxo/indexer/internal/apperr"
)

// CardanoClient speaks the Ouroboros node-to-client mini-protocols over a
// unix socket via github.com/blinklabs-io/gouroboros — the real Cardano
// Go ecosystem library (grounded on other_examples' use of
// blinklabs-io/gouroboros/cbor for ledger CBOR decoding), rather than a
// hand-rolled CBOR/multiplexer implementation. Only one chain-sync
// session runs at a time, serialized behind mu, matching the single
// node-socket-connection discipline the concurrency model requires.
type CardanoClient struct {
	socketPath   string
	networkMagic uint32

	mu   sync.Mutex
	conn *ouroboros.Connection
}

func NewCardanoClient(socketPath string, networkMagic uint32) *CardanoClient {
	return &CardanoClient{socketPath: socketPath, networkMagic: networkMagic}
}

func (c *CardanoClient) dial(ctx context.Context) (*ouroboros.Connection, error) {
	conn, err := ouroboros.NewConnection(
		ouroboros.WithNetworkMagic(c.networkMagic),
		ouroboros.WithNodeToNode(false),
		ouroboros.WithKeepAlive(true),
	)
	if err != nil {
		return nil, &apperr.ChainClientError{Chain: "cardano", Op: "new connection", Err: err}
	}
	if err := conn.Dial("unix", c.socketPath); err != nil {
		return nil, &apperr.ChainClientError{Chain: "cardano", Op: "dial " + c.socketPath, Err: err}
	}
	return conn, nil
}

// Start implements StreamClient: finds the intersection with the given
// point hashes (most recent first; an empty slice means "from genesis"),
// then runs RequestNext in a loop, translating RollForward/RollBackward
// into StreamEvents until ctx is cancelled.
func (c *CardanoClient) Start(ctx context.Context, intersect []string, onEvent func(StreamEvent) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.conn = conn
	defer conn.Close()

	points := make([]common.Point, 0, len(intersect))
	for _, id := range intersect {
		pt, err := parseIntersectPoint(id)
		if err != nil {
			return &apperr.ChainClientError{Chain: "cardano", Op: "parse intersect point " + id, Err: err}
		}
		points = append(points, pt)
	}

	errCh := make(chan error, 1)
	// fail hands the first callback error back to Start's caller.
	fail := func(err error) error {
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
		return err
	}
	cs := conn.ChainSync()
	cs.Client.RollForwardFunc = func(blockType uint, blockData any, tip chainsync.Tip) error {
		blk, ok := blockData.(ledger.Block)
		if !ok {
			return fail(fmt.Errorf("unexpected roll-forward payload type %T", blockData))
		}
		return fail(onEvent(StreamEvent{Block: blk}))
	}
	cs.Client.RollBackwardFunc = func(point common.Point, tip chainsync.Tip) error {
		return fail(onEvent(StreamEvent{RollbackToId: fmt.Sprintf("%x", point.Hash)}))
	}

	if len(points) == 0 {
		points = []common.Point{common.NewPointOrigin()}
	}
	if err := cs.Client.Sync(points); err != nil {
		return &apperr.ChainClientError{Chain: "cardano", Op: "find intersect", Err: err}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// parseIntersectPoint decodes the "slot:hash" points internal/indexer's
// IntersectPoints produces into a real common.Point — the node's
// FindIntersect needs the slot paired with the hash, not the hash alone.
func parseIntersectPoint(s string) (common.Point, error) {
	slotStr, hashStr, ok := strings.Cut(s, ":")
	if !ok {
		return common.Point{}, fmt.Errorf("malformed intersect point %q, want slot:hash", s)
	}
	slot, err := strconv.ParseUint(slotStr, 10, 64)
	if err != nil {
		return common.Point{}, fmt.Errorf("parse slot in %q: %w", s, err)
	}
	hash, err := hex.DecodeString(hashStr)
	if err != nil {
		return common.Point{}, fmt.Errorf("parse hash in %q: %w", s, err)
	}
	return common.NewPoint(slot, hash), nil
}

func (c *CardanoClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
