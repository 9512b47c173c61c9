package chainclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/eutxo/indexer/internal/apperr"
)

// BitcoinClient is a JSON-RPC client for bitcoind, pooled and timed out
// exactly like the teacher's own pchain.Client (pchain/client.go):
// a dedicated *http.Transport with generous idle-connection reuse, and a
// fixed 10-second per-request timeout.
type BitcoinClient struct {
	url        string
	username   string
	password   string
	httpClient *http.Client
}

func NewBitcoinClient(url, username, password string) *BitcoinClient {
	transport := &http.Transport{
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 1000,
		MaxConnsPerHost:     1000,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &BitcoinClient{
		url:      url,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}
}

type rpcRequest struct {
	JsonRpc string `json:"jsonrpc"`
	Id      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *BitcoinClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JsonRpc: "1.0", Id: "eutxo", Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apperr.ChainClientError{Chain: "bitcoin", Op: method, Err: err}
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &apperr.ChainClientError{Chain: "bitcoin", Op: method, Err: err}
	}
	if rpcResp.Error != nil {
		return &apperr.ChainClientError{Chain: "bitcoin", Op: method, Err: fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func (c *BitcoinClient) TipHeight(ctx context.Context) (uint64, error) {
	var height int64
	if err := c.call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	return uint64(height), nil
}

// BlockByHeight fetches the raw block hex at height and decodes it with
// github.com/btcsuite/btcd/wire — the standard Go Bitcoin wire-format
// decoder, a sibling package of the teacher's directly-required
// btcsuite/btcutil — rather than hand-parsing the block format.
func (c *BitcoinClient) BlockByHeight(ctx context.Context, height uint64) (RawBlock, error) {
	var hash string
	if err := c.call(ctx, "getblockhash", []any{height}, &hash); err != nil {
		return nil, err
	}
	return c.blockByHashHex(ctx, hash)
}

// BlockByHash fetches the raw block with the given hash directly,
// satisfying chainclient.Client's block_by_hash contract — used by
// ForkResolver to fetch an exact claimed ancestor by identity.
func (c *BitcoinClient) BlockByHash(ctx context.Context, hash [32]byte) (RawBlock, error) {
	return c.blockByHashHex(ctx, chainhash.Hash(hash).String())
}

func (c *BitcoinClient) blockByHashHex(ctx context.Context, hashHex string) (RawBlock, error) {
	var rawHex string
	if err := c.call(ctx, "getblock", []any{hashHex, 0}, &rawHex); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, &apperr.ChainClientError{Chain: "bitcoin", Op: "decode hex", Err: err}
	}
	var block wire.MsgBlock
	if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, &apperr.ChainClientError{Chain: "bitcoin", Op: "deserialize block", Err: err}
	}
	return &block, nil
}

// BlockHeightByHash resolves a block's committed height from its hash via
// bitcoind's verbose getblock response, the BIP34 fallback path for a
// coinbase whose height push is malformed or absent.
func (c *BitcoinClient) BlockHeightByHash(ctx context.Context, hash [32]byte) (uint64, error) {
	var resp struct {
		Height int64 `json:"height"`
	}
	if err := c.call(ctx, "getblock", []any{chainhash.Hash(hash).String(), 1}, &resp); err != nil {
		return 0, err
	}
	return uint64(resp.Height), nil
}

func (c *BitcoinClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
