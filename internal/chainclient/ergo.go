package chainclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/eutxo/indexer/internal/apperr"
)

// ErgoRawBlock is the Ergo node's own JSON block representation — the
// node's REST API already hands back parsed JSON, so there is no wire
// format to decode the way Bitcoin's raw hex needs wire.MsgBlock.
type ErgoRawBlock struct {
	Header struct {
		Id        string `json:"id"`
		ParentId  string `json:"parentId"`
		Height    uint64 `json:"height"`
		Timestamp uint64 `json:"timestamp"`
	} `json:"header"`
	BlockTransactions struct {
		Transactions []ErgoTx `json:"transactions"`
	} `json:"blockTransactions"`
}

type ErgoTx struct {
	Id      string     `json:"id"`
	Inputs  []ErgoInput `json:"inputs"`
	Outputs []ErgoBox   `json:"outputs"`
}

type ErgoInput struct {
	BoxId string `json:"boxId"`
}

type ErgoBox struct {
	BoxId      string           `json:"boxId"`
	Value      uint64           `json:"value"`
	ErgoTree   string           `json:"ergoTree"`
	Assets     []ErgoAsset      `json:"assets"`
	Index      int              `json:"index"`
}

type ErgoAsset struct {
	TokenId string `json:"tokenId"`
	Amount  uint64 `json:"amount"`
}

// ErgoClient is a REST client for the Ergo node API, api-key authenticated
// via the "api_key" header, matching config.ErgoConfig's api_key field.
type ErgoClient struct {
	host       string
	apiKey     string
	httpClient *http.Client
}

func NewErgoClient(host, apiKey string) *ErgoClient {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &ErgoClient{
		host:   host,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}
}

func (c *ErgoClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("api_key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apperr.ChainClientError{Chain: "ergo", Op: path, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &apperr.ChainClientError{Chain: "ergo", Op: path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *ErgoClient) TipHeight(ctx context.Context) (uint64, error) {
	var info struct {
		FullHeight uint64 `json:"fullHeight"`
	}
	if err := c.get(ctx, "/info", &info); err != nil {
		return 0, err
	}
	return info.FullHeight, nil
}

func (c *ErgoClient) BlockByHeight(ctx context.Context, height uint64) (RawBlock, error) {
	var ids []string
	if err := c.get(ctx, fmt.Sprintf("/blocks/at/%d", height), &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, &apperr.ChainClientError{Chain: "ergo", Op: "blocks/at", Err: fmt.Errorf("no block at height %d", height)}
	}
	var block ErgoRawBlock
	if err := c.get(ctx, "/blocks/"+ids[0], &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// BlockByHash fetches the raw block with the given hash directly by id,
// satisfying chainclient.Client's block_by_hash contract.
func (c *ErgoClient) BlockByHash(ctx context.Context, hash [32]byte) (RawBlock, error) {
	var block ErgoRawBlock
	if err := c.get(ctx, "/blocks/"+hex.EncodeToString(hash[:]), &block); err != nil {
		return nil, err
	}
	return &block, nil
}

func (c *ErgoClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
