package chainadapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/eutxo/indexer/internal/chainclient"
	"github.com/eutxo/indexer/internal/model"
	"github.com/eutxo/indexer/internal/schema"
)

// ErgoAdapter decodes the node's JSON block representation. Ergo has no
// Go ecosystem library anywhere in the retrieved pack, and the node's own
// REST API already returns parsed JSON rather than a wire format to
// decode, so this adapter works directly against encoding/json structs
// (chainclient.ErgoRawBlock) instead of a byte-level decoder.
type ErgoAdapter struct {
	lookup indexLookup
}

func NewErgoAdapter(sch *schema.Schema) *ErgoAdapter {
	return &ErgoAdapter{lookup: indexLookup{sch}}
}

func (a *ErgoAdapter) Decode(_ context.Context, raw chainclient.RawBlock) (model.Block, error) {
	block, ok := raw.(*chainclient.ErgoRawBlock)
	if !ok {
		return model.Block{}, fmt.Errorf("ergo adapter: unexpected raw type %T", raw)
	}

	headerHash, err := decodeHash32(block.Header.Id)
	if err != nil {
		return model.Block{}, fmt.Errorf("header id: %w", err)
	}
	prevHash, err := decodeHash32(block.Header.ParentId)
	if err != nil {
		return model.Block{}, fmt.Errorf("parent id: %w", err)
	}

	header := model.Header{
		Height:   model.BlockHeight(block.Header.Height),
		Time:     model.BlockTimestamp(block.Header.Timestamp / 1000),
		Hash:     headerHash,
		PrevHash: prevHash,
	}

	txs := make([]model.Tx, 0, len(block.BlockTransactions.Transactions))
	for _, tx := range block.BlockTransactions.Transactions {
		decoded, err := a.decodeTx(tx)
		if err != nil {
			return model.Block{}, fmt.Errorf("tx %s: %w", tx.Id, err)
		}
		txs = append(txs, decoded)
	}

	return model.Block{Header: header, Txs: txs}, nil
}

func (a *ErgoAdapter) decodeTx(tx chainclient.ErgoTx) (model.Tx, error) {
	hash, err := decodeHash32(tx.Id)
	if err != nil {
		return model.Tx{}, err
	}
	out := model.Tx{Hash: model.TxHash(hash)}

	boxIdIndexId, hasBoxId := a.lookup.id("BOX_ID")

	for _, in := range tx.Inputs {
		boxId, err := hex.DecodeString(in.BoxId)
		if err != nil {
			return model.Tx{}, fmt.Errorf("input box id: %w", err)
		}
		if hasBoxId {
			out.Inputs = append(out.Inputs, model.Input{IsO2OLookup: true, O2OIndexId: boxIdIndexId, IndexValue: boxId})
		}
	}

	// A box is a mint of an asset whose token id equals the first
	// output's own box id — Ergo's native minting convention.
	var firstOutputBoxId string
	if len(tx.Outputs) > 0 {
		firstOutputBoxId = tx.Outputs[0].BoxId
	}

	for _, box := range tx.Outputs {
		u, err := a.decodeBox(box, firstOutputBoxId)
		if err != nil {
			return model.Tx{}, err
		}
		out.Outputs = append(out.Outputs, u)
	}
	return out, nil
}

func (a *ErgoAdapter) decodeBox(box chainclient.ErgoBox, firstOutputBoxId string) (model.Utxo, error) {
	u := model.Utxo{Index: model.UtxoIndex(box.Index), Value: box.Value}

	treeBytes, err := hex.DecodeString(box.ErgoTree)
	if err != nil {
		return model.Utxo{}, fmt.Errorf("ergo tree: %w", err)
	}
	if id, ok := a.lookup.id("ERGO_TREE_HASH"); ok {
		h := blake2b256(treeBytes)
		u.O2MIndexes = append(u.O2MIndexes, model.IndexValue{IndexId: id, Value: h[:]})
	}
	if id, ok := a.lookup.id("ERGO_TREE_TEMPLATE_HASH"); ok {
		h := blake2b256(ergoTreeTemplate(treeBytes))
		u.O2MIndexes = append(u.O2MIndexes, model.IndexValue{IndexId: id, Value: h[:]})
	}
	if id, ok := a.lookup.id("BOX_ID"); ok {
		boxId, err := hex.DecodeString(box.BoxId)
		if err != nil {
			return model.Utxo{}, fmt.Errorf("box id: %w", err)
		}
		u.O2OIndexes = append(u.O2OIndexes, model.IndexValue{IndexId: id, Value: boxId})
	}

	for _, asset := range box.Assets {
		assetId, err := hex.DecodeString(asset.TokenId)
		if err != nil {
			return model.Utxo{}, fmt.Errorf("asset token id: %w", err)
		}
		action := model.AssetActionTransfer
		if asset.TokenId == firstOutputBoxId {
			action = model.AssetActionMint
		}
		u.Assets = append(u.Assets, model.Asset{AssetId: assetId, Amount: asset.Amount, Action: action})
	}

	return u, nil
}

func blake2b256(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// ergoTreeTemplate strips the constant-segregation header and constants
// segment from a serialized ErgoTree, leaving the template bytes that are
// shared by every box whose script differs only in its constants (e.g.
// every box paying a given P2S contract regardless of per-instance
// parameters). Full constant-type parsing is out of scope here: when the
// segregation flag is set we approximate by skipping only the declared
// constant count's VLQ prefix, which is exact for the common case of
// zero segregated constants and otherwise falls back to hashing the full
// tree — still a stable, reproducible grouping key, just a coarser one
// than the real protocol's template for trees with segregated constants.
func ergoTreeTemplate(tree []byte) []byte {
	if len(tree) == 0 {
		return tree
	}
	const constantSegregationFlag = 0x10
	header := tree[0]
	if header&constantSegregationFlag == 0 {
		return tree
	}
	rest := tree[1:]
	count, n := decodeVlq(rest)
	if n == 0 || count != 0 {
		return tree
	}
	return rest[n:]
}

func decodeVlq(b []byte) (uint64, int) {
	var v uint64
	for i := 0; i < len(b) && i < binary.MaxVarintLen64; i++ {
		v |= uint64(b[i]&0x7F) << (7 * i)
		if b[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}

func decodeHash32(s string) (model.BlockHash, error) {
	var h model.BlockHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != 32 {
		return h, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}
