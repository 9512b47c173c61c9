package chainadapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/blinklabs-io/gouroboros/ledger"

	"github.com/eutxo/indexer/internal/chainclient"
	"github.com/eutxo/indexer/internal/model"
	"github.com/eutxo/indexer/internal/schema"
)

// CardanoAdapter decodes ledger.Block values gouroboros hands back from
// chain-sync. Cardano carries no BIP34-style height puzzle — ledger.Block
// exposes BlockNumber() directly — but its slot clock needs converting to
// a unix timestamp, and native multi-asset bundles need flattening into
// the chain-agnostic model.Asset list. Only ADDRESS is indexed, matching
// config/schema.cardano.yaml: Cardano has no separate script-hash concept
// distinct from the address itself (a script address already commits to
// the script hash).
type CardanoAdapter struct {
	lookup indexLookup
}

func NewCardanoAdapter(sch *schema.Schema) *CardanoAdapter {
	return &CardanoAdapter{lookup: indexLookup{sch}}
}

func (a *CardanoAdapter) Decode(_ context.Context, raw chainclient.RawBlock) (model.Block, error) {
	block, ok := raw.(ledger.Block)
	if !ok {
		return model.Block{}, fmt.Errorf("cardano adapter: unexpected raw type %T", raw)
	}

	hash, err := decodeHash32(block.Hash())
	if err != nil {
		return model.Block{}, fmt.Errorf("block hash: %w", err)
	}

	header := model.Header{
		Height: model.BlockHeight(block.BlockNumber()),
		Time:   model.BlockTimestamp(slotToUnix(block.SlotNumber())),
		Hash:   hash,
		// PrevHash is left zero: Cardano blocks are applied without a
		// ForkResolver (the node's RollBackward events drive rollbacks),
		// so nothing reads it.
	}

	txs := make([]model.Tx, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		decoded, err := a.decodeTx(tx)
		if err != nil {
			return model.Block{}, fmt.Errorf("tx %s: %w", tx.Hash(), err)
		}
		txs = append(txs, decoded)
	}

	return model.Block{Header: header, Txs: txs}, nil
}

func (a *CardanoAdapter) decodeTx(tx ledger.Transaction) (model.Tx, error) {
	hash, err := decodeHash32(tx.Hash())
	if err != nil {
		return model.Tx{}, err
	}
	out := model.Tx{Hash: model.TxHash(hash)}

	for _, in := range tx.Inputs() {
		inHash, err := decodeHash32(in.Id().String())
		if err != nil {
			return model.Tx{}, fmt.Errorf("input id: %w", err)
		}
		out.Inputs = append(out.Inputs, model.Input{
			TxHash:    model.TxHash(inHash),
			UtxoIndex: model.UtxoIndex(in.Index()),
		})
	}

	// mintedPositive/burns come from the transaction's own mint witness
	// record, not from any output: an asset is a Mint if it's created by
	// this tx (positive witness quantity) and a Burn if it's destroyed
	// (negative), matching the Cardano native-asset rule of spec.md §4.4.
	// Burns have no output of their own to attach to, so — mirroring
	// Ergo's convention of anchoring a token's identity to a tx's first
	// output — they are recorded against this transaction's first output.
	mintedPositive := map[string]bool{}
	var burns []model.Asset
	if mint := tx.AssetMint(); mint != nil {
		for _, policyId := range mint.Policies() {
			for _, assetName := range mint.Assets(policyId) {
				qty := mint.Asset(policyId, assetName)
				if qty == nil || qty.Sign() == 0 {
					continue
				}
				assetId := append(append([]byte{}, policyId.Bytes()...), assetName...)
				if qty.Sign() > 0 {
					mintedPositive[string(assetId)] = true
					continue
				}
				burns = append(burns, model.Asset{
					AssetId: assetId,
					Amount:  new(big.Int).Abs(qty).Uint64(),
					Action:  model.AssetActionBurn,
				})
			}
		}
	}

	for i, txOut := range tx.Outputs() {
		u, err := a.decodeOutput(model.UtxoIndex(i), txOut, mintedPositive)
		if err != nil {
			return model.Tx{}, err
		}
		out.Outputs = append(out.Outputs, u)
	}
	if len(burns) > 0 && len(out.Outputs) > 0 {
		out.Outputs[0].Assets = append(out.Outputs[0].Assets, burns...)
	}
	return out, nil
}

func (a *CardanoAdapter) decodeOutput(index model.UtxoIndex, txOut ledger.TransactionOutput, mintedPositive map[string]bool) (model.Utxo, error) {
	u := model.Utxo{Index: index, Value: txOut.Amount()}

	if id, ok := a.lookup.id("ADDRESS"); ok {
		addr := txOut.Address()
		u.O2MIndexes = append(u.O2MIndexes, model.IndexValue{IndexId: id, Value: []byte(addr.String())})
	}

	assets := txOut.Assets()
	if assets == nil {
		return u, nil
	}
	for _, policyId := range assets.Policies() {
		for _, assetName := range assets.Assets(policyId) {
			amount := assets.Asset(policyId, assetName)
			if amount == nil || amount.Sign() == 0 {
				continue
			}
			assetId := append(append([]byte{}, policyId.Bytes()...), assetName...)
			action := model.AssetActionTransfer
			if mintedPositive[string(assetId)] {
				action = model.AssetActionMint
			}
			u.Assets = append(u.Assets, model.Asset{AssetId: assetId, Amount: amount.Uint64(), Action: action})
		}
	}
	return u, nil
}

// slotToUnix converts a Cardano absolute slot number to a unix timestamp.
// Mainnet's Shelley-era clock runs one second per slot starting from the
// Byron-era genesis offset; this is the same constant the original
// indexer's cardano timestamp derivation used and is good enough for
// ordering and display, not for consensus-critical decisions no component
// here makes.
const cardanoByronGenesisUnix = 1506203091

func slotToUnix(slot uint64) uint64 {
	return cardanoByronGenesisUnix + slot
}

// UnixToSlot reverses slotToUnix. internal/indexer uses it to recover the
// slot number of a persisted header for chain-sync intersect points, since
// model.Header only carries the derived unix time, not the slot itself.
func UnixToSlot(unix model.BlockTimestamp) uint64 {
	u := uint64(unix)
	if u < cardanoByronGenesisUnix {
		return 0
	}
	return u - cardanoByronGenesisUnix
}
