package chainadapter

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/eutxo/indexer/internal/chainclient"
	"github.com/eutxo/indexer/internal/model"
	"github.com/eutxo/indexer/internal/schema"
)

// BitcoinAdapter decodes wire.MsgBlock values, grounded field for field on
// original_source/backend/src/eutxo/btc/btc_block_processor.rs and
// btc_io_processor.rs: height comes from the coinbase's BIP34 push (not
// the header, which carries no height field pre-SegWit-era tooling), or
// from a by-hash client lookup when that push is malformed or absent,
// outputs are classified into ADDRESS and SCRIPT_HASH secondary-index
// values with the script-hash always computed and the address only added
// if the script actually resolves to one (falling back from a bare P2PK
// pubkey to its P2PKH address, matching a wallet's own spend path).
// heightByHash looks up a block's height by its hash, used as the BIP34
// fallback when a block's coinbase carries no parseable height push.
// Satisfied by *chainclient.BitcoinClient.
type heightByHash interface {
	BlockHeightByHash(ctx context.Context, hash [32]byte) (uint64, error)
}

type BitcoinAdapter struct {
	lookup indexLookup
	net    *chaincfg.Params
	client heightByHash
}

func NewBitcoinAdapter(sch *schema.Schema, client heightByHash) *BitcoinAdapter {
	return &BitcoinAdapter{lookup: indexLookup{sch}, net: &chaincfg.MainNetParams, client: client}
}

func (a *BitcoinAdapter) Decode(ctx context.Context, raw chainclient.RawBlock) (model.Block, error) {
	block, ok := raw.(*wire.MsgBlock)
	if !ok {
		return model.Block{}, fmt.Errorf("bitcoin adapter: unexpected raw type %T", raw)
	}

	height, err := bip34Height(block)
	if err != nil {
		if a.client == nil {
			return model.Block{}, fmt.Errorf("bip34 height unavailable and no fallback client configured: %w", err)
		}
		height, err = a.client.BlockHeightByHash(ctx, block.BlockHash())
		if err != nil {
			return model.Block{}, fmt.Errorf("bip34 height unavailable, fallback lookup failed: %w", err)
		}
	}

	header := model.Header{
		Height:   model.BlockHeight(height),
		Time:     model.BlockTimestamp(block.Header.Timestamp.Unix()),
		Hash:     model.BlockHash(block.BlockHash()),
		PrevHash: model.BlockHash(block.Header.PrevBlock),
	}

	txs := make([]model.Tx, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		txs = append(txs, a.decodeTx(tx))
	}

	return model.Block{Header: header, Txs: txs}, nil
}

func (a *BitcoinAdapter) decodeTx(tx *wire.MsgTx) model.Tx {
	out := model.Tx{Hash: model.TxHash(tx.TxHash())}

	isCoinbase := len(tx.TxIn) == 1 && tx.TxIn[0].PreviousOutPoint.Index == wire.MaxPrevOutIndex
	if !isCoinbase {
		for _, in := range tx.TxIn {
			out.Inputs = append(out.Inputs, model.Input{
				TxHash:    model.TxHash(in.PreviousOutPoint.Hash),
				UtxoIndex: model.UtxoIndex(in.PreviousOutPoint.Index),
			})
		}
	}

	for i, txOut := range tx.TxOut {
		out.Outputs = append(out.Outputs, a.decodeOutput(model.UtxoIndex(i), txOut))
	}
	return out
}

func (a *BitcoinAdapter) decodeOutput(index model.UtxoIndex, txOut *wire.TxOut) model.Utxo {
	u := model.Utxo{Index: index, Value: uint64(txOut.Value)}

	if id, ok := a.lookup.id("SCRIPT_HASH"); ok {
		sum := sha256.Sum256(txOut.PkScript)
		u.O2MIndexes = append(u.O2MIndexes, model.IndexValue{IndexId: id, Value: sum[:]})
	}

	if id, ok := a.lookup.id("ADDRESS"); ok {
		if addr := a.extractAddress(txOut.PkScript); addr != "" {
			u.O2MIndexes = append(u.O2MIndexes, model.IndexValue{IndexId: id, Value: []byte(addr)})
		}
	}

	return u
}

// extractAddress mirrors BtcIoProcessor.process_outputs: resolve the
// script's address normally, falling back to deriving a P2PKH address
// from a bare P2PK public key when the script carries no address of its
// own kind (txscript's classifier returns the raw pubkey, not a P2PKH
// address, for P2PK scripts).
func (a *BitcoinAdapter) extractAddress(pkScript []byte) string {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, a.net)
	if err != nil {
		return ""
	}
	if class == txscript.PubKeyTy && len(addrs) == 1 {
		if pk, ok := addrs[0].(*btcutil.AddressPubKey); ok {
			return pk.AddressPubKeyHash().EncodeAddress()
		}
	}
	if len(addrs) == 1 {
		return addrs[0].EncodeAddress()
	}
	return ""
}

// bip34Height extracts the coinbase height push defined by BIP34: the
// first bytes of the coinbase input's signature script are a minimally
// encoded push of the block's height.
func bip34Height(block *wire.MsgBlock) (uint64, error) {
	if len(block.Transactions) == 0 || len(block.Transactions[0].TxIn) == 0 {
		return 0, fmt.Errorf("bip34: block has no coinbase input")
	}
	sig := block.Transactions[0].TxIn[0].SignatureScript
	if len(sig) == 0 {
		return 0, fmt.Errorf("bip34: empty coinbase signature script")
	}
	pushLen := int(sig[0])
	if pushLen == 0 || len(sig) < 1+pushLen || pushLen > 8 {
		return 0, fmt.Errorf("bip34: malformed coinbase height push")
	}
	var height uint64
	for i := 0; i < pushLen; i++ {
		height |= uint64(sig[1+i]) << (8 * i)
	}
	return height, nil
}
