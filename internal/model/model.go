// Package model defines the chain-agnostic entities every ChainAdapter
// produces and every WriteEngine persists: blocks, transactions, utxos and
// assets, uniform across bitcoin, cardano and ergo.
package model

// BlockHeight is a block's height as its own chain numbers it (Bitcoin's
// genesis block is height 0).
type BlockHeight uint32

// BlockTimestamp is a unix-epoch second.
type BlockTimestamp uint32

// TxIndex is a transaction's 0-based position within its block.
type TxIndex uint16

// UtxoIndex is an output's 0-based position within its transaction.
type UtxoIndex uint16

// AssetIndex is an asset's 0-based position within its utxo.
type AssetIndex uint8

// DbIndexId is the compact id a Schema assigns to one secondary index.
type DbIndexId uint8

// BlockHash and TxHash are chain-native 32-byte digests.
type BlockHash [32]byte
type TxHash [32]byte

// Header is the minimal linkage information the Indexer needs to detect
// and resolve forks, independent of any particular chain's wire format.
type Header struct {
	Height   BlockHeight
	Hash     BlockHash
	PrevHash BlockHash
	Time     BlockTimestamp
}

// Block is the fully decoded, chain-agnostic unit the WriteEngine consumes.
type Block struct {
	Header Header
	Txs    []Tx
}

// Input references the utxo it spends. Exactly one of TxHash+UtxoIndex (the
// common txid:vout style, used by Bitcoin and Cardano) or IndexValue (an
// O2O secondary-index lookup, used by Ergo's box id) is populated.
type Input struct {
	TxHash    TxHash
	UtxoIndex UtxoIndex

	O2OIndexId   DbIndexId
	IndexValue   []byte
	IsO2OLookup  bool
}

// IndexValue is one secondary-index value attached to a utxo: which
// compact index id it belongs to, and the raw bytes to key it by.
type IndexValue struct {
	IndexId DbIndexId
	Value   []byte
}

// AssetAction classifies why a given amount of an asset appears on a
// utxo: freshly created, carried forward from a spent input, or removed
// from circulation. Mirrors eutxo_codec_utxo.rs's asset_value_action_pk
// encoding, which packs this alongside the amount rather than inferring
// it structurally.
type AssetAction uint8

const (
	AssetActionMint AssetAction = iota
	AssetActionTransfer
	AssetActionBurn
)

// Asset is a chain-native token amount carried by a utxo (Cardano native
// assets, Ergo tokens). Bitcoin utxos never carry any.
type Asset struct {
	AssetId []byte
	Amount  uint64
	Action  AssetAction
}

// Utxo is one transaction output together with the secondary-index values
// a ChainAdapter has already computed for it.
type Utxo struct {
	Index       UtxoIndex
	Value       uint64
	O2MIndexes  []IndexValue
	O2OIndexes  []IndexValue
	Assets      []Asset
}

// Tx is one transaction: its identity, the outputs it creates and the
// inputs it spends. Coinbase/genesis transactions have no inputs.
type Tx struct {
	Hash    TxHash
	Inputs  []Input
	Outputs []Utxo
}
