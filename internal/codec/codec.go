// Package codec implements the fixed-width big-endian binary encodings used
// for every on-disk key and primary-key composition. Big-endian byte order
// is load-bearing, not cosmetic: it is what makes a pebble key iterator walk
// primary keys in ascending numeric order, which the Store and WriteEngine
// both rely on for range scans and birth-pk relation prefixes.
//
// This mirrors the teacher's own hand-rolled big-endian watermark encoding
// in db/pebble.go (GetWatermark/SaveWatermark), generalized to every
// fixed-width identifier the data model needs.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/eutxo/indexer/internal/model"
)

const (
	BlockHeightLen = 4
	TxIndexLen     = 2
	UtxoIndexLen   = 2
	AssetIndexLen  = 1
	HashLen        = 32

	TxPkLen    = BlockHeightLen + TxIndexLen // 6
	UtxoPkLen  = TxPkLen + UtxoIndexLen      // 8
	AssetPkLen = UtxoPkLen + AssetIndexLen   // 9

	BlockHeaderLen = BlockHeightLen + HashLen + HashLen + 4 // 72
)

// TxPk is the 6-byte primary key of a transaction: height(4) || tx_index(2).
type TxPk [TxPkLen]byte

// UtxoPk is the 8-byte primary key of a utxo: tx_pk(6) || utxo_index(2).
type UtxoPk [UtxoPkLen]byte

// AssetPk is the 9-byte primary key of an asset: utxo_pk(8) || asset_index(1).
type AssetPk [AssetPkLen]byte

func EncodeTxPk(height model.BlockHeight, txIndex model.TxIndex) TxPk {
	var pk TxPk
	binary.BigEndian.PutUint32(pk[0:4], uint32(height))
	binary.BigEndian.PutUint16(pk[4:6], uint16(txIndex))
	return pk
}

func DecodeTxPk(pk TxPk) (model.BlockHeight, model.TxIndex) {
	return model.BlockHeight(binary.BigEndian.Uint32(pk[0:4])), model.TxIndex(binary.BigEndian.Uint16(pk[4:6]))
}

func EncodeUtxoPk(txPk TxPk, utxoIndex model.UtxoIndex) UtxoPk {
	var pk UtxoPk
	copy(pk[0:TxPkLen], txPk[:])
	binary.BigEndian.PutUint16(pk[TxPkLen:UtxoPkLen], uint16(utxoIndex))
	return pk
}

// UtxoPkTxPk returns the TxPk a UtxoPk was derived from (the prefix).
func UtxoPkTxPk(pk UtxoPk) TxPk {
	var txPk TxPk
	copy(txPk[:], pk[0:TxPkLen])
	return txPk
}

func UtxoIndexFromPk(pk UtxoPk) model.UtxoIndex {
	return model.UtxoIndex(binary.BigEndian.Uint16(pk[TxPkLen:UtxoPkLen]))
}

func EncodeAssetPk(utxoPk UtxoPk, assetIndex model.AssetIndex) AssetPk {
	var pk AssetPk
	copy(pk[0:UtxoPkLen], utxoPk[:])
	pk[UtxoPkLen] = byte(assetIndex)
	return pk
}

func AssetPkUtxoPk(pk AssetPk) UtxoPk {
	var utxoPk UtxoPk
	copy(utxoPk[:], pk[0:UtxoPkLen])
	return utxoPk
}

// EncodeHeightPrefix is the lower/upper bound used to range-scan every
// primary key belonging to a single block height (txs, utxos or assets all
// share the height as their leading bytes).
func EncodeHeightPrefix(height model.BlockHeight) [BlockHeightLen]byte {
	var b [BlockHeightLen]byte
	binary.BigEndian.PutUint32(b[:], uint32(height))
	return b
}

func EncodeUint64(v uint64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b
}

func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("codec: decode uint64: want 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// EncodeHeader packs a model.Header into the fixed 72-byte layout:
// height(4) || hash(32) || prev_hash(32) || time(4).
func EncodeHeader(h model.Header) []byte {
	buf := make([]byte, BlockHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Height))
	copy(buf[4:36], h.Hash[:])
	copy(buf[36:68], h.PrevHash[:])
	binary.BigEndian.PutUint32(buf[68:72], uint32(h.Time))
	return buf
}

func DecodeHeader(b []byte) (model.Header, error) {
	if len(b) != BlockHeaderLen {
		return model.Header{}, fmt.Errorf("%w: header: want %d bytes, got %d", ErrTruncated, BlockHeaderLen, len(b))
	}
	var h model.Header
	h.Height = model.BlockHeight(binary.BigEndian.Uint32(b[0:4]))
	copy(h.Hash[:], b[4:36])
	copy(h.PrevHash[:], b[36:68])
	h.Time = model.BlockTimestamp(binary.BigEndian.Uint32(b[68:72]))
	return h, nil
}

// O2OIdThreshold is the index-id cutoff a packed utxo value record uses
// to discriminate an o2m entry (fixed 8-byte birth pk) from an o2o entry
// (raw length-prefixed bytes): ids below it are o2m, ids at or above it
// are o2o, matching schema.resolveOrdered's own assignment (o2m ascends
// from 0, o2o descends from 255 — the two ranges never cross for any
// schema with fewer than 128 enabled indexes of each kind).
const O2OIdThreshold model.DbIndexId = 128

// IsO2OIndexId reports whether id falls in the o2o half of the id space.
func IsO2OIndexId(id model.DbIndexId) bool {
	return id >= O2OIdThreshold
}

// EncodeUtxoValue packs a utxo's amount followed by one entry per
// secondary index value it carries: value(8) || repeat{ index_id(1) ||
// (o2m: birth_pk(8)) | (o2o: len(2) || bytes(len)) }.
//
// This is the Go rendering of the original's utxo_to_bytes /
// bytes_to_utxo (eutxo_codec_utxo.rs): a packed record so a single
// UTXO_VALUE_BY_PK lookup yields the spendable amount, every o2m
// birth-pk backreference, and every o2o raw index value needed to
// remove the utxo later.
func EncodeUtxoValue(amount uint64, entries []UtxoIndexEntry) []byte {
	buf := make([]byte, 0, 8+len(entries)*9)
	v := EncodeUint64(amount)
	buf = append(buf, v[:]...)
	for _, e := range entries {
		buf = append(buf, byte(e.IndexId))
		if IsO2OIndexId(e.IndexId) {
			var lenBuf [2]byte
			binary.BigEndian.PutUint16(lenBuf[:], uint16(len(e.RawValue)))
			buf = append(buf, lenBuf[:]...)
			buf = append(buf, e.RawValue...)
		} else {
			buf = append(buf, e.BirthPk[:]...)
		}
	}
	return buf
}

// UtxoIndexEntry is one index value packed into a utxo value record: for
// an o2m index (IndexId < O2OIdThreshold) BirthPk is populated; for an
// o2o index RawValue carries the index's own raw bytes instead, since o2o
// values have no birth-pk deduplication of their own.
type UtxoIndexEntry struct {
	IndexId  model.DbIndexId
	BirthPk  UtxoPk
	RawValue []byte
}

func DecodeUtxoValue(b []byte) (uint64, []UtxoIndexEntry, error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("%w: utxo value", ErrTruncated)
	}
	amount, _ := DecodeUint64(b[0:8])
	rest := b[8:]
	var entries []UtxoIndexEntry
	for len(rest) > 0 {
		id := model.DbIndexId(rest[0])
		rest = rest[1:]
		e := UtxoIndexEntry{IndexId: id}
		if IsO2OIndexId(id) {
			if len(rest) < 2 {
				return 0, nil, fmt.Errorf("%w: utxo value o2o length", ErrTruncated)
			}
			l := int(binary.BigEndian.Uint16(rest[0:2]))
			rest = rest[2:]
			if len(rest) < l {
				return 0, nil, fmt.Errorf("%w: utxo value o2o bytes", ErrTruncated)
			}
			e.RawValue = append([]byte{}, rest[:l]...)
			rest = rest[l:]
		} else {
			if len(rest) < UtxoPkLen {
				return 0, nil, fmt.Errorf("%w: utxo value birth pk", ErrTruncated)
			}
			copy(e.BirthPk[:], rest[:UtxoPkLen])
			rest = rest[UtxoPkLen:]
		}
		entries = append(entries, e)
	}
	return amount, entries, nil
}

// AssetRecord is one asset entry inside a utxo's packed asset record:
// its amount, its action, and the birth AssetPk (the first utxo+asset-slot
// to ever carry its asset id) — the full 9-byte AssetPk rather than merely
// the owning utxo's 8-byte UtxoPk, because a single utxo can carry more
// than one asset and the asset index bit is what distinguishes them as
// relation-row targets.
type AssetRecord struct {
	Amount  uint64
	Action  model.AssetAction
	BirthPk AssetPk
}

const assetRecordLen = 8 + 1 + AssetPkLen // 18

// EncodeAssetsRecord packs every asset a single utxo carries into one
// blob: repeat{ amount(8) || action(1) || asset_birth_pk(9) }, stored
// under ASSETS_BY_UTXO_PK keyed by the utxo's own pk so one lookup
// recovers every asset the utxo holds.
func EncodeAssetsRecord(records []AssetRecord) []byte {
	buf := make([]byte, 0, len(records)*assetRecordLen)
	for _, r := range records {
		v := EncodeUint64(r.Amount)
		buf = append(buf, v[:]...)
		buf = append(buf, byte(r.Action))
		buf = append(buf, r.BirthPk[:]...)
	}
	return buf
}

func DecodeAssetsRecord(b []byte) ([]AssetRecord, error) {
	if len(b)%assetRecordLen != 0 {
		return nil, fmt.Errorf("%w: assets record", ErrBadLength)
	}
	records := make([]AssetRecord, 0, len(b)/assetRecordLen)
	for i := 0; i < len(b); i += assetRecordLen {
		amount, _ := DecodeUint64(b[i : i+8])
		action, err := decodeAssetAction(b[i+8])
		if err != nil {
			return nil, err
		}
		var birthPk AssetPk
		copy(birthPk[:], b[i+9:i+assetRecordLen])
		records = append(records, AssetRecord{Amount: amount, Action: action, BirthPk: birthPk})
	}
	return records, nil
}

func decodeAssetAction(b byte) (model.AssetAction, error) {
	switch model.AssetAction(b) {
	case model.AssetActionMint, model.AssetActionTransfer, model.AssetActionBurn:
		return model.AssetAction(b), nil
	default:
		return 0, fmt.Errorf("%w: asset action %d", ErrInvalidEnum, b)
	}
}

// ConcatBirthPkWithPk and SplitBirthPkWithPk implement the 16-byte
// birth-pk-relation row: birth_pk(8) || pk(8), used for O2M relation CFs.
func ConcatBirthPkWithPk(birthPk, pk UtxoPk) []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, birthPk[:]...)
	buf = append(buf, pk[:]...)
	return buf
}

func SplitBirthPkWithPk(b []byte) (UtxoPk, UtxoPk, error) {
	if len(b) != 16 {
		return UtxoPk{}, UtxoPk{}, fmt.Errorf("%w: birth-pk relation: want 16 bytes, got %d", ErrBadLength, len(b))
	}
	var birthPk, pk UtxoPk
	copy(birthPk[:], b[0:8])
	copy(pk[:], b[8:16])
	return birthPk, pk, nil
}

// ConcatAssetBirthPkWithPk and SplitAssetBirthPkWithPk do the same for
// asset-level relations: birth_pk(9) || pk(9) = 18 bytes.
func ConcatAssetBirthPkWithPk(birthPk, pk AssetPk) []byte {
	buf := make([]byte, 0, 18)
	buf = append(buf, birthPk[:]...)
	buf = append(buf, pk[:]...)
	return buf
}

func SplitAssetBirthPkWithPk(b []byte) (AssetPk, AssetPk, error) {
	if len(b) != 18 {
		return AssetPk{}, AssetPk{}, fmt.Errorf("%w: asset birth-pk relation: want 18 bytes, got %d", ErrBadLength, len(b))
	}
	var birthPk, pk AssetPk
	copy(birthPk[:], b[0:9])
	copy(pk[:], b[9:18])
	return birthPk, pk, nil
}
