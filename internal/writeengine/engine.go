// Package writeengine turns decoded model.Block values into pebble
// mutations. It is the direct Go translation of
// original_source/backend/src/eutxo/eutxo_tx_write_service.rs: the birth-pk
// deduplication scheme for secondary indexes, the input/output resolution,
// and the mirrored forward/backward rows that let a later removal (a
// reorg) undo exactly what a persist did.
//
// Every mutation for one Persist (or Remove) call goes into a single
// indexed pebble batch and is committed exactly once at the end — nothing
// is visible to readers until that commit succeeds, which is how this
// engine answers the open question of write-batch rollback: an aborted
// call simply never calls Commit, so nothing it staged ever takes effect.
package writeengine

import (
	"fmt"

	"github.com/cockroachdb/pebble/v2"

	"github.com/eutxo/indexer/internal/codec"
	"github.com/eutxo/indexer/internal/model"
	"github.com/eutxo/indexer/internal/schema"
	"github.com/eutxo/indexer/internal/store"
)

type Engine struct {
	store  *store.Store
	schema *schema.Schema
	cache  *caches
}

func New(s *store.Store, sch *schema.Schema) *Engine {
	o2mIds := make([]model.DbIndexId, 0, len(sch.O2M))
	for _, idx := range sch.O2M {
		o2mIds = append(o2mIds, idx.Id)
	}
	o2oIds := make([]model.DbIndexId, 0, len(sch.O2O))
	for _, idx := range sch.O2O {
		o2oIds = append(o2oIds, idx.Id)
	}
	return &Engine{store: s, schema: sch, cache: newCaches(o2mIds, o2oIds)}
}

// Persist appends blocks to the chain: writes every block/tx/utxo/asset
// row and the input/output relation rows, in one committed batch.
func (e *Engine) Persist(blocks []model.Block) error {
	batch := e.store.NewIndexedBatch()
	defer batch.Close()

	for _, block := range blocks {
		if err := e.persistBlock(batch, block); err != nil {
			return fmt.Errorf("persist block %d: %w", block.Header.Height, err)
		}
	}
	if len(blocks) > 0 {
		last := blocks[len(blocks)-1].Header
		if err := e.store.Shared.Meta.SetBatch(batch, []byte(store.MetaLastHeaderKey), codec.EncodeHeader(last)); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Remove undoes exactly the rows Persist wrote for the given blocks, in
// reverse order, and sets the last-header watermark to newLastHeader (or
// deletes it when newLastHeader is nil). Used by fork resolution to roll
// back a losing branch before persisting the winning one.
func (e *Engine) Remove(blocks []model.Block, newLastHeader *model.Header) error {
	batch := e.store.NewIndexedBatch()
	defer batch.Close()

	for i := len(blocks) - 1; i >= 0; i-- {
		if err := e.removeBlock(batch, blocks[i]); err != nil {
			return fmt.Errorf("remove block %d: %w", blocks[i].Header.Height, err)
		}
	}
	if newLastHeader != nil {
		if err := e.store.Shared.Meta.SetBatch(batch, []byte(store.MetaLastHeaderKey), codec.EncodeHeader(*newLastHeader)); err != nil {
			return err
		}
	} else {
		if err := e.store.Shared.Meta.DeleteBatch(batch, []byte(store.MetaLastHeaderKey)); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (e *Engine) persistBlock(batch *pebble.Batch, block model.Block) error {
	heightBytes := codec.EncodeHeightPrefix(block.Header.Height)
	if err := e.store.Shared.BlockHashByPk.SetBatch(batch, heightBytes[:], block.Header.Hash[:]); err != nil {
		return err
	}
	// block_pk_by_hash_cf stores the full header, not just the height, so
	// fork resolution can walk prev_hash back through blocks without
	// re-fetching them from the node.
	if err := e.store.Shared.BlockPkByHash.SetBatch(batch, block.Header.Hash[:], codec.EncodeHeader(block.Header)); err != nil {
		return err
	}
	e.cache.blockHashByHeight.Add(block.Header.Height, block.Header.Hash)

	for txIndex, tx := range block.Txs {
		txPk := codec.EncodeTxPk(block.Header.Height, model.TxIndex(txIndex))
		if err := e.persistTx(batch, txPk, tx); err != nil {
			return fmt.Errorf("tx %d: %w", txIndex, err)
		}
	}
	return nil
}

func (e *Engine) persistTx(batch *pebble.Batch, txPk codec.TxPk, tx model.Tx) error {
	if err := e.store.Shared.TxHashByPk.SetBatch(batch, txPk[:], tx.Hash[:]); err != nil {
		return err
	}
	if err := e.store.Shared.TxPkByHash.SetBatch(batch, tx.Hash[:], txPk[:]); err != nil {
		return err
	}
	e.cache.txPkByTxHash.Add(tx.Hash, txPk)

	for _, out := range tx.Outputs {
		if err := e.persistUtxo(batch, txPk, out); err != nil {
			return fmt.Errorf("output %d: %w", out.Index, err)
		}
	}
	for inputIndex, in := range tx.Inputs {
		inputPk := codec.EncodeUtxoPk(txPk, model.UtxoIndex(inputIndex))
		if err := e.persistInput(batch, inputPk, in); err != nil {
			return fmt.Errorf("input %d: %w", inputIndex, err)
		}
	}
	return nil
}

func (e *Engine) persistUtxo(batch *pebble.Batch, txPk codec.TxPk, u model.Utxo) error {
	utxoPk := codec.EncodeUtxoPk(txPk, u.Index)

	entries := make([]codec.UtxoIndexEntry, 0, len(u.O2MIndexes)+len(u.O2OIndexes))
	for _, iv := range u.O2MIndexes {
		birthPk, err := e.resolveO2MBirthPk(batch, iv.IndexId, iv.Value, utxoPk)
		if err != nil {
			return err
		}
		entries = append(entries, codec.UtxoIndexEntry{IndexId: iv.IndexId, BirthPk: birthPk})
	}

	for _, iv := range u.O2OIndexes {
		h := e.indexHandlesById(iv.IndexId)
		if h == nil {
			return fmt.Errorf("unknown o2o index id %d", iv.IndexId)
		}
		if err := h.BirthPkByValue.SetBatch(batch, iv.Value, utxoPk[:]); err != nil {
			return err
		}
		e.cache.utxoPkByO2OValue[iv.IndexId].Add(string(iv.Value), utxoPk)
		entries = append(entries, codec.UtxoIndexEntry{IndexId: iv.IndexId, RawValue: iv.Value})
	}

	if err := e.store.PerChain.UtxoValueByPk.SetBatch(batch, utxoPk[:], codec.EncodeUtxoValue(u.Value, entries)); err != nil {
		return err
	}

	if len(u.Assets) == 0 {
		return nil
	}
	records := make([]codec.AssetRecord, 0, len(u.Assets))
	for assetIndex, asset := range u.Assets {
		record, err := e.resolveAssetRecord(batch, utxoPk, model.AssetIndex(assetIndex), asset)
		if err != nil {
			return fmt.Errorf("asset %d: %w", assetIndex, err)
		}
		records = append(records, record)
	}
	return e.store.PerChain.AssetsByUtxoPk.SetBatch(batch, utxoPk[:], codec.EncodeAssetsRecord(records))
}

// resolveAssetRecord resolves one asset's birth pk and returns the packed
// record describing it within its utxo's combined asset blob.
func (e *Engine) resolveAssetRecord(batch *pebble.Batch, utxoPk codec.UtxoPk, assetIndex model.AssetIndex, a model.Asset) (codec.AssetRecord, error) {
	assetPk := codec.EncodeAssetPk(utxoPk, assetIndex)
	birthPk, err := e.resolveAssetBirthPk(batch, a.AssetId, assetPk)
	if err != nil {
		return codec.AssetRecord{}, err
	}
	return codec.AssetRecord{Amount: a.Amount, Action: a.Action, BirthPk: birthPk}, nil
}

// resolveO2MBirthPk implements persist_birth_pk_or_relation_with_pk: the
// first utxo to introduce an index value becomes its birth pk; every
// later utxo sharing that value instead writes a small relation row
// pointing back at the birth pk, so the (often large) index value itself
// is stored exactly once.
func (e *Engine) resolveO2MBirthPk(batch *pebble.Batch, indexId model.DbIndexId, value []byte, pk codec.UtxoPk) (codec.UtxoPk, error) {
	h := e.indexHandlesById(indexId)
	if h == nil {
		return codec.UtxoPk{}, fmt.Errorf("unknown o2m index id %d", indexId)
	}
	cache := e.cache.birthPkByO2MValue[indexId]

	if birthPk, ok := cache.Get(string(value)); ok {
		if err := h.Relations.SetBatch(batch, codec.ConcatBirthPkWithPk(birthPk, pk), nil); err != nil {
			return codec.UtxoPk{}, err
		}
		return birthPk, nil
	}

	if existing, err := h.BirthPkByValue.GetFrom(batch, value); err != nil {
		return codec.UtxoPk{}, err
	} else if existing != nil {
		var birthPk codec.UtxoPk
		copy(birthPk[:], existing)
		cache.Add(string(value), birthPk)
		if err := h.Relations.SetBatch(batch, codec.ConcatBirthPkWithPk(birthPk, pk), nil); err != nil {
			return codec.UtxoPk{}, err
		}
		return birthPk, nil
	}

	// Neither cache nor store has seen this value before: pk becomes the
	// birth pk.
	if err := h.BirthPkByValue.SetBatch(batch, value, pk[:]); err != nil {
		return codec.UtxoPk{}, err
	}
	if err := h.ValueByBirthPk.SetBatch(batch, pk[:], value); err != nil {
		return codec.UtxoPk{}, err
	}
	cache.Add(string(value), pk)
	return pk, nil
}

// resolveAssetBirthPk implements persist_asset_birth_pk_or_relation_with_pk:
// the first utxo to mint/carry a given asset id becomes that asset's birth
// utxo, and every later utxo carrying the same asset id stores a
// reference to that birth asset pk instead of the asset id bytes
// themselves.
func (e *Engine) resolveAssetBirthPk(batch *pebble.Batch, assetId []byte, pk codec.AssetPk) (codec.AssetPk, error) {
	cache := e.cache.assetBirthPkByAssetId

	if birthPk, ok := cache.Get(string(assetId)); ok {
		if err := e.store.PerChain.AssetBirthPkRelations.SetBatch(batch, codec.ConcatAssetBirthPkWithPk(birthPk, pk), nil); err != nil {
			return codec.AssetPk{}, err
		}
		return birthPk, nil
	}

	existing, err := e.store.PerChain.AssetBirthPkByAssetId.GetFrom(batch, assetId)
	if err != nil {
		return codec.AssetPk{}, err
	}
	if existing != nil {
		var birthPk codec.AssetPk
		copy(birthPk[:], existing)
		cache.Add(string(assetId), birthPk)
		if err := e.store.PerChain.AssetBirthPkRelations.SetBatch(batch, codec.ConcatAssetBirthPkWithPk(birthPk, pk), nil); err != nil {
			return codec.AssetPk{}, err
		}
		return birthPk, nil
	}

	if err := e.store.PerChain.AssetBirthPkByAssetId.SetBatch(batch, assetId, pk[:]); err != nil {
		return codec.AssetPk{}, err
	}
	if err := e.store.PerChain.AssetIdByBirthPk.SetBatch(batch, pk[:], assetId); err != nil {
		return codec.AssetPk{}, err
	}
	cache.Add(string(assetId), pk)
	return pk, nil
}

func (e *Engine) persistInput(batch *pebble.Batch, inputPk codec.UtxoPk, in model.Input) error {
	utxoPk, ok, err := e.resolveSpentUtxoPk(batch, in)
	if err != nil {
		return err
	}
	if !ok {
		// The referenced output isn't in the store — a genesis/reward
		// input with no prior utxo, or a pruned dependency. Silently
		// skipped, matching the original's own "Genesis" comment.
		return nil
	}
	if err := e.store.PerChain.UtxoPkByInputPk.SetBatch(batch, inputPk[:], utxoPk[:]); err != nil {
		return err
	}
	return e.store.PerChain.InputPkByUtxoPk.SetBatch(batch, utxoPk[:], inputPk[:])
}

func (e *Engine) resolveSpentUtxoPk(batch *pebble.Batch, in model.Input) (codec.UtxoPk, bool, error) {
	if in.IsO2OLookup {
		h := e.indexHandlesById(in.O2OIndexId)
		if h == nil {
			return codec.UtxoPk{}, false, fmt.Errorf("unknown o2o index id %d", in.O2OIndexId)
		}
		if cached, ok := e.cache.utxoPkByO2OValue[in.O2OIndexId].Get(string(in.IndexValue)); ok {
			return cached, true, nil
		}
		v, err := h.BirthPkByValue.GetFrom(batch, in.IndexValue)
		if err != nil {
			return codec.UtxoPk{}, false, err
		}
		if v == nil {
			return codec.UtxoPk{}, false, nil
		}
		var utxoPk codec.UtxoPk
		copy(utxoPk[:], v)
		return utxoPk, true, nil
	}

	var txPk codec.TxPk
	if cached, ok := e.cache.txPkByTxHash.Get(in.TxHash); ok {
		txPk = cached
	} else {
		v, err := e.store.Shared.TxPkByHash.GetFrom(batch, in.TxHash[:])
		if err != nil {
			return codec.UtxoPk{}, false, err
		}
		if v == nil {
			return codec.UtxoPk{}, false, nil
		}
		copy(txPk[:], v)
		e.cache.txPkByTxHash.Add(in.TxHash, txPk)
	}
	return codec.EncodeUtxoPk(txPk, in.UtxoIndex), true, nil
}

func (e *Engine) indexHandlesById(id model.DbIndexId) *store.IndexHandles {
	for _, idx := range e.schema.O2M {
		if idx.Id == id {
			h := e.store.Indexes[idx.Name]
			return &h
		}
	}
	for _, idx := range e.schema.O2O {
		if idx.Id == id {
			h := e.store.Indexes[idx.Name]
			return &h
		}
	}
	return nil
}
