package writeengine

import (
	"fmt"

	"github.com/cockroachdb/pebble/v2"

	"github.com/eutxo/indexer/internal/codec"
	"github.com/eutxo/indexer/internal/model"
	"github.com/eutxo/indexer/internal/store"
)

// removeBlock is the exact inverse of persistBlock: remove_tx / remove_utxo
// / remove_inputs from original_source/backend/src/eutxo/eutxo_tx_write_service.rs,
// applied tx-by-tx in reverse so a utxo's removal always happens before the
// transaction row that created it is removed.
func (e *Engine) removeBlock(batch *pebble.Batch, block model.Block) error {
	for i := len(block.Txs) - 1; i >= 0; i-- {
		if err := e.removeTx(batch, block.Header.Height, model.TxIndex(i), block.Txs[i]); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}
	heightBytes := codec.EncodeHeightPrefix(block.Header.Height)
	if err := e.store.Shared.BlockHashByPk.DeleteBatch(batch, heightBytes[:]); err != nil {
		return err
	}
	return e.store.Shared.BlockPkByHash.DeleteBatch(batch, block.Header.Hash[:])
}

func (e *Engine) removeTx(batch *pebble.Batch, height model.BlockHeight, txIndex model.TxIndex, tx model.Tx) error {
	txPk := codec.EncodeTxPk(height, txIndex)

	for inputIndex := len(tx.Inputs) - 1; inputIndex >= 0; inputIndex-- {
		inputPk := codec.EncodeUtxoPk(txPk, model.UtxoIndex(inputIndex))
		if err := e.removeInput(batch, inputPk); err != nil {
			return fmt.Errorf("input %d: %w", inputIndex, err)
		}
	}
	for outIndex := len(tx.Outputs) - 1; outIndex >= 0; outIndex-- {
		if err := e.removeUtxo(batch, txPk, tx.Outputs[outIndex]); err != nil {
			return fmt.Errorf("output %d: %w", outIndex, err)
		}
	}

	if err := e.store.Shared.TxHashByPk.DeleteBatch(batch, txPk[:]); err != nil {
		return err
	}
	return e.store.Shared.TxPkByHash.DeleteBatch(batch, tx.Hash[:])
}

func (e *Engine) removeInput(batch *pebble.Batch, inputPk codec.UtxoPk) error {
	utxoPkBytes, err := e.store.PerChain.UtxoPkByInputPk.GetFrom(batch, inputPk[:])
	if err != nil {
		return err
	}
	if utxoPkBytes == nil {
		// Nothing was ever recorded for this input (it resolved to no
		// known utxo at persist time), so there is nothing to undo.
		return nil
	}
	if err := e.store.PerChain.UtxoPkByInputPk.DeleteBatch(batch, inputPk[:]); err != nil {
		return err
	}
	return e.store.PerChain.InputPkByUtxoPk.DeleteBatch(batch, utxoPkBytes)
}

func (e *Engine) removeUtxo(batch *pebble.Batch, txPk codec.TxPk, u model.Utxo) error {
	utxoPk := codec.EncodeUtxoPk(txPk, u.Index)

	raw, err := e.store.PerChain.UtxoValueByPk.GetFrom(batch, utxoPk[:])
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	_, entries, err := codec.DecodeUtxoValue(raw)
	if err != nil {
		return err
	}

	if err := e.removeAssets(batch, utxoPk, u.Assets); err != nil {
		return err
	}

	for _, entry := range entries {
		if codec.IsO2OIndexId(entry.IndexId) {
			// O2O values carry no birth-pk deduplication of their own;
			// the loop over u.O2OIndexes below removes their one CF row
			// directly from the original decoded index values.
			continue
		}
		if err := e.removeO2MIndexedEntry(batch, entry.IndexId, entry.BirthPk, utxoPk); err != nil {
			return err
		}
	}
	for _, iv := range u.O2OIndexes {
		h := e.indexHandlesById(iv.IndexId)
		if h == nil {
			return fmt.Errorf("unknown o2o index id %d", iv.IndexId)
		}
		if err := h.BirthPkByValue.DeleteBatch(batch, iv.Value); err != nil {
			return err
		}
	}

	return e.store.PerChain.UtxoValueByPk.DeleteBatch(batch, utxoPk[:])
}

// removeAssets is the exact inverse of persistUtxo's combined asset-blob
// write: decode the one ASSETS_BY_UTXO_PK[utxoPk] record, walk each
// asset's birth-pk relation back out in reverse persist order, then
// delete the whole blob.
func (e *Engine) removeAssets(batch *pebble.Batch, utxoPk codec.UtxoPk, assets []model.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	raw, err := e.store.PerChain.AssetsByUtxoPk.GetFrom(batch, utxoPk[:])
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	records, err := codec.DecodeAssetsRecord(raw)
	if err != nil {
		return err
	}
	for i := len(assets) - 1; i >= 0; i-- {
		if i >= len(records) {
			continue
		}
		assetPk := codec.EncodeAssetPk(utxoPk, model.AssetIndex(i))
		if err := e.removeAssetBirthPkEntry(batch, assets[i].AssetId, records[i].BirthPk, assetPk); err != nil {
			return fmt.Errorf("asset %d: %w", i, err)
		}
	}
	return e.store.PerChain.AssetsByUtxoPk.DeleteBatch(batch, utxoPk[:])
}

// removeO2MIndexedEntry implements remove_o2m_indexed_entry: delete this
// utxo's own relation row (if it wasn't the birth pk itself), then check
// whether any relation pointing at the birth pk still remains; if none
// do, the birth-pk <-> index-value mapping itself is now orphaned and is
// deleted too.
func (e *Engine) removeO2MIndexedEntry(batch *pebble.Batch, indexId model.DbIndexId, birthPk, pk codec.UtxoPk) error {
	h := e.indexHandlesById(indexId)
	if h == nil {
		return fmt.Errorf("unknown o2m index id %d", indexId)
	}

	if birthPk != pk {
		if err := h.Relations.DeleteBatch(batch, codec.ConcatBirthPkWithPk(birthPk, pk)); err != nil {
			return err
		}
	}

	remaining, err := countPrefix(h.Relations, birthPk[:])
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	value, err := h.ValueByBirthPk.GetFrom(batch, birthPk[:])
	if err != nil {
		return err
	}
	if value != nil {
		if err := h.BirthPkByValue.DeleteBatch(batch, value); err != nil {
			return err
		}
	}
	return h.ValueByBirthPk.DeleteBatch(batch, birthPk[:])
}

func (e *Engine) removeAssetBirthPkEntry(batch *pebble.Batch, assetId []byte, birthPk, pk codec.AssetPk) error {
	if birthPk != pk {
		if err := e.store.PerChain.AssetBirthPkRelations.DeleteBatch(batch, codec.ConcatAssetBirthPkWithPk(birthPk, pk)); err != nil {
			return err
		}
	}

	remaining, err := countPrefix(e.store.PerChain.AssetBirthPkRelations, birthPk[:])
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	storedId, err := e.store.PerChain.AssetIdByBirthPk.GetFrom(batch, birthPk[:])
	if err != nil {
		return err
	}
	if storedId != nil {
		if err := e.store.PerChain.AssetBirthPkByAssetId.DeleteBatch(batch, storedId); err != nil {
			return err
		}
	} else if assetId != nil {
		if err := e.store.PerChain.AssetBirthPkByAssetId.DeleteBatch(batch, assetId); err != nil {
			return err
		}
	}
	return e.store.PerChain.AssetIdByBirthPk.DeleteBatch(batch, birthPk[:])
}

// countPrefix counts every key stored under subPrefix within cf. Relation
// counts are small in practice (the number of later utxos sharing one
// address/script/asset), so a full scan per removal is cheap relative to
// the reorg it is part of.
func countPrefix(cf store.CF, subPrefix []byte) (int, error) {
	it, err := cf.PrefixIterator(subPrefix)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	return n, nil
}
