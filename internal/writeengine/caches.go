package writeengine

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/eutxo/indexer/internal/codec"
	"github.com/eutxo/indexer/internal/model"
)

// caches mirrors the five LRU caches original_source/backend/src/eutxo/eutxo_tx_write_service.rs
// keeps in front of the store: tx_pk_by_tx_hash, utxo_pk_by_o2o_value,
// utxo_birth_pk_by_o2m_value (one per o2m index name), asset_birth_pk_by_asset_id
// and block_hash_by_height (height -> block hash). They are authoritative only for values this process
// itself wrote — never relied on as the sole source of truth for values
// that might have been written by a prior process run, and never evicted
// on writeback (eviction just means the next lookup falls through to the
// store, which is always correct, only slower).
type caches struct {
	txPkByTxHash     *lru.Cache[model.TxHash, codec.TxPk]
	utxoPkByO2OValue map[model.DbIndexId]*lru.Cache[string, codec.UtxoPk]
	birthPkByO2MValue map[model.DbIndexId]*lru.Cache[string, codec.UtxoPk]
	assetBirthPkByAssetId *lru.Cache[string, codec.AssetPk]
	blockHashByHeight *lru.Cache[model.BlockHeight, model.BlockHash]
}

const defaultCacheSize = 1 << 20

func newCaches(o2mIndexIds, o2oIndexIds []model.DbIndexId) *caches {
	txPk, _ := lru.New[model.TxHash, codec.TxPk](defaultCacheSize)
	assetPk, _ := lru.New[string, codec.AssetPk](defaultCacheSize)
	blockHash, _ := lru.New[model.BlockHeight, model.BlockHash](1 << 16)

	c := &caches{
		txPkByTxHash:          txPk,
		utxoPkByO2OValue:      make(map[model.DbIndexId]*lru.Cache[string, codec.UtxoPk], len(o2oIndexIds)),
		birthPkByO2MValue:     make(map[model.DbIndexId]*lru.Cache[string, codec.UtxoPk], len(o2mIndexIds)),
		assetBirthPkByAssetId: assetPk,
		blockHashByHeight:     blockHash,
	}
	for _, id := range o2oIndexIds {
		c.utxoPkByO2OValue[id], _ = lru.New[string, codec.UtxoPk](defaultCacheSize)
	}
	for _, id := range o2mIndexIds {
		c.birthPkByO2MValue[id], _ = lru.New[string, codec.UtxoPk](defaultCacheSize)
	}
	return c
}
