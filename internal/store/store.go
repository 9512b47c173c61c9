// Package store wraps a single pebble database with the column-family
// abstraction the rest of the indexer is written against. Pebble, unlike
// RocksDB (the store the original implementation and this module's own
// Rust ancestor target), has no native column-family concept. We emulate
// one with a stable byte-prefix per logical family, directly generalizing
// the teacher's own convention in indexers/utxos/store.go (prefixPChainUTXO
// = "p-utxo:", prefixPChainAddr = "p-addr:", ...): every "CF" here is a
// thin handle carrying the shared *pebble.DB plus its prefix, so Get/Set/
// iteration all stay prefix-scoped without the caller ever touching the
// unprefixed keyspace directly.
package store

import (
	"io"
	"log"

	"github.com/cockroachdb/pebble/v2"
	"github.com/eutxo/indexer/internal/apperr"
	"github.com/eutxo/indexer/internal/schema"
)

// quietLogger silences pebble's info-level chatter, keeping only errors —
// the teacher's exact db.QuietLogger() idiom (db/pebble.go).
type quietLogger struct{}

func (quietLogger) Infof(format string, args ...interface{}) {}
func (quietLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[pebble] "+format, args...)
}
func (quietLogger) Fatalf(format string, args ...interface{}) {
	log.Fatalf("[pebble] "+format, args...)
}

// CF is a handle to one logical column family: a shared pebble DB plus a
// stable prefix no other CF uses. compactionEnabled records whether this
// family expects range-deletion compaction to actually reclaim space. It
// is off for the *_RELATIONS and *_BY_UTXO_BIRTH_PK families and for the
// asset-id-by-birth-pk family (compaction: false for those in
// original_source/src/eutxo/eutxo_schema.rs) and on for every other family.
type CF struct {
	db                *pebble.DB
	prefix            []byte
	compactionEnabled bool
}

func newCF(db *pebble.DB, name string, compactionEnabled bool) CF {
	return CF{db: db, prefix: append([]byte(name), ':'), compactionEnabled: compactionEnabled}
}

func (c CF) key(k []byte) []byte {
	buf := make([]byte, 0, len(c.prefix)+len(k))
	buf = append(buf, c.prefix...)
	buf = append(buf, k...)
	return buf
}

func (c CF) Get(k []byte) ([]byte, error) {
	v, closer, err := c.db.Get(c.key(k))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Reader is satisfied by both *pebble.DB and a *pebble.Batch opened with
// NewIndexedBatch — letting GetFrom read either committed state or the
// pending writes of the in-flight batch (read-your-writes within one
// WriteEngine.Persist call).
type Reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func (c CF) GetFrom(r Reader, k []byte) ([]byte, error) {
	v, closer, err := r.Get(c.key(k))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// NewIndexedBatch starts a batch whose own pending writes are visible to
// GetFrom before Commit is called.
func (s *Store) NewIndexedBatch() *pebble.Batch {
	return s.DB.NewIndexedBatch()
}

func (c CF) SetBatch(b *pebble.Batch, k, v []byte) error {
	return b.Set(c.key(k), v, nil)
}

func (c CF) DeleteBatch(b *pebble.Batch, k []byte) error {
	return b.Delete(c.key(k), nil)
}

// PrefixIterator walks every key stored under the given sub-prefix within
// this CF (e.g. every relation row hanging off a single birth pk).
func (c CF) PrefixIterator(subPrefix []byte) (*pebble.Iterator, error) {
	lower := c.key(subPrefix)
	upper := append(append([]byte{}, lower...))
	upper = incrementBytes(upper)
	return c.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
}

func incrementBytes(b []byte) []byte {
	out := append([]byte{}, b...)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			return out
		}
	}
	// all bytes wrapped (vanishingly unlikely 0xFF..FF prefix): no finite
	// upper bound exists, so the caller gets an unbounded iterator.
	return nil
}

// Store owns the pebble database and the set of CF handles the schema and
// fixed shared layout require.
type Store struct {
	DB *pebble.DB

	Shared  SharedHandles
	PerChain PerChainHandles
	Indexes map[string]IndexHandles
}

// SharedHandles are column families common to every chain.
type SharedHandles struct {
	Meta          CF // last-processed header
	BlockHashByPk CF // height -> hash
	BlockPkByHash CF // hash -> full encoded header (codec.EncodeHeader), not just height
	TxHashByPk    CF
	TxPkByHash    CF
}

// PerChainHandles are the utxo-domain column families.
type PerChainHandles struct {
	UtxoValueByPk         CF
	UtxoPkByInputPk       CF
	InputPkByUtxoPk       CF
	AssetsByUtxoPk        CF // keyed by UtxoPk(8): one packed record listing every asset the utxo carries
	AssetBirthPkByAssetId CF
	AssetIdByBirthPk      CF
	AssetBirthPkRelations CF
}

// IndexHandles are the column families one secondary index needs.
type IndexHandles struct {
	Name             string
	IsO2O            bool
	Relations        CF // o2m only
	BirthPkByValue   CF
	ValueByBirthPk   CF // o2m only
}

const (
	cfMeta         = "META"
	cfBlockHashPk  = "BLOCK_HASH_BY_PK"
	cfBlockPkHash  = "BLOCK_PK_BY_HASH"
	cfTxHashPk     = "TX_HASH_BY_PK"
	cfTxPkHash     = "TX_PK_BY_HASH"
	cfUtxoValuePk       = "UTXO_VALUE_BY_PK"
	cfUtxoPkInput       = "UTXO_PK_BY_INPUT_PK"
	cfInputPkUtxo       = "INPUT_PK_BY_UTXO_PK"
	cfAssetsByUtxoPk    = "ASSETS_BY_UTXO_PK"
	cfAssetBirthPkById  = "ASSET_BIRTH_PK_BY_ASSET_ID"
	cfAssetIdByBirthPk  = "ASSET_ID_BY_BIRTH_PK"
	cfAssetBirthPkRelns = "ASSET_BIRTH_PK_RELATIONS"

	// MetaLastHeaderKey stores the 72-byte encoded header of the most
	// recently persisted block, mirroring original_source/backend/src/indexer.rs's
	// LAST_HEADER_KEY.
	MetaLastHeaderKey = "last_header"
)

// Options returns the pebble tuning options, lifted from the teacher's
// cmd/server/main.go pebbleOpts() and scaled to the larger per-chain
// working sets a utxo-set-wide index implies.
func Options() *pebble.Options {
	return &pebble.Options{
		Logger:                     quietLogger{},
		L0CompactionThreshold:      8,
		L0StopWritesThreshold:      24,
		LBaseMaxBytes:              512 << 20,
		MemTableSize:               128 << 20,
		CompactionConcurrencyRange: func() (int, int) { return 4, 8 },
	}
}

// SpecsFromSchema flattens a resolved schema.Schema into the CF specs Open
// needs.
func SpecsFromSchema(sch *schema.Schema) []IndexCFSpec {
	specs := make([]IndexCFSpec, 0, len(sch.O2M)+len(sch.O2O))
	for _, idx := range sch.O2M {
		specs = append(specs, IndexCFSpec{
			Name:             idx.Name,
			IsO2O:            false,
			RelationsCF:      idx.RelationsCF,
			BirthPkByValueCF: idx.BirthPkByValueCF,
			ValueByBirthPkCF: idx.ValueByBirthPkCF,
		})
	}
	for _, idx := range sch.O2O {
		specs = append(specs, IndexCFSpec{
			Name:             idx.Name,
			IsO2O:            true,
			BirthPkByValueCF: idx.BirthPkByValueCF,
		})
	}
	return specs
}

// Open opens (or creates) the pebble database at dir and builds every CF
// handle the shared layout plus the given schema indexes require.
func Open(dir string, indexCFNames []IndexCFSpec) (*Store, error) {
	db, err := pebble.Open(dir, Options())
	if err != nil {
		return nil, &apperr.IoError{Op: "open pebble db " + dir, Err: err}
	}

	s := &Store{
		DB: db,
		Shared: SharedHandles{
			Meta:         newCF(db, cfMeta, true),
			BlockHashByPk: newCF(db, cfBlockHashPk, true),
			BlockPkByHash: newCF(db, cfBlockPkHash, true),
			TxHashByPk:    newCF(db, cfTxHashPk, true),
			TxPkByHash:    newCF(db, cfTxPkHash, true),
		},
		PerChain: PerChainHandles{
			UtxoValueByPk:         newCF(db, cfUtxoValuePk, true),
			UtxoPkByInputPk:       newCF(db, cfUtxoPkInput, true),
			InputPkByUtxoPk:       newCF(db, cfInputPkUtxo, true),
			AssetsByUtxoPk:        newCF(db, cfAssetsByUtxoPk, true),
			AssetBirthPkByAssetId: newCF(db, cfAssetBirthPkById, true),
			AssetIdByBirthPk:      newCF(db, cfAssetIdByBirthPk, false),
			AssetBirthPkRelations: newCF(db, cfAssetBirthPkRelns, false),
		},
		Indexes: make(map[string]IndexHandles, len(indexCFNames)),
	}

	for _, spec := range indexCFNames {
		h := IndexHandles{Name: spec.Name, IsO2O: spec.IsO2O}
		if spec.IsO2O {
			h.BirthPkByValue = newCF(db, spec.BirthPkByValueCF, true)
		} else {
			h.Relations = newCF(db, spec.RelationsCF, false)
			h.BirthPkByValue = newCF(db, spec.BirthPkByValueCF, true)
			h.ValueByBirthPk = newCF(db, spec.ValueByBirthPkCF, false)
		}
		s.Indexes[spec.Name] = h
	}

	return s, nil
}

// IndexCFSpec is the minimal shape Open needs from a resolved schema.Index
// without importing the schema package (which would create an import
// cycle were schema ever to need store types).
type IndexCFSpec struct {
	Name             string
	IsO2O            bool
	RelationsCF      string
	BirthPkByValueCF string
	ValueByBirthPkCF string
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// GetLastHeader returns the encoded last persisted header, or
// (nil, false, nil) if the store is empty.
func (s *Store) GetLastHeader() (header []byte, found bool, err error) {
	v, err := s.Shared.Meta.Get([]byte(MetaLastHeaderKey))
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// GetHeaderBytesByHash returns the encoded header stored under a block
// hash, or (nil, false, nil) if no block with that hash has been
// persisted.
func (s *Store) GetHeaderBytesByHash(hash []byte) (header []byte, found bool, err error) {
	v, err := s.Shared.BlockPkByHash.Get(hash)
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// GetHashByHeight returns the block hash stored at a given height, or
// (nil, false, nil) if nothing is persisted at that height.
func (s *Store) GetHashByHeight(heightKey []byte) (hash []byte, found bool, err error) {
	v, err := s.Shared.BlockHashByPk.Get(heightKey)
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}
