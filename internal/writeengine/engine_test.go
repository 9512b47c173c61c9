package writeengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eutxo/indexer/internal/codec"
	"github.com/eutxo/indexer/internal/model"
	"github.com/eutxo/indexer/internal/schema"
	"github.com/eutxo/indexer/internal/store"
)

func openTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	const content = `
one_to_many_index:
  - name: ADDRESS
    enabled: true
  - name: SCRIPT_HASH
    enabled: true
one_to_one_index:
  - name: BOX_ID
    enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	sch, err := schema.LoadOrdered(path)
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	s, err := store.Open(t.TempDir(), store.SpecsFromSchema(sch))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, sch), s
}

// mustIndexId is a test-only convenience: look up a schema-assigned index
// id by name, failing the test if it isn't enabled.
func (e *Engine) mustIndexId(t *testing.T, name string) model.DbIndexId {
	t.Helper()
	for _, idx := range e.schema.O2M {
		if idx.Name == name {
			return idx.Id
		}
	}
	for _, idx := range e.schema.O2O {
		if idx.Name == name {
			return idx.Id
		}
	}
	t.Fatalf("index %s not enabled in test schema", name)
	return 0
}

func genesisLikeBlock(height model.BlockHeight, addr string) model.Block {
	var hash, prevHash model.BlockHash
	hash[0] = byte(height)
	if height > 1 {
		prevHash[0] = byte(height - 1)
	}
	return model.Block{
		Header: model.Header{Height: height, Hash: hash, PrevHash: prevHash, Time: model.BlockTimestamp(1000 + height)},
		Txs: []model.Tx{
			{
				Hash: model.TxHash{byte(height), 0xAA},
				Outputs: []model.Utxo{
					{Index: 0, Value: 5_000_000_000, O2MIndexes: []model.IndexValue{{Value: []byte(addr)}}},
				},
			},
		},
	}
}

// Invariant: persisting a block then reading back its header via the
// shared block-by-height/block-by-hash CFs reproduces exactly what was
// written (spec.md invariant 3: header consistency).
func TestPersistHeaderConsistency(t *testing.T) {
	e, s := openTestEngine(t)
	addrId := e.mustIndexId(t, "ADDRESS")

	block := genesisLikeBlock(1, "addr1")
	block.Txs[0].Outputs[0].O2MIndexes[0].IndexId = addrId

	if err := e.Persist([]model.Block{block}); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	heightBytes := codec.EncodeHeightPrefix(1)
	hash, found, err := s.GetHashByHeight(heightBytes[:])
	if err != nil || !found {
		t.Fatalf("GetHashByHeight: found=%v err=%v", found, err)
	}
	if string(hash) != string(block.Header.Hash[:]) {
		t.Fatalf("hash mismatch: got %x, want %x", hash, block.Header.Hash)
	}

	headerBytes, found, err := s.GetHeaderBytesByHash(block.Header.Hash[:])
	if err != nil || !found {
		t.Fatalf("GetHeaderBytesByHash: found=%v err=%v", found, err)
	}
	gotHeader, err := codec.DecodeHeader(headerBytes)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if gotHeader != block.Header {
		t.Fatalf("header mismatch: got %+v, want %+v", gotHeader, block.Header)
	}

	lastRaw, found, err := s.GetLastHeader()
	if err != nil || !found {
		t.Fatalf("GetLastHeader: found=%v err=%v", found, err)
	}
	lastHeader, err := codec.DecodeHeader(lastRaw)
	if err != nil {
		t.Fatalf("DecodeHeader last: %v", err)
	}
	if lastHeader != block.Header {
		t.Fatalf("last header mismatch: got %+v, want %+v", lastHeader, block.Header)
	}
}

// Invariant: two utxos sharing the same secondary-index value get exactly
// one birth pk between them, and the second utxo's relation row points at
// the first (spec.md invariant 4: birth-pk uniqueness).
func TestBirthPkUniquenessAcrossSharedIndexValue(t *testing.T) {
	e, s := openTestEngine(t)
	addrId := e.mustIndexId(t, "ADDRESS")

	block1 := genesisLikeBlock(1, "shared-addr")
	block1.Txs[0].Outputs[0].O2MIndexes[0].IndexId = addrId
	block2 := genesisLikeBlock(2, "shared-addr")
	block2.Txs[0].Outputs[0].O2MIndexes[0].IndexId = addrId

	if err := e.Persist([]model.Block{block1, block2}); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	utxoPk1 := codec.EncodeUtxoPk(codec.EncodeTxPk(1, 0), 0)
	utxoPk2 := codec.EncodeUtxoPk(codec.EncodeTxPk(2, 0), 0)

	raw1, err := s.PerChain.UtxoValueByPk.Get(utxoPk1[:])
	if err != nil {
		t.Fatalf("Get utxo1: %v", err)
	}
	_, entries1, err := codec.DecodeUtxoValue(raw1)
	if err != nil {
		t.Fatalf("DecodeUtxoValue 1: %v", err)
	}
	raw2, err := s.PerChain.UtxoValueByPk.Get(utxoPk2[:])
	if err != nil {
		t.Fatalf("Get utxo2: %v", err)
	}
	_, entries2, err := codec.DecodeUtxoValue(raw2)
	if err != nil {
		t.Fatalf("DecodeUtxoValue 2: %v", err)
	}

	if len(entries1) != 1 || len(entries2) != 1 {
		t.Fatalf("expected one index entry each, got %d and %d", len(entries1), len(entries2))
	}
	if entries1[0].BirthPk != utxoPk1 {
		t.Fatalf("first utxo should be its own birth pk")
	}
	if entries2[0].BirthPk != utxoPk1 {
		t.Fatalf("second utxo should point back at the first's birth pk, got %x want %x", entries2[0].BirthPk, utxoPk1)
	}

	idx := e.store.Indexes["ADDRESS"]
	stored, err := idx.BirthPkByValue.Get([]byte("shared-addr"))
	if err != nil {
		t.Fatalf("BirthPkByValue: %v", err)
	}
	if string(stored) != string(utxoPk1[:]) {
		t.Fatalf("birth-pk-by-value should resolve to the first utxo")
	}
}

// Invariant: spending a utxo writes symmetric input<->utxo rows, and
// removing the block that spent it undoes exactly those rows (spec.md
// invariant 6: input/output mirror).
func TestInputOutputMirrorAndRemoval(t *testing.T) {
	e, s := openTestEngine(t)
	addrId := e.mustIndexId(t, "ADDRESS")

	block1 := genesisLikeBlock(1, "addr1")
	block1.Txs[0].Outputs[0].O2MIndexes[0].IndexId = addrId
	spentUtxoPk := codec.EncodeUtxoPk(codec.EncodeTxPk(1, 0), 0)

	block2 := model.Block{
		Header: model.Header{Height: 2, Hash: model.BlockHash{2}, PrevHash: model.BlockHash{1}, Time: 1002},
		Txs: []model.Tx{
			{
				Hash:   model.TxHash{2, 0xAA},
				Inputs: []model.Input{{TxHash: block1.Txs[0].Hash, UtxoIndex: 0}},
				Outputs: []model.Utxo{
					{Index: 0, Value: 4_999_000_000, O2MIndexes: []model.IndexValue{{IndexId: addrId, Value: []byte("addr2")}}},
				},
			},
		},
	}

	if err := e.Persist([]model.Block{block1, block2}); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	inputPk := codec.EncodeUtxoPk(codec.EncodeTxPk(2, 0), 0)
	gotUtxoPk, err := s.PerChain.UtxoPkByInputPk.Get(inputPk[:])
	if err != nil {
		t.Fatalf("UtxoPkByInputPk: %v", err)
	}
	if string(gotUtxoPk) != string(spentUtxoPk[:]) {
		t.Fatalf("UtxoPkByInputPk mismatch: got %x, want %x", gotUtxoPk, spentUtxoPk)
	}
	gotInputPk, err := s.PerChain.InputPkByUtxoPk.Get(spentUtxoPk[:])
	if err != nil {
		t.Fatalf("InputPkByUtxoPk: %v", err)
	}
	if string(gotInputPk) != string(inputPk[:]) {
		t.Fatalf("InputPkByUtxoPk mismatch: got %x, want %x", gotInputPk, inputPk)
	}

	// Remove block2: the spend rows must vanish and the spent utxo's own
	// value record (from block1) must remain untouched.
	if err := e.Remove([]model.Block{block2}, &block1.Header); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if v, err := s.PerChain.UtxoPkByInputPk.Get(inputPk[:]); err != nil || v != nil {
		t.Fatalf("expected UtxoPkByInputPk removed, got %x err=%v", v, err)
	}
	if v, err := s.PerChain.InputPkByUtxoPk.Get(spentUtxoPk[:]); err != nil || v != nil {
		t.Fatalf("expected InputPkByUtxoPk removed, got %x err=%v", v, err)
	}
	if v, err := s.PerChain.UtxoValueByPk.Get(spentUtxoPk[:]); err != nil || v == nil {
		t.Fatalf("expected block1's utxo value record to survive removal of block2, err=%v", err)
	}
}

// Invariant: removing every persisted block returns the store to empty
// (the full-undo half of spec.md invariant 7; replay is not exercised).
func TestRemoveAllIsFullUndo(t *testing.T) {
	e, s := openTestEngine(t)
	addrId := e.mustIndexId(t, "ADDRESS")

	block := genesisLikeBlock(1, "addr1")
	block.Txs[0].Outputs[0].O2MIndexes[0].IndexId = addrId

	if err := e.Persist([]model.Block{block}); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := e.Remove([]model.Block{block}, nil); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	utxoPk := codec.EncodeUtxoPk(codec.EncodeTxPk(1, 0), 0)
	if v, err := s.PerChain.UtxoValueByPk.Get(utxoPk[:]); err != nil || v != nil {
		t.Fatalf("expected utxo value removed, got %x err=%v", v, err)
	}
	idx := e.store.Indexes["ADDRESS"]
	if v, err := idx.BirthPkByValue.Get([]byte("addr1")); err != nil || v != nil {
		t.Fatalf("expected birth-pk-by-value removed, got %x err=%v", v, err)
	}
	heightBytes := codec.EncodeHeightPrefix(1)
	if _, found, err := s.GetHashByHeight(heightBytes[:]); err != nil || found {
		t.Fatalf("expected block hash removed, found=%v err=%v", found, err)
	}
	if _, found, err := s.GetLastHeader(); err != nil || found {
		t.Fatalf("expected no last header after full removal, found=%v err=%v", found, err)
	}
}

// Covers spec.md's S3 scenario: a utxo carries an asset that is a mint,
// and a later utxo carries the same asset id as a plain transfer — both
// persist into the same shared ASSETS_BY_UTXO_PK/birth-pk scheme assets
// use, and the birth pk is deduplicated exactly like a secondary index.
func TestAssetMintThenTransfer(t *testing.T) {
	e, s := openTestEngine(t)
	assetId := []byte{0xAB, 0xCD}

	block1 := model.Block{
		Header: model.Header{Height: 1, Hash: model.BlockHash{1}},
		Txs: []model.Tx{{
			Hash: model.TxHash{1, 0xAA},
			Outputs: []model.Utxo{{
				Index: 0, Value: 1000,
				Assets: []model.Asset{{AssetId: assetId, Amount: 100, Action: model.AssetActionMint}},
			}},
		}},
	}
	block2 := model.Block{
		Header: model.Header{Height: 2, Hash: model.BlockHash{2}, PrevHash: model.BlockHash{1}},
		Txs: []model.Tx{{
			Hash: model.TxHash{2, 0xAA},
			Outputs: []model.Utxo{{
				Index: 0, Value: 1000,
				Assets: []model.Asset{{AssetId: assetId, Amount: 100, Action: model.AssetActionTransfer}},
			}},
		}},
	}

	if err := e.Persist([]model.Block{block1, block2}); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	utxoPk1 := codec.EncodeUtxoPk(codec.EncodeTxPk(1, 0), 0)
	utxoPk2 := codec.EncodeUtxoPk(codec.EncodeTxPk(2, 0), 0)
	birthAssetPk := codec.EncodeAssetPk(utxoPk1, 0)

	raw1, err := s.PerChain.AssetsByUtxoPk.Get(utxoPk1[:])
	if err != nil {
		t.Fatalf("Get assets1: %v", err)
	}
	records1, err := codec.DecodeAssetsRecord(raw1)
	if err != nil {
		t.Fatalf("DecodeAssetsRecord 1: %v", err)
	}
	if len(records1) != 1 || records1[0].Action != model.AssetActionMint || records1[0].BirthPk != birthAssetPk {
		t.Fatalf("unexpected mint record: %+v", records1)
	}

	raw2, err := s.PerChain.AssetsByUtxoPk.Get(utxoPk2[:])
	if err != nil {
		t.Fatalf("Get assets2: %v", err)
	}
	records2, err := codec.DecodeAssetsRecord(raw2)
	if err != nil {
		t.Fatalf("DecodeAssetsRecord 2: %v", err)
	}
	if len(records2) != 1 || records2[0].Action != model.AssetActionTransfer || records2[0].BirthPk != birthAssetPk {
		t.Fatalf("transfer record should reference the mint's birth pk: %+v", records2)
	}

	storedAssetId, err := s.PerChain.AssetBirthPkByAssetId.Get(assetId)
	if err != nil {
		t.Fatalf("AssetBirthPkByAssetId: %v", err)
	}
	if string(storedAssetId) != string(birthAssetPk[:]) {
		t.Fatalf("asset birth pk mismatch: got %x, want %x", storedAssetId, birthAssetPk)
	}
}
