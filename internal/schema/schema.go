// Package schema loads the YAML secondary-index declaration file and
// assigns each enabled index a compact id and a set of column-family
// names, mirroring original_source/src/eutxo/eutxo_schema.rs's
// RawOutputIndexes -> DbOutputIndexLayout conversion: o2m indexes are
// numbered ascending from 0 in declaration order, o2o indexes are numbered
// descending from 255, and only "enabled: true" entries are assigned at
// all.
package schema

import (
	"fmt"
	"os"

	"github.com/eutxo/indexer/internal/apperr"
	"github.com/eutxo/indexer/internal/model"
	"gopkg.in/yaml.v3"
)

// Index is one assigned secondary index: its name, its compact id, and
// the column-family names it needs.
type Index struct {
	Name               string
	Id                 model.DbIndexId
	RelationsCF        string // O2M_<NAME>_RELATIONS (o2m only, compaction disabled)
	BirthPkByValueCF   string // O2M_UTXO_BIRTH_PK_BY_<NAME> / O2O_UTXO_BIRTH_PK_BY_<NAME>
	ValueByBirthPkCF   string // O2M_<NAME>_BY_UTXO_BIRTH_PK (o2m only, compaction disabled)
}

// Schema is the fully resolved set of o2m and o2o secondary indexes for
// one configured chain.
type Schema struct {
	O2M []Index
	O2O []Index

	byName map[string]Index
}

// orderedFile is the on-disk shape the YAML file takes: ordered lists of
// name/enabled pairs rather than unordered maps, so that o2m ids
// (ascending from 0) and o2o ids (descending from 255) are a pure function
// of file content, byte for byte reproducible across runs. A YAML mapping
// would not guarantee this, since Go decodes YAML maps into Go maps whose
// iteration order is randomized.
type orderedEntry struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

type orderedFile struct {
	OneToManyIndex []orderedEntry `yaml:"one_to_many_index"`
	OneToOneIndex  []orderedEntry `yaml:"one_to_one_index"`
}

func LoadOrdered(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperr.IoError{Op: "read schema " + path, Err: err}
	}
	var raw orderedFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &apperr.SchemaError{Msg: fmt.Sprintf("parse %s: %v", path, err)}
	}
	o2mNames := make([]string, 0, len(raw.OneToManyIndex))
	o2mEnabled := make(map[string]bool, len(raw.OneToManyIndex))
	for _, e := range raw.OneToManyIndex {
		o2mNames = append(o2mNames, e.Name)
		o2mEnabled[e.Name] = e.Enabled
	}
	o2oNames := make([]string, 0, len(raw.OneToOneIndex))
	o2oEnabled := make(map[string]bool, len(raw.OneToOneIndex))
	for _, e := range raw.OneToOneIndex {
		o2oNames = append(o2oNames, e.Name)
		o2oEnabled[e.Name] = e.Enabled
	}
	return resolveOrdered(o2mNames, o2mEnabled, o2oNames, o2oEnabled)
}

func resolveOrdered(o2mNames []string, o2mEnabled map[string]bool, o2oNames []string, o2oEnabled map[string]bool) (*Schema, error) {
	s := &Schema{byName: make(map[string]Index)}

	nextO2M := model.DbIndexId(0)
	for _, name := range o2mNames {
		if !o2mEnabled[name] {
			continue
		}
		idx := Index{
			Name:             name,
			Id:               nextO2M,
			RelationsCF:      "O2M_" + name + "_RELATIONS",
			BirthPkByValueCF: "O2M_UTXO_BIRTH_PK_BY_" + name,
			ValueByBirthPkCF: "O2M_" + name + "_BY_UTXO_BIRTH_PK",
		}
		s.O2M = append(s.O2M, idx)
		s.byName[name] = idx
		nextO2M++
		if nextO2M == 0 {
			return nil, &apperr.SchemaError{Msg: "too many one_to_many_index entries (max 256)"}
		}
	}

	nextO2O := model.DbIndexId(255)
	for i, name := range o2oNames {
		if !o2oEnabled[name] {
			continue
		}
		idx := Index{
			Name:             name,
			Id:               nextO2O,
			BirthPkByValueCF: "O2O_UTXO_BIRTH_PK_BY_" + name,
		}
		s.O2O = append(s.O2O, idx)
		s.byName[name] = idx
		if i+1 < len(o2oNames) {
			if nextO2O == 0 {
				return nil, &apperr.SchemaError{Msg: "too many one_to_one_index entries (max 256)"}
			}
			nextO2O--
		}
	}

	return s, nil
}

// ByName returns the resolved Index for a declared index name, or false if
// it was absent or disabled.
func (s *Schema) ByName(name string) (Index, bool) {
	idx, ok := s.byName[name]
	return idx, ok
}

// ColumnFamilyNames returns every column family this schema requires, in
// addition to the fixed shared/per-chain set the Store always opens.
func (s *Schema) ColumnFamilyNames() []string {
	var names []string
	for _, idx := range s.O2M {
		names = append(names, idx.RelationsCF, idx.BirthPkByValueCF, idx.ValueByBirthPkCF)
	}
	for _, idx := range s.O2O {
		names = append(names, idx.BirthPkByValueCF)
	}
	return names
}
