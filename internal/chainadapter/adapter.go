// Package chainadapter translates a chainclient.RawBlock into the
// chain-agnostic internal/model.Block the WriteEngine persists, resolving
// each chain's own address/script/asset conventions into the Schema's
// secondary-index values.
package chainadapter

import (
	"context"

	"github.com/eutxo/indexer/internal/chainclient"
	"github.com/eutxo/indexer/internal/model"
	"github.com/eutxo/indexer/internal/schema"
)

// Adapter is the per-chain decode step BlockProvider's decode stage calls
// for every raw block it fetches. ctx bounds any client lookup an adapter
// needs mid-decode (Bitcoin's BIP34 fallback, for one) — most chains
// ignore it.
type Adapter interface {
	Decode(ctx context.Context, raw chainclient.RawBlock) (model.Block, error)
}

// indexLookup is the small subset of schema.Schema an Adapter needs: the
// id assigned to each index name it knows how to compute, if enabled.
type indexLookup struct {
	sch *schema.Schema
}

func (l indexLookup) id(name string) (model.DbIndexId, bool) {
	idx, ok := l.sch.ByName(name)
	if !ok {
		return 0, false
	}
	return idx.Id, true
}
