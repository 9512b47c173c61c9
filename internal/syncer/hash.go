package syncer

import (
	"encoding/hex"
	"fmt"

	"github.com/eutxo/indexer/internal/model"
)

func parseHash(s string) (model.BlockHash, error) {
	var h model.BlockHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != 32 {
		return h, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}
