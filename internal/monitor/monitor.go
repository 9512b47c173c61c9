// Package monitor logs indexing throughput, the Go translation of
// BlockMonitor (original_source/backend/src/api.rs) and the progress-log
// idiom runner.PRunner.logProgress uses: periodic, rate-based lines
// instead of logging every block.
package monitor

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/eutxo/indexer/internal/model"
)

// Monitor tracks indexing progress and logs it at a bounded rate so a
// fast initial sync doesn't spam stdout with one line per block.
type Monitor struct {
	chain string
	tip   atomic.Uint64

	processedSinceLog atomic.Int64
	lastLog           atomic.Int64 // unix nanos
	logEvery          time.Duration
}

func New(chain string) *Monitor {
	m := &Monitor{chain: chain, logEvery: 5 * time.Second}
	m.lastLog.Store(time.Now().UnixNano())
	return m
}

// SetTip records the chain's last-observed tip height, used only to
// report how far behind the indexer still is.
func (m *Monitor) SetTip(height uint64) {
	m.tip.Store(height)
}

// Observe records that a batch of blocks up to and including height was
// just persisted, logging a progress line if enough time has passed.
func (m *Monitor) Observe(height model.BlockHeight, batchSize int) {
	m.processedSinceLog.Add(int64(batchSize))

	now := time.Now()
	last := time.Unix(0, m.lastLog.Load())
	if now.Sub(last) < m.logEvery {
		return
	}
	if !m.lastLog.CompareAndSwap(last.UnixNano(), now.UnixNano()) {
		return // another goroutine already logged this tick
	}

	processed := m.processedSinceLog.Swap(0)
	rate := float64(processed) / now.Sub(last).Seconds()
	tip := m.tip.Load()
	behind := int64(tip) - int64(height)
	if behind < 0 {
		behind = 0
	}
	log.Printf("[%s-monitor] height=%d tip=%d behind=%d rate=%.0f blk/s", m.chain, height, tip, behind, rate)
}
