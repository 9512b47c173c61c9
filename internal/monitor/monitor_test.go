package monitor

import (
	"testing"
	"time"

	"github.com/eutxo/indexer/internal/model"
)

func TestObserveLogsAndResetsCounterWhenGateOpen(t *testing.T) {
	m := New("test")
	m.logEvery = 0 // force every Observe call past the rate gate

	m.SetTip(100)
	m.Observe(model.BlockHeight(90), 10)
	if got := m.processedSinceLog.Load(); got != 0 {
		t.Fatalf("processedSinceLog = %d, want 0 after logging", got)
	}
}

func TestObserveAccumulatesBeforeRateGateOpens(t *testing.T) {
	m := New("test")
	m.logEvery = time.Hour // never fires during this test

	m.Observe(model.BlockHeight(1), 5)
	m.Observe(model.BlockHeight(2), 7)

	if got := m.processedSinceLog.Load(); got != 12 {
		t.Fatalf("processedSinceLog = %d, want 12", got)
	}
}

func TestSetTipUpdatesBehindCalculation(t *testing.T) {
	m := New("test")
	m.SetTip(50)
	if got := m.tip.Load(); got != 50 {
		t.Fatalf("tip = %d, want 50", got)
	}
}
