package runtimeconfig

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/config"
)

func bootSettings() *config.Settings {
	return &config.Settings{
		Mode:                    config.ModePaper,
		EntryScoreMin:           60,
		ScoutScoreMin:           50,
		StrongScoreMin:          75,
		WhaleScoreMin:           88,
		ConfluenceBoost:         15,
		MinRRRatio:              1.5,
		SpreadMaxBps:            40,
		MaxTradeUSD:             250,
		DailyMaxLossUSD:         25,
		DustThresholdUSD:        1,
		PositionBasePct:         0.015,
		PositionMaxPct:          0.05,
		PortfolioMaxExposurePct: 0.85,
		TP1PartialPct:           0.5,
		MaxPositions:            8,
	}
}

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(bootSettings(),
		filepath.Join(dir, "runtime_config.json"),
		filepath.Join(dir, "config_audit.jsonl"),
		zerolog.Nop())
}

func TestUpdateAndGetParam(t *testing.T) {
	st := testStore(t)

	if err := st.UpdateParam("entry_score_min", 65, "test"); err != nil {
		t.Fatalf("UpdateParam: %v", err)
	}
	got, err := st.GetParam("entry_score_min")
	if err != nil || got != 65 {
		t.Errorf("GetParam = %v %v, want 65", got, err)
	}
	if st.Config().EntryScoreMin != 65 {
		t.Errorf("snapshot EntryScoreMin = %v, want 65", st.Config().EntryScoreMin)
	}
}

func TestUpdateParamSnapshotIsolation(t *testing.T) {
	st := testStore(t)
	before := st.Config()
	if err := st.UpdateParam("max_trade_usd", 100, "test"); err != nil {
		t.Fatalf("UpdateParam: %v", err)
	}
	if before.MaxTradeUSD != 250 {
		t.Error("old snapshot mutated by update")
	}
	if st.Config().MaxTradeUSD != 100 {
		t.Error("new snapshot missing update")
	}
}

func TestPercentParamsConvert(t *testing.T) {
	st := testStore(t)

	// Wire value 2.5 (percent) is stored as the 0.025 fraction.
	if err := st.UpdateParam("position_base_pct", 2.5, "test"); err != nil {
		t.Fatalf("UpdateParam: %v", err)
	}
	if got := st.Config().PositionBasePct; got != 0.025 {
		t.Errorf("stored fraction = %v, want 0.025", got)
	}
	if got, _ := st.GetParam("position_base_pct"); got != 2.5 {
		t.Errorf("wire value = %v, want 2.5", got)
	}
}

func TestUpdateParamRejections(t *testing.T) {
	st := testStore(t)

	err := st.UpdateParam("nonexistent_param", 1, "test")
	if !errors.Is(err, ErrUnknownParam) {
		t.Errorf("unknown param error = %v, want ErrUnknownParam", err)
	}
	err = st.UpdateParam("entry_score_min", 150, "test")
	if !errors.Is(err, ErrInvalidValue) {
		t.Errorf("out-of-range error = %v, want ErrInvalidValue", err)
	}
	// Failed updates leave the snapshot untouched.
	if st.Config().EntryScoreMin != 60 {
		t.Errorf("EntryScoreMin = %v after rejected update, want 60", st.Config().EntryScoreMin)
	}
}

func TestUpdateParamFiresCallbacks(t *testing.T) {
	st := testStore(t)
	var seen float64
	st.OnChange(func(s *config.Settings) { seen = s.MinRRRatio })

	if err := st.UpdateParam("min_rr_ratio", 2.0, "test"); err != nil {
		t.Fatalf("UpdateParam: %v", err)
	}
	if seen != 2.0 {
		t.Errorf("callback saw MinRRRatio = %v, want 2.0", seen)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime_config.json")
	audit := filepath.Join(dir, "config_audit.jsonl")

	first := NewStore(bootSettings(), path, audit, zerolog.Nop())
	if err := first.UpdateParam("max_positions", 4, "test"); err != nil {
		t.Fatalf("UpdateParam: %v", err)
	}
	if err := first.SetPaused(true, "test"); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}

	second := NewStore(bootSettings(), path, audit, zerolog.Nop())
	if got := second.Config().MaxPositions; got != 4 {
		t.Errorf("reloaded MaxPositions = %d, want 4", got)
	}
	if !second.PauseNewEntries() {
		t.Error("pause flag lost across restart")
	}
	// Boot values for untouched params survive.
	if got := second.Config().EntryScoreMin; got != 60 {
		t.Errorf("reloaded EntryScoreMin = %v, want boot 60", got)
	}
}

func TestParamNamesClosed(t *testing.T) {
	names := ParamNames()
	if len(names) == 0 {
		t.Fatal("empty whitelist")
	}
	for _, name := range names {
		if _, err := testStore(t).GetParam(name); err != nil {
			t.Errorf("whitelisted param %q not readable: %v", name, err)
		}
	}
}

func TestStackingEnabledBoolean(t *testing.T) {
	st := testStore(t)
	if err := st.UpdateParam("stacking_enabled", 1, "test"); err != nil {
		t.Fatalf("UpdateParam: %v", err)
	}
	if !st.Config().StackingEnabled {
		t.Error("stacking_enabled=1 did not enable stacking")
	}
	if err := st.UpdateParam("stacking_enabled", 0, "test"); err != nil {
		t.Fatalf("UpdateParam: %v", err)
	}
	if st.Config().StackingEnabled {
		t.Error("stacking_enabled=0 did not disable stacking")
	}
}
