package strategy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trading-bot/internal/candles"
	"coinbase-trading-bot/internal/features"
)

// fixedStrategy emits a canned signal, nil when sig is unset.
type fixedStrategy struct {
	id     SignalType
	sig    *Signal
	resets []string
}

func (f *fixedStrategy) ID() SignalType { return f.id }

func (f *fixedStrategy) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	return f.sig
}

func (f *fixedStrategy) Reset(symbol string) { f.resets = append(f.resets, symbol) }

func cannedSignal(id SignalType, score float64) *Signal {
	return &Signal{
		Symbol:        "XYZ-USD",
		StrategyID:    id,
		Direction:     "LONG",
		EdgeScoreBase: score,
		EntryPrice:    100,
		StopPrice:     97,
		TP1Price:      105,
		Timestamp:     time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateSoloSignal(t *testing.T) {
	o := NewOrchestrator([]Strategy{
		&fixedStrategy{id: SignalMomentum1h, sig: cannedSignal(SignalMomentum1h, 70)},
		&fixedStrategy{id: SignalBurstFlag},
	}, 15, zerolog.Nop())

	got := o.Evaluate(nil, nil, &Context{})
	if got == nil {
		t.Fatal("expected a signal")
	}
	if got.EdgeScoreBase != 70 {
		t.Errorf("EdgeScoreBase = %v, want unboosted 70", got.EdgeScoreBase)
	}
	if got.ConfluenceCount != 1 {
		t.Errorf("ConfluenceCount = %d, want 1", got.ConfluenceCount)
	}
	if len(got.Reasons) == 0 || got.Reasons[len(got.Reasons)-1] != "solo_signal" {
		t.Errorf("Reasons = %v, want trailing solo_signal", got.Reasons)
	}
}

func TestEvaluateConfluenceBoost(t *testing.T) {
	o := NewOrchestrator([]Strategy{
		&fixedStrategy{id: SignalMomentum1h, sig: cannedSignal(SignalMomentum1h, 70)},
		&fixedStrategy{id: SignalVWAPReclaim, sig: cannedSignal(SignalVWAPReclaim, 60)},
	}, 15, zerolog.Nop())

	got := o.Evaluate(nil, nil, &Context{})
	if got == nil {
		t.Fatal("expected a signal")
	}
	if got.StrategyID != SignalMomentum1h {
		t.Errorf("winner = %s, want the higher-scored momentum_1h", got.StrategyID)
	}
	if got.EdgeScoreBase != 85 {
		t.Errorf("EdgeScoreBase = %v, want 70 + 15 boost", got.EdgeScoreBase)
	}
	if got.ConfluenceCount != 2 {
		t.Errorf("ConfluenceCount = %d, want 2", got.ConfluenceCount)
	}
	if len(got.Reasons) == 0 || got.Reasons[len(got.Reasons)-1] != "confluence_2" {
		t.Errorf("Reasons = %v, want trailing confluence_2", got.Reasons)
	}
}

func TestEvaluateBoostCapsAtHundred(t *testing.T) {
	o := NewOrchestrator([]Strategy{
		&fixedStrategy{id: SignalMomentum1h, sig: cannedSignal(SignalMomentum1h, 95)},
		&fixedStrategy{id: SignalVWAPReclaim, sig: cannedSignal(SignalVWAPReclaim, 60)},
	}, 15, zerolog.Nop())

	got := o.Evaluate(nil, nil, &Context{})
	if got == nil || got.EdgeScoreBase != 100 {
		t.Errorf("EdgeScoreBase = %v, want clamp at 100", got.EdgeScoreBase)
	}
}

func TestEvaluateSkipsInvalid(t *testing.T) {
	bad := cannedSignal(SignalBurstFlag, 90)
	bad.StopPrice = 101 // stop above entry fails Valid

	o := NewOrchestrator([]Strategy{
		&fixedStrategy{id: SignalBurstFlag, sig: bad},
		&fixedStrategy{id: SignalMomentum1h, sig: cannedSignal(SignalMomentum1h, 65)},
	}, 15, zerolog.Nop())

	got := o.Evaluate(nil, nil, &Context{})
	if got == nil {
		t.Fatal("expected the valid candidate")
	}
	if got.StrategyID != SignalMomentum1h || got.ConfluenceCount != 1 {
		t.Errorf("got %s confluence %d, want momentum_1h solo", got.StrategyID, got.ConfluenceCount)
	}
}

func TestEvaluateNoCandidates(t *testing.T) {
	o := NewOrchestrator([]Strategy{&fixedStrategy{id: SignalBurstFlag}}, 15, zerolog.Nop())
	if got := o.Evaluate(nil, nil, &Context{}); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestResetSymbolFansOut(t *testing.T) {
	a := &fixedStrategy{id: SignalBurstFlag}
	b := &fixedStrategy{id: SignalMomentum1h}
	o := NewOrchestrator([]Strategy{a, b}, 15, zerolog.Nop())

	o.ResetSymbol("XYZ-USD")
	if len(a.resets) != 1 || len(b.resets) != 1 {
		t.Errorf("resets = %v / %v, want one each", a.resets, b.resets)
	}

	o.ResetStrategy(SignalBurstFlag, "ABC-USD")
	if len(a.resets) != 2 || len(b.resets) != 1 {
		t.Errorf("targeted reset hit %v / %v", a.resets, b.resets)
	}
}

func TestSignalValid(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Signal)
		want bool
	}{
		{"well formed", func(s *Signal) {}, true},
		{"zero entry", func(s *Signal) { s.EntryPrice = 0 }, false},
		{"stop above entry", func(s *Signal) { s.StopPrice = 101 }, false},
		{"score out of range", func(s *Signal) { s.EdgeScoreBase = 101 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := cannedSignal(SignalMomentum1h, 70)
			tc.mut(s)
			if got := s.Valid(); got != tc.want {
				t.Errorf("Valid = %v, want %v", got, tc.want)
			}
		})
	}
	var nilSig *Signal
	if nilSig.Valid() {
		t.Error("nil signal reported valid")
	}
}
