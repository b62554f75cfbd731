package strategy

import (
	"sync"

	"coinbase-trading-bot/internal/candles"
	"coinbase-trading-bot/internal/features"
)

// RangeBreakout buys the close above a multi-hour consolidation high on
// expanding volume.
type RangeBreakout struct{ noState }

func (RangeBreakout) ID() SignalType { return SignalRangeBreakout }

func (RangeBreakout) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	tail := buf.Tail(candles.TF5m, 36)
	if len(tail) < 24 {
		return nil
	}
	rangeBars := tail[:len(tail)-1]
	var high, low float64
	low = rangeBars[0].Low
	for _, c := range rangeBars {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	// Must be a genuine consolidation, not a trend.
	if low <= 0 || (high-low)/low > 0.04 {
		return nil
	}
	last := tail[len(tail)-1]
	if last.Close <= high || feats.VolSpike5m < 1.3 {
		return nil
	}
	entry := feats.Price
	stop := high * 0.995
	if stop >= entry {
		stop = low
	}
	risk := entry - stop
	if risk <= 0 {
		return nil
	}
	sig := newSignal(SignalRangeBreakout, feats, mc, entry, stop, entry+2*risk, entry+3*risk,
		reasonf("range breakout above %.4f", high))
	return sig.score(
		50+feats.Trend15m*10,
		40+feats.VolSpike5m*15,
		65,
		55,
	)
}

// BreakoutRetest is the only stateful built-in: it remembers a breakout
// level per symbol and fires when price returns to retest it and holds.
type BreakoutRetest struct {
	mu     sync.Mutex
	levels map[string]float64
}

func NewBreakoutRetest() *BreakoutRetest {
	return &BreakoutRetest{levels: make(map[string]float64)}
}

func (*BreakoutRetest) ID() SignalType { return SignalBreakoutRetest }

func (br *BreakoutRetest) Reset(symbol string) {
	br.mu.Lock()
	defer br.mu.Unlock()
	delete(br.levels, symbol)
}

func (br *BreakoutRetest) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	symbol := feats.Symbol
	tail := buf.Tail(candles.TF5m, 30)
	if len(tail) < 12 {
		return nil
	}
	last := tail[len(tail)-1]

	br.mu.Lock()
	level, armed := br.levels[symbol]
	if !armed {
		// Arm on a fresh breakout of the prior 10-bar high.
		prevHigh := 0.0
		for _, c := range tail[len(tail)-11 : len(tail)-1] {
			if c.High > prevHigh {
				prevHigh = c.High
			}
		}
		if prevHigh > 0 && last.Close > prevHigh*1.005 {
			br.levels[symbol] = prevHigh
		}
		br.mu.Unlock()
		return nil
	}
	// Invalidate if price collapses back through the level.
	if last.Close < level*0.99 {
		delete(br.levels, symbol)
		br.mu.Unlock()
		return nil
	}
	br.mu.Unlock()

	// Retest: dipped to within 0.3% of the level and printed a green bar.
	dist := pctAbove(feats.Price, level)
	if dist < 0 || dist > 0.5 || last.Low > level*1.003 || !last.Green() {
		return nil
	}

	entry := feats.Price
	stop := level * 0.99
	risk := entry - stop
	if risk <= 0 {
		return nil
	}
	br.Reset(symbol)
	sig := newSignal(SignalBreakoutRetest, feats, mc, entry, stop, entry+2*risk, entry+3*risk,
		reasonf("retest of breakout level %.4f", level))
	return sig.score(
		50+feats.Trend15m*10,
		40+feats.VolRatio*15,
		70,
		60-dist*30,
	)
}

// BBExpansion enters when the Bollinger bands squeeze then expand upward,
// the volatility-regime shift trade.
type BBExpansion struct{ noState }

func (BBExpansion) ID() SignalType { return SignalBBExpansion }

func (BBExpansion) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	upper, middle, lower := buf.BB(20, 2, candles.TF5m)
	if middle <= 0 {
		return nil
	}
	width := (upper - lower) / middle
	// Need a tight squeeze first.
	tail := buf.Tail(candles.TF5m, 40)
	if len(tail) < 30 || width > 0.06 {
		return nil
	}
	last := tail[len(tail)-1]
	if last.Close <= upper || !last.Green() || feats.VolSpike5m < 1.2 {
		return nil
	}
	entry := feats.Price
	stop := middle
	risk := entry - stop
	if risk <= 0 || risk > entry*0.05 {
		return nil
	}
	sig := newSignal(SignalBBExpansion, feats, mc, entry, stop, entry+2*risk, entry+3*risk,
		reasonf("bb expansion, width %.1f%%", width*100))
	return sig.score(
		50+feats.Trend15m*10,
		40+feats.VolSpike5m*15,
		60+(0.06-width)*500,
		55,
	)
}

// CorrelationPlay buys a lagging major when BTC makes a decisive hourly
// move the symbol has not yet followed.
type CorrelationPlay struct{ noState }

func (CorrelationPlay) ID() SignalType { return SignalCorrelationPlay }

func (CorrelationPlay) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	if mc.BTCTrend1h < 1.5 {
		return nil
	}
	lag := mc.BTCTrend1h - feats.Trend1h
	if lag < 1.0 || feats.Trend5m < 0 {
		return nil
	}
	entry := feats.Price
	stop, tp1, tp2 := geometry(entry, feats.ATR14)
	sig := newSignal(SignalCorrelationPlay, feats, mc, entry, stop, tp1, tp2,
		reasonf("lagging BTC move by %.1f%%", lag))
	return sig.score(
		45+mc.BTCTrend1h*8,
		40+feats.VolRatio*15,
		45+lag*10,
		50+feats.Trend5m*15,
	)
}
