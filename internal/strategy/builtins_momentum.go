package strategy

import (
	"coinbase-trading-bot/internal/candles"
	"coinbase-trading-bot/internal/features"
)

// noState is embedded by stateless strategies.
type noState struct{}

func (noState) Reset(string) {}

// geometry derives a default long bracket from ATR, falling back to fixed
// percentages when the buffer is too cold for ATR.
func geometry(entry, atr float64) (stop, tp1, tp2 float64) {
	risk := atr * 1.5
	if risk <= 0 || risk > entry*0.08 {
		risk = entry * 0.03
	}
	stop = entry - risk
	tp1 = entry + risk*2
	tp2 = entry + risk*3
	return
}

// BurstFlag fires on a contemporaneous volume and range spike with a tight
// consolidation after the push, the classic flag continuation.
type BurstFlag struct{ noState }

func (BurstFlag) ID() SignalType { return SignalBurstFlag }

func (BurstFlag) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	b := mc.Burst
	if b == nil || b.VolSpikeRatio < 2.0 || b.RangeSpikeRatio < 1.5 {
		return nil
	}
	if feats.Trend5m < 0.2 {
		return nil
	}
	// Flag: the last two 1m bars hold above the middle of the burst bar.
	tail := buf.Tail(candles.TF1m, 3)
	if len(tail) < 3 {
		return nil
	}
	burstMid := (tail[0].High + tail[0].Low) / 2
	if tail[1].Close < burstMid || tail[2].Close < burstMid {
		return nil
	}
	entry := feats.Price
	stop, tp1, tp2 := geometry(entry, feats.ATR14)
	if stop < tail[0].Low {
		stop = tail[0].Low
	}
	sig := newSignal(SignalBurstFlag, feats, mc, entry, stop, tp1, tp2,
		reasonf("burst flag vol=%.1fx range=%.1fx", b.VolSpikeRatio, b.RangeSpikeRatio))
	return sig.score(
		50+feats.Trend5m*10,
		40+b.VolSpikeRatio*10,
		55+b.RangeSpikeRatio*8,
		60,
	)
}

// DailyMomentum rides multi-day strength confirmed intraday.
type DailyMomentum struct{ noState }

func (DailyMomentum) ID() SignalType { return SignalDailyMomentum }

func (DailyMomentum) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	if buf.Len(candles.TF1d) < 3 {
		return nil
	}
	tail := buf.Tail(candles.TF1d, 3)
	d1 := pctAbove(tail[2].Close, tail[1].Close)
	d2 := pctAbove(tail[1].Close, tail[0].Close)
	if d1 < 1.0 || d2 < 0.5 {
		return nil
	}
	if feats.Trend1h < 0 || feats.VWAPPct < -0.5 {
		return nil
	}
	entry := feats.Price
	stop, tp1, tp2 := geometry(entry, feats.ATR14)
	sig := newSignal(SignalDailyMomentum, feats, mc, entry, stop, tp1, tp2,
		reasonf("daily momentum +%.1f%%/+%.1f%%", d2, d1))
	return sig.score(
		50+d1*8+d2*4,
		45+feats.VolRatio*15,
		50+feats.Trend1h*6,
		50+feats.VWAPPct*10,
	)
}

// Momentum1h enters on sustained hourly trend with rising volume.
type Momentum1h struct{ noState }

func (Momentum1h) ID() SignalType { return SignalMomentum1h }

func (Momentum1h) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	if feats.Trend1h < 1.5 || feats.Trend5m < 0 {
		return nil
	}
	ema20 := buf.EMA(20, candles.TF5m)
	if ema20 <= 0 || feats.Price < ema20 {
		return nil
	}
	entry := feats.Price
	stop, tp1, tp2 := geometry(entry, feats.ATR14)
	if ema20 > stop && ema20 < entry {
		stop = ema20 * 0.995
	}
	sig := newSignal(SignalMomentum1h, feats, mc, entry, stop, tp1, tp2,
		reasonf("1h momentum +%.1f%%", feats.Trend1h))
	return sig.score(
		55+feats.Trend1h*8,
		40+feats.VolRatio*20,
		50+pctAbove(entry, ema20)*15,
		55,
	)
}

// RSIMomentum enters when RSI crosses up out of the neutral zone while the
// trend agrees, a momentum-ignition read rather than overbought chasing.
type RSIMomentum struct{ noState }

func (RSIMomentum) ID() SignalType { return SignalRSIMomentum }

func (RSIMomentum) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	rsi := feats.RSI14
	if rsi < 55 || rsi > 70 {
		return nil
	}
	if feats.Trend5m < 0.1 || feats.Trend15m < 0 {
		return nil
	}
	entry := feats.Price
	stop, tp1, tp2 := geometry(entry, feats.ATR14)
	sig := newSignal(SignalRSIMomentum, feats, mc, entry, stop, tp1, tp2,
		reasonf("rsi momentum %.0f", rsi))
	return sig.score(
		50+feats.Trend15m*10,
		40+feats.VolRatio*15,
		30+(rsi-50)*2.5,
		50+feats.Trend5m*20,
	)
}

// RelativeStrength buys names outperforming BTC while BTC itself is flat or
// up, avoiding the beta trap of strength in a falling market.
type RelativeStrength struct{ noState }

func (RelativeStrength) ID() SignalType { return SignalRelativeStrength }

func (RelativeStrength) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	if mc.BTCTrend1h < -0.5 {
		return nil
	}
	excess := feats.Trend1h - mc.BTCTrend1h
	if excess < 1.5 || feats.Trend5m < 0 {
		return nil
	}
	entry := feats.Price
	stop, tp1, tp2 := geometry(entry, feats.ATR14)
	sig := newSignal(SignalRelativeStrength, feats, mc, entry, stop, tp1, tp2,
		reasonf("outperforming BTC by %.1f%%/1h", excess))
	return sig.score(
		50+excess*8,
		40+feats.VolRatio*15,
		50+feats.Trend1h*5,
		50+mc.BTCTrend1h*10,
	)
}
