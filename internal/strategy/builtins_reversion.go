package strategy

import (
	"coinbase-trading-bot/internal/candles"
	"coinbase-trading-bot/internal/features"
)

// VWAPReclaim buys the reclaim of VWAP from below after a dip, with the
// reclaim bar green and volume confirming.
type VWAPReclaim struct{ noState }

func (VWAPReclaim) ID() SignalType { return SignalVWAPReclaim }

func (VWAPReclaim) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	if feats.VWAP <= 0 {
		return nil
	}
	tail := buf.Tail(candles.TF1m, 3)
	if len(tail) < 3 {
		return nil
	}
	last := tail[2]
	// Below VWAP two bars ago, closed back above it now.
	if tail[0].Close >= feats.VWAP || last.Close <= feats.VWAP || !last.Green() {
		return nil
	}
	if feats.VolRatio < 1.1 {
		return nil
	}
	entry := feats.Price
	stop := buf.RecentLow(10, candles.TF1m) * 0.998
	if stop >= entry {
		stop = entry * 0.985
	}
	risk := entry - stop
	sig := newSignal(SignalVWAPReclaim, feats, mc, entry, stop, entry+2*risk, entry+3*risk,
		reasonf("vwap reclaim at %.4f", feats.VWAP))
	return sig.score(
		50+feats.Trend15m*10,
		40+feats.VolRatio*20,
		65,
		55+feats.VWAPPct*20,
	)
}

// MeanReversion fades an overextended drop back toward the 5m Bollinger
// middle band once selling exhausts.
type MeanReversion struct{ noState }

func (MeanReversion) ID() SignalType { return SignalMeanReversion }

func (MeanReversion) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	upper, middle, lower := buf.BB(20, 2, candles.TF5m)
	if middle <= 0 || lower <= 0 {
		return nil
	}
	if feats.Price > lower*1.005 {
		return nil
	}
	if feats.RSI14 > 35 {
		return nil
	}
	// Exhaustion read: the last 1m bar green after a red run.
	last, ok := buf.Last(candles.TF1m)
	if !ok || !last.Green() {
		return nil
	}
	entry := feats.Price
	stop := lower * 0.99
	if stop >= entry {
		stop = entry * 0.98
	}
	sig := newSignal(SignalMeanReversion, feats, mc, entry, stop, middle, upper,
		reasonf("mean reversion from lower band, rsi %.0f", feats.RSI14))
	return sig.score(
		40,
		40+feats.VolRatio*15,
		55+(35-feats.RSI14)*1.5,
		60,
	)
}

// SupportBounce buys a tested support level holding on the third touch.
type SupportBounce struct{ noState }

func (SupportBounce) ID() SignalType { return SignalSupportBounce }

func (SupportBounce) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	support := buf.RecentLow(50, candles.TF5m)
	if support <= 0 {
		return nil
	}
	dist := pctAbove(feats.Price, support)
	if dist < 0.1 || dist > 1.0 {
		return nil
	}
	touches := 0
	for _, c := range buf.Tail(candles.TF5m, 50) {
		if c.Low <= support*1.003 {
			touches++
		}
	}
	if touches < 2 {
		return nil
	}
	last, ok := buf.Last(candles.TF1m)
	if !ok || !last.Green() {
		return nil
	}
	entry := feats.Price
	stop := support * 0.995
	risk := entry - stop
	if risk <= 0 {
		return nil
	}
	sig := newSignal(SignalSupportBounce, feats, mc, entry, stop, entry+2*risk, entry+3*risk,
		reasonf("support bounce at %.4f, %d touches", support, touches))
	return sig.score(
		45+feats.Trend15m*8,
		40+feats.VolRatio*15,
		45+float64(touches)*8,
		60-dist*20,
	)
}

// GapFill plays the fade of an overnight gap down on the daily open.
type GapFill struct{ noState }

func (GapFill) ID() SignalType { return SignalGapFill }

func (GapFill) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	days := buf.Tail(candles.TF1d, 2)
	if len(days) < 2 {
		return nil
	}
	prevClose := days[0].Close
	todayOpen := days[1].Open
	gapPct := pctAbove(todayOpen, prevClose)
	// Only meaningful gap-downs, not yet filled.
	if gapPct > -1.0 || feats.Price >= prevClose {
		return nil
	}
	if feats.Trend5m < 0.1 {
		return nil
	}
	entry := feats.Price
	stop := todayOpen * 0.99
	if stop >= entry {
		stop = entry * 0.98
	}
	sig := newSignal(SignalGapFill, feats, mc, entry, stop, prevClose, prevClose*1.01,
		reasonf("gap fill toward %.4f, gap %.1f%%", prevClose, gapPct))
	return sig.score(
		45+feats.Trend5m*15,
		40+feats.VolRatio*15,
		50+(-gapPct)*5,
		55,
	)
}

// LiquiditySweep buys the reversal after a stop-run: a wick below the
// recent swing low that closes back inside the range on volume.
type LiquiditySweep struct{ noState }

func (LiquiditySweep) ID() SignalType { return SignalLiquiditySweep }

func (LiquiditySweep) Analyze(buf *candles.Buffer, feats *features.Vector, mc *Context) *Signal {
	tail := buf.Tail(candles.TF5m, 30)
	if len(tail) < 10 {
		return nil
	}
	last := tail[len(tail)-1]
	rangeLow := buf.RecentLow(len(tail)-1, candles.TF5m)
	// Swept below the range low, closed back above it.
	if last.Low >= rangeLow || last.Close <= rangeLow {
		return nil
	}
	if feats.VolSpike5m < 1.5 {
		return nil
	}
	entry := feats.Price
	stop := last.Low * 0.998
	risk := entry - stop
	if risk <= 0 {
		return nil
	}
	sig := newSignal(SignalLiquiditySweep, feats, mc, entry, stop, entry+2*risk, entry+3.5*risk,
		reasonf("liquidity sweep below %.4f", rangeLow))
	return sig.score(
		45+feats.Trend15m*8,
		40+feats.VolSpike5m*12,
		70,
		60,
	)
}
