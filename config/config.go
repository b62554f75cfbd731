package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// TradingMode selects the execution backend and the on-disk namespace.
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

// Settings is the immutable boot configuration. It is loaded once from the
// environment (a .env file is honored if present), validated, and then only
// mutated through the runtime config store's whitelisted parameters.
type Settings struct {
	Mode      TradingMode `json:"mode"`
	APIKey    string      `json:"-"`
	APISecret string      `json:"-"`
	DataRoot  string      `json:"data_root"`
	LogsRoot  string      `json:"logs_root"`

	// Paper account
	PaperStartBalance float64 `json:"paper_start_balance"`
	PaperResetState   bool    `json:"paper_reset_state"`
	PaperSlippageBps  float64 `json:"paper_slippage_bps"`

	// Universe
	WatchCoins       []string `json:"watch_coins"`
	Stablecoins      []string `json:"stablecoins"`
	IgnoredSymbols   []string `json:"ignored_symbols"`
	MinVolume24hUSD  float64  `json:"min_volume_24h_usd"`
	SpreadMaxBps     float64  `json:"spread_max_bps"`
	UniverseInterval int      `json:"universe_interval_s"`

	// Tier scheduler
	Tier1Size        int `json:"tier1_size"`
	Tier2Size        int `json:"tier2_size"`
	Tier2IntervalS   int `json:"tier2_interval_s"`
	Tier3IntervalS   int `json:"tier3_interval_s"`
	ReassignInterval int `json:"reassign_interval_s"`
	MinCandles1m     int `json:"min_candles_1m"`
	MinCandles5m     int `json:"min_candles_5m"`

	// Entry scoring
	EntryScoreMin   float64 `json:"entry_score_min"`
	ScoutScoreMin   float64 `json:"scout_score_min"`
	StrongScoreMin  float64 `json:"strong_score_min"`
	WhaleScoreMin   float64 `json:"whale_score_min"`
	WhaleConfluence int     `json:"whale_confluence_min"`
	ConfluenceBoost float64 `json:"confluence_boost"`

	// Sizing
	PositionMinPct          float64 `json:"position_min_pct"`
	PositionBasePct         float64 `json:"position_base_pct"`
	PositionMaxPct          float64 `json:"position_max_pct"`
	ScoutPct                float64 `json:"scout_pct"`
	StrongPct               float64 `json:"strong_pct"`
	WhalePct                float64 `json:"whale_pct"`
	MinTradeUSD             float64 `json:"min_trade_usd"`
	MaxTradeUSD             float64 `json:"max_trade_usd"`
	MinPositionUSD          float64 `json:"min_position_usd"`
	PortfolioMaxExposurePct float64 `json:"portfolio_max_exposure_pct"`
	PerSymbolCapUSD         float64 `json:"per_symbol_cap_usd"`
	MaxPositions            int     `json:"max_positions"`
	MaxWhalePositions       int     `json:"max_whale_positions"`

	// Risk
	DailyMaxLossUSD     float64 `json:"daily_max_loss_usd"`
	MinRRRatio          float64 `json:"min_rr_ratio"`
	StopLossPct         float64 `json:"stop_loss_pct"`
	TakeProfitPct       float64 `json:"take_profit_pct"`
	TimeStopMin         int     `json:"time_stop_min"`
	TP1PartialPct       float64 `json:"tp1_partial_pct"`
	TrailBETriggerR     float64 `json:"trail_be_trigger_r"`
	TrailStartR         float64 `json:"trail_start_r"`
	TrailLockPct        float64 `json:"trail_lock_pct"`
	BreakerMaxFailures  int     `json:"breaker_max_failures"`
	BreakerResetAfterS  int     `json:"breaker_reset_after_s"`
	CooldownMinSeconds  int     `json:"order_cooldown_min_seconds"`
	CooldownSoftSeconds int     `json:"order_cooldown_seconds"`
	MinHoldSeconds      int     `json:"min_hold_seconds"`
	DustThresholdUSD    float64 `json:"dust_threshold_usd"`
	TruthStalenessS     int     `json:"truth_staleness_s"`

	// Stacking
	StackingEnabled      bool    `json:"stacking_enabled"`
	StackingMinProfitPct float64 `json:"stacking_min_profit_pct"`
	StackingMaxAdds      int     `json:"stacking_max_adds"`
	StackingGreenCandles int     `json:"stacking_green_candles"`

	// Execution
	UseLimitOrders     bool    `json:"use_limit_orders"`
	LimitBufferPct     float64 `json:"limit_buffer_pct"`
	BatchWindowSeconds int     `json:"batch_window_seconds"`
	BatchMaxNew        int     `json:"batch_max_new"`
	StopHealthCheckS   int     `json:"stop_health_check_interval"`

	// Whitelist
	WhitelistEnabled bool     `json:"whitelist_enabled"`
	Whitelist        []string `json:"whitelist"`

	// Control surface
	ServerPort int `json:"server_port"`

	// Logging
	LogLevel string `json:"log_level"`
	LogJSON  bool   `json:"log_json"`
}

// Load reads the environment (plus .env if present) into Settings and
// validates the result. A validation failure aborts startup.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{
		Mode:      TradingMode(strings.ToLower(getEnv("TRADING_MODE", "paper"))),
		APIKey:    os.Getenv("COINBASE_API_KEY"),
		APISecret: os.Getenv("COINBASE_API_SECRET"),
		DataRoot:  getEnv("DATA_ROOT", "data"),
		LogsRoot:  getEnv("LOGS_ROOT", "logs"),

		PaperStartBalance: getEnvFloat("PAPER_START_BALANCE", 1000),
		PaperResetState:   isTruthy(os.Getenv("PAPER_RESET_STATE")),
		PaperSlippageBps:  getEnvFloat("PAPER_SLIPPAGE_BPS", 2),

		WatchCoins:       splitList(os.Getenv("WATCH_COINS")),
		Stablecoins:      splitList(getEnv("STABLECOINS", "USDT,USDC,DAI,PYUSD,GUSD,TUSD")),
		IgnoredSymbols:   splitList(os.Getenv("IGNORED_SYMBOLS")),
		MinVolume24hUSD:  getEnvFloat("MIN_24H_VOLUME_USD", 1_000_000),
		SpreadMaxBps:     getEnvFloat("SPREAD_MAX_BPS", 40),
		UniverseInterval: getEnvInt("UNIVERSE_INTERVAL_S", 1800),

		Tier1Size:        getEnvInt("TIER1_SIZE", 75),
		Tier2Size:        getEnvInt("TIER2_SIZE", 15),
		Tier2IntervalS:   getEnvInt("TIER2_INTERVAL_S", 15),
		Tier3IntervalS:   getEnvInt("TIER3_INTERVAL_S", 60),
		ReassignInterval: getEnvInt("REASSIGN_INTERVAL_S", 1800),
		MinCandles1m:     getEnvInt("MIN_CANDLES_1M", 5),
		MinCandles5m:     getEnvInt("MIN_CANDLES_5M", 2),

		EntryScoreMin:   getEnvFloat("ENTRY_SCORE_MIN", 60),
		ScoutScoreMin:   getEnvFloat("SCOUT_SCORE_MIN", 50),
		StrongScoreMin:  getEnvFloat("STRONG_SCORE_MIN", 75),
		WhaleScoreMin:   getEnvFloat("WHALE_SCORE_MIN", 88),
		WhaleConfluence: getEnvInt("WHALE_CONFLUENCE_MIN", 3),
		ConfluenceBoost: getEnvFloat("CONFLUENCE_BOOST", 15),

		PositionMinPct:          getEnvFloat("POSITION_MIN_PCT", 0.005),
		PositionBasePct:         getEnvFloat("POSITION_BASE_PCT", 0.015),
		PositionMaxPct:          getEnvFloat("POSITION_MAX_PCT", 0.05),
		ScoutPct:                getEnvFloat("SCOUT_PCT", 0.0075),
		StrongPct:               getEnvFloat("STRONG_PCT", 0.025),
		WhalePct:                getEnvFloat("WHALE_PCT", 0.04),
		MinTradeUSD:             getEnvFloat("MIN_TRADE_USD", 5),
		MaxTradeUSD:             getEnvFloat("MAX_TRADE_USD", 250),
		MinPositionUSD:          getEnvFloat("MIN_POSITION_USD", 5),
		PortfolioMaxExposurePct: getEnvFloat("PORTFOLIO_MAX_EXPOSURE_PCT", 0.85),
		PerSymbolCapUSD:         getEnvFloat("PER_SYMBOL_CAP_USD", 500),
		MaxPositions:            getEnvInt("MAX_POSITIONS", 8),
		MaxWhalePositions:       getEnvInt("MAX_WHALE_POSITIONS", 1),

		DailyMaxLossUSD:     getEnvFloat("DAILY_MAX_LOSS_USD", 25),
		MinRRRatio:          getEnvFloat("MIN_RR_RATIO", 1.5),
		StopLossPct:         getEnvFloat("STOP_LOSS_PCT", 0.03),
		TakeProfitPct:       getEnvFloat("TAKE_PROFIT_PCT", 0.05),
		TimeStopMin:         getEnvInt("TIME_STOP_MIN", 240),
		TP1PartialPct:       getEnvFloat("TP1_PARTIAL_PCT", 0.5),
		TrailBETriggerR:     getEnvFloat("TRAIL_BE_TRIGGER_R", 1.0),
		TrailStartR:         getEnvFloat("TRAIL_START_R", 1.5),
		TrailLockPct:        getEnvFloat("TRAIL_LOCK_PCT", 0.5),
		BreakerMaxFailures:  getEnvInt("BREAKER_MAX_FAILURES", 5),
		BreakerResetAfterS:  getEnvInt("BREAKER_RESET_AFTER_S", 900),
		CooldownMinSeconds:  getEnvInt("ORDER_COOLDOWN_MIN_SECONDS", 180),
		CooldownSoftSeconds: getEnvInt("ORDER_COOLDOWN_SECONDS", 600),
		MinHoldSeconds:      getEnvInt("MIN_HOLD_SECONDS", 60),
		DustThresholdUSD:    getEnvFloat("DUST_THRESHOLD_USD", 1.0),
		TruthStalenessS:     getEnvInt("TRUTH_STALENESS_S", 15),

		StackingEnabled:      isTruthy(getEnv("STACKING_ENABLED", "false")),
		StackingMinProfitPct: getEnvFloat("STACKING_MIN_PROFIT_PCT", 1.0),
		StackingMaxAdds:      getEnvInt("STACKING_MAX_ADDS", 2),
		StackingGreenCandles: getEnvInt("STACKING_GREEN_CANDLES", 3),

		UseLimitOrders:     isTruthy(getEnv("USE_LIMIT_ORDERS", "false")),
		LimitBufferPct:     getEnvFloat("LIMIT_BUFFER_PCT", 0.0005),
		BatchWindowSeconds: getEnvInt("BATCH_WINDOW_SECONDS", 0),
		BatchMaxNew:        getEnvInt("BATCH_MAX_NEW", 3),
		StopHealthCheckS:   getEnvInt("STOP_HEALTH_CHECK_INTERVAL", 60),

		WhitelistEnabled: isTruthy(getEnv("WHITELIST_ENABLED", "false")),
		Whitelist:        splitList(os.Getenv("WHITELIST")),

		ServerPort: getEnvInt("SERVER_PORT", 8787),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  isTruthy(getEnv("LOG_JSON", "true")),
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate enforces the boot-time invariants. Any failure here is fatal.
func (s *Settings) Validate() error {
	if s.Mode != ModePaper && s.Mode != ModeLive {
		return fmt.Errorf("TRADING_MODE must be paper or live, got %q", s.Mode)
	}
	if s.Mode == ModeLive && (s.APIKey == "" || s.APISecret == "") {
		return fmt.Errorf("live mode requires COINBASE_API_KEY and COINBASE_API_SECRET")
	}
	for name, v := range map[string]float64{
		"POSITION_MIN_PCT":           s.PositionMinPct,
		"POSITION_BASE_PCT":          s.PositionBasePct,
		"POSITION_MAX_PCT":           s.PositionMaxPct,
		"PORTFOLIO_MAX_EXPOSURE_PCT": s.PortfolioMaxExposurePct,
		"TP1_PARTIAL_PCT":            s.TP1PartialPct,
		"STOP_LOSS_PCT":              s.StopLossPct,
		"TAKE_PROFIT_PCT":            s.TakeProfitPct,
		"TRAIL_LOCK_PCT":             s.TrailLockPct,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	for name, v := range map[string]float64{
		"PAPER_START_BALANCE": s.PaperStartBalance,
		"MAX_TRADE_USD":       s.MaxTradeUSD,
		"MIN_TRADE_USD":       s.MinTradeUSD,
		"DAILY_MAX_LOSS_USD":  s.DailyMaxLossUSD,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", name, v)
		}
	}
	if s.MinRRRatio < 1 {
		return fmt.Errorf("MIN_RR_RATIO must be >= 1, got %v", s.MinRRRatio)
	}
	if !(s.PositionMinPct <= s.PositionBasePct && s.PositionBasePct <= s.PositionMaxPct) {
		return fmt.Errorf("position pct ordering violated: min %v <= base %v <= max %v",
			s.PositionMinPct, s.PositionBasePct, s.PositionMaxPct)
	}
	if s.Tier1Size <= 0 || s.Tier2Size < 0 {
		return fmt.Errorf("tier sizes must be positive, got tier1=%d tier2=%d", s.Tier1Size, s.Tier2Size)
	}
	return nil
}

// Redacted returns a copy safe for export: credentials blanked.
func (s *Settings) Redacted() Settings {
	out := *s
	out.APIKey = ""
	out.APISecret = ""
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
