package candles

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// flushEvery controls how many buffered lines accumulate before an
// automatic flush per (symbol, tf) file.
const flushEvery = 20

// Store is the append-only candle history. One JSONL file per
// (symbol, timeframe) under <dir>/<safe-symbol>/<tf>.jsonl.
type Store struct {
	mu      sync.Mutex
	dir     string
	pending map[string][]string
	logger  zerolog.Logger
}

func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{
		dir:     dir,
		pending: make(map[string][]string),
		logger:  logger.With().Str("component", "candle_store").Logger(),
	}
}

func (s *Store) filePath(symbol string, tf Timeframe) string {
	return filepath.Join(s.dir, SafeSymbol(symbol), string(tf)+".jsonl")
}

// WriteCandle buffers one bar for appending. Invalid bars are dropped.
func (s *Store) WriteCandle(symbol string, tf Timeframe, c Candle, src CandleSource) {
	if !c.Valid() {
		return
	}
	line, err := json.Marshal(NewStoredCandle(c, tf, src))
	if err != nil {
		return
	}
	key := s.filePath(symbol, tf)

	s.mu.Lock()
	s.pending[key] = append(s.pending[key], string(line))
	due := len(s.pending[key]) >= flushEvery
	s.mu.Unlock()

	if due {
		s.flushFile(key)
	}
}

// WriteCandles buffers a batch of already-ordered bars.
func (s *Store) WriteCandles(symbol string, tf Timeframe, cs []Candle, src CandleSource) {
	for _, c := range cs {
		s.WriteCandle(symbol, tf, c, src)
	}
}

// FlushAll drains every pending buffer to disk. Called on shutdown and on
// a periodic timer.
func (s *Store) FlushAll() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	for _, k := range keys {
		s.flushFile(k)
	}
}

func (s *Store) flushFile(key string) {
	s.mu.Lock()
	lines := s.pending[key]
	delete(s.pending, key)
	s.mu.Unlock()
	if len(lines) == 0 {
		return
	}

	if err := os.MkdirAll(filepath.Dir(key), 0o755); err != nil {
		s.logger.Warn().Err(err).Str("file", key).Msg("candle dir create failed")
		return
	}
	f, err := os.OpenFile(key, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", key).Msg("candle append failed")
		return
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		s.logger.Warn().Err(err).Str("file", key).Msg("candle flush failed")
	}
}

// LoadCandles streams the JSONL history for (symbol, tf), keeping bars
// newer than maxAge, deduplicated by timestamp (first wins), ascending,
// truncated to the newest maxCount. Malformed lines are skipped.
func (s *Store) LoadCandles(symbol string, tf Timeframe, maxAge time.Duration, maxCount int) ([]Candle, error) {
	path := s.filePath(symbol, tf)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("candles: open %s: %w", path, err)
	}
	defer f.Close()

	cutoff := time.Now().UTC().Add(-maxAge)
	seen := make(map[int64]bool)
	var out []Candle

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var stored StoredCandle
		if err := json.Unmarshal(sc.Bytes(), &stored); err != nil {
			continue
		}
		c, err := stored.ToCandle()
		if err != nil || !c.Valid() {
			continue
		}
		if c.Timestamp.Before(cutoff) {
			continue
		}
		key := c.Timestamp.Unix()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("candles: scan %s: %w", path, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if maxCount > 0 && len(out) > maxCount {
		out = out[len(out)-maxCount:]
	}
	return out, nil
}

// RehydrateBuffers seeds 1m and 5m buffers for each symbol from disk on
// startup so warmth survives a restart.
func (s *Store) RehydrateBuffers(buffers map[string]*Buffer, maxAge time.Duration) {
	loaded := 0
	for symbol, buf := range buffers {
		for _, tf := range []Timeframe{TF1m, TF5m} {
			cs, err := s.LoadCandles(symbol, tf, maxAge, s.rehydrateLimit(tf))
			if err != nil {
				s.logger.Warn().Err(err).Str("symbol", symbol).Str("tf", string(tf)).Msg("rehydrate failed")
				continue
			}
			loaded += buf.AddBatch(tf, cs)
		}
	}
	s.logger.Info().Int("candles", loaded).Int("symbols", len(buffers)).Msg("buffers rehydrated")
}

func (s *Store) rehydrateLimit(tf Timeframe) int {
	if limit, ok := defaultLimits[tf]; ok {
		return limit
	}
	return 200
}
