package paths

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Layout resolves every on-disk location for one trading mode. Paper and
// live state never share a directory.
type Layout struct {
	DataRoot string
	LogsRoot string
	Mode     string
}

func NewLayout(dataRoot, logsRoot, mode string) *Layout {
	return &Layout{DataRoot: dataRoot, LogsRoot: logsRoot, Mode: mode}
}

func (l *Layout) DataDir() string    { return filepath.Join(l.DataRoot, l.Mode) }
func (l *Layout) LogsDir() string    { return filepath.Join(l.LogsRoot, l.Mode) }
func (l *Layout) CandlesDir() string { return filepath.Join(l.DataDir(), "candles") }

func (l *Layout) StateFile(name string) string { return filepath.Join(l.DataDir(), name) }

// LogFile returns a daily-rotated JSONL log path, e.g. trades_2026-08-24.jsonl.
func (l *Layout) LogFile(kind string, day time.Time) string {
	return filepath.Join(l.LogsDir(), fmt.Sprintf("%s_%s.jsonl", kind, day.UTC().Format("2006-01-02")))
}

// EnsureDirs creates the mode-scoped directory tree.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{l.DataDir(), l.LogsDir(), l.CandlesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// WriteJSONAtomic marshals v and writes it via tmp file + fsync + rename so a
// crash mid-write never leaves a torn state file behind.
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return WriteFileAtomic(path, data)
}

func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	return nil
}

// ReadJSON loads a state file into v. A missing file is reported as-is so
// callers can fall back to defaults.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// AppendJSONL appends one JSON document plus newline to an append-only log.
func AppendJSONL(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

// Lock is a best-effort single-instance guard. It creates a lock file with
// O_EXCL holding the pid; a stale lock from a dead process is replaced.
type Lock struct {
	path string
}

func AcquireLock(path string) (*Lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}
		pid, readErr := readLockPid(path)
		if readErr == nil && pidAlive(pid) {
			return nil, fmt.Errorf("another instance holds %s (pid %d)", path, pid)
		}
		os.Remove(path)
	}
	return nil, fmt.Errorf("acquire lock %s: contention", path)
}

func (l *Lock) Release() error {
	return os.Remove(l.path)
}

func readLockPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, err
	}
	return pid, nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
