package risk

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCooldownWindows(t *testing.T) {
	cd := NewCooldowns(filepath.Join(t.TempDir(), "cooldowns.json"), 3*time.Minute, 10*time.Minute, zerolog.Nop())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cd.SetClock(func() time.Time { return current })

	cd.Record("BTC-USD")

	if hard, remaining := cd.InHardCooldown("BTC-USD"); !hard || remaining != 3*time.Minute {
		t.Errorf("hard cooldown = %v %v, want active with 3m remaining", hard, remaining)
	}

	current = base.Add(3 * time.Minute)
	if hard, _ := cd.InHardCooldown("BTC-USD"); hard {
		t.Error("hard cooldown still active at exactly the window boundary")
	}
	if soft, _ := cd.InSoftCooldown("BTC-USD"); !soft {
		t.Error("soft cooldown should still be active at 3m")
	}

	current = base.Add(10 * time.Minute)
	if soft, _ := cd.InSoftCooldown("BTC-USD"); soft {
		t.Error("soft cooldown still active after its window")
	}

	if hard, _ := cd.InHardCooldown("ETH-USD"); hard {
		t.Error("unrecorded symbol reported in cooldown")
	}
}

func TestCooldownClear(t *testing.T) {
	cd := NewCooldowns(filepath.Join(t.TempDir(), "cooldowns.json"), time.Minute, time.Hour, zerolog.Nop())
	cd.Record("SOL-USD")
	cd.Clear("SOL-USD")
	if hard, _ := cd.InHardCooldown("SOL-USD"); hard {
		t.Error("cooldown survived Clear")
	}
}

func TestCooldownLoadPurgesExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cooldowns.json")
	first := NewCooldowns(path, time.Minute, 10*time.Minute, zerolog.Nop())

	// OLD's order lands outside the soft window relative to the reload,
	// FRESH's inside it.
	first.SetClock(func() time.Time { return time.Now().Add(-11 * time.Minute) })
	first.Record("OLD-USD")
	first.SetClock(time.Now)
	first.Record("FRESH-USD")

	reloaded := NewCooldowns(path, time.Minute, 10*time.Minute, zerolog.Nop())
	if soft, _ := reloaded.InSoftCooldown("FRESH-USD"); !soft {
		t.Error("fresh entry lost on reload")
	}
	if soft, _ := reloaded.InSoftCooldown("OLD-USD"); soft {
		t.Error("expired entry survived reload")
	}
}
