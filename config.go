package gcheap

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pbnjay/memory"
)

// Config holds the tunables read once at Start. The zero value of most
// fields means "use the documented default" — matching the teacher's
// BatcherConfig/ChannelConfig convention of a struct of optional fields,
// defaulted once inside the constructor rather than scattered checks.
type Config struct {
	// HeapStartingSize is the heap source's initial committed footprint, in
	// bytes. Defaults to 2MiB if zero.
	HeapStartingSize uintptr
	// HeapMaximumSize is the absolute ceiling the heap source may ever grow
	// to. Defaults to an eighth of the host's total memory (see
	// DefaultConfig) if zero.
	HeapMaximumSize uintptr
	// HeapGrowthLimit bounds the footprint the allocation ladder's "grow"
	// steps may reach; it is distinct from HeapMaximumSize so a host can
	// raise the ceiling later (e.g. after dropping -Xmx-style flags)
	// without restarting. Defaults to HeapMaximumSize if zero, per
	// spec.md §4.1.
	HeapGrowthLimit uintptr

	// PreVerify, if true, verifies roots and the live bitmap before every
	// collection cycle (spec.md §4.5 Phase P0).
	PreVerify bool
	// PostVerify, if true, verifies roots and the live bitmap in every
	// collection cycle, right after the bitmap swap (spec.md §4.5 Phase P7).
	PostVerify bool
	// VerifyCardTable, if true, verifies the card-table invariant during
	// Phase P4 of a concurrent cycle.
	VerifyCardTable bool

	// AllocProfEnabled turns on the per-process and per-thread allocation
	// counters described in spec.md §3.
	AllocProfEnabled bool

	// TrimDelay is how long after a cycle's exit the heap source's deferred
	// page trim should fire. Defaults to 5 seconds if zero, matching the
	// original's hardcoded delay.
	TrimDelay time.Duration

	// PriorityPolicy elevates/restores collector-thread scheduling priority
	// around non-concurrent cycles (spec.md §4.5 Phase P0/P10). Defaults to
	// a no-op policy if nil — a host without OS-level priority control can
	// safely leave this unset.
	PriorityPolicy PriorityPolicy

	// DebuggerThreadPolicy, if non-nil, reports whether thread is a
	// debugger-attached thread whose allocations must never themselves
	// trigger a collection (spec.md §4.5 "Allocations by the debugger
	// thread must not trigger GC"; SPEC_FULL's debugger carve-out). Such a
	// thread's allocation ladder skips steps 4 and 6, going fast-path →
	// wait-for-concurrent → grow → fail.
	DebuggerThreadPolicy func(thread ThreadHandle) bool

	// Logger receives structured phase/cycle records. Defaults to a
	// discarding logger if nil.
	Logger *Logger

	// MaxFinalizableQueue caps the number of objects the finalizable queue
	// may hold, if positive. Appending past the cap is fatal (spec.md §7:
	// "the hosted program has already committed to a finalizable object;
	// there is no recovery path"). Zero means unbounded.
	MaxFinalizableQueue int

	// SetProcessLimits, if true, has Start call automaxprocs.Set and
	// memlimit.SetGoMemLimitWithOpts so the process's GOMAXPROCS/GOMEMLIMIT
	// reflect the container's real CPU/memory quota before the heap source
	// is sized from HeapMaximumSize. Best-effort; failures are logged, not
	// fatal (spec.md §7 "OS denies... log; continue").
	SetProcessLimits bool
}

// DefaultConfig returns a Config with every field at its documented default,
// sizing HeapMaximumSize from the host's total memory via
// github.com/pbnjay/memory rather than a hardcoded constant.
func DefaultConfig() Config {
	total := memory.TotalMemory()
	max := total / 8
	if max == 0 {
		max = 64 << 20
	}
	return Config{
		HeapStartingSize: 2 << 20,
		HeapMaximumSize:  uintptr(max),
		TrimDelay:        5 * time.Second,
	}
}

// LoadConfigTOML reads a Config from a TOML file at path, starting from
// DefaultConfig and overriding only the fields present in the file. This
// covers the sizing/verify/trim/allocProf tunables spec.md §6 calls out as
// "tunable, read once at startup"; PriorityPolicy, DebuggerThreadPolicy, and
// Logger are code-only and not represented in the file format.
func LoadConfigTOML(path string) (Config, error) {
	cfg := DefaultConfig()

	var file struct {
		HeapStartingSize int64 `toml:"heap_starting_size"`
		HeapMaximumSize  int64 `toml:"heap_maximum_size"`
		HeapGrowthLimit  int64 `toml:"heap_growth_limit"`
		PreVerify        bool  `toml:"pre_verify"`
		PostVerify       bool  `toml:"post_verify"`
		VerifyCardTable  bool  `toml:"verify_card_table"`
		AllocProfEnabled bool  `toml:"alloc_prof_enabled"`
		TrimDelaySeconds int64 `toml:"trim_delay_seconds"`
		SetProcessLimits bool  `toml:"set_process_limits"`
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gcheap: load config: %w", err)
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("gcheap: parse config %s: %w", path, err)
	}

	if file.HeapStartingSize != 0 {
		cfg.HeapStartingSize = uintptr(file.HeapStartingSize)
	}
	if file.HeapMaximumSize != 0 {
		cfg.HeapMaximumSize = uintptr(file.HeapMaximumSize)
	}
	if file.HeapGrowthLimit != 0 {
		cfg.HeapGrowthLimit = uintptr(file.HeapGrowthLimit)
	}
	cfg.PreVerify = file.PreVerify
	cfg.PostVerify = file.PostVerify
	cfg.VerifyCardTable = file.VerifyCardTable
	cfg.AllocProfEnabled = file.AllocProfEnabled
	if file.TrimDelaySeconds != 0 {
		cfg.TrimDelay = time.Duration(file.TrimDelaySeconds) * time.Second
	}
	cfg.SetProcessLimits = file.SetProcessLimits

	return cfg, nil
}

// withDefaults fills in zero fields and validates the combination, returning
// the effective configuration Start should use.
func (c Config) withDefaults() (Config, error) {
	if c.HeapStartingSize == 0 {
		c.HeapStartingSize = 2 << 20
	}
	if c.HeapMaximumSize == 0 {
		d := DefaultConfig()
		c.HeapMaximumSize = d.HeapMaximumSize
	}
	if c.HeapGrowthLimit == 0 {
		c.HeapGrowthLimit = c.HeapMaximumSize
	}
	if c.HeapGrowthLimit > c.HeapMaximumSize {
		return Config{}, fmt.Errorf("gcheap: growth limit %d exceeds maximum size %d", c.HeapGrowthLimit, c.HeapMaximumSize)
	}
	if c.HeapStartingSize > c.HeapGrowthLimit {
		return Config{}, fmt.Errorf("gcheap: starting size %d exceeds growth limit %d", c.HeapStartingSize, c.HeapGrowthLimit)
	}
	if c.TrimDelay == 0 {
		c.TrimDelay = 5 * time.Second
	}
	if c.PriorityPolicy == nil {
		c.PriorityPolicy = nopPriorityPolicy{}
	}
	return c, nil
}

type nopPriorityPolicy struct{}

func (nopPriorityPolicy) Raise(ThreadHandle) (any, bool)     { return nil, true }
func (nopPriorityPolicy) Restore(ThreadHandle, any) bool { return true }
