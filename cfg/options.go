package cfg

import "github.com/rs/zerolog"

// Profile describes the capabilities of the runtime the bytecode is being
// prepared for. The defaults match a runtime with a per-edge exception
// table and an implicit entry slot for suspendable units.
type Profile struct {
	// SuspendEntrySlot indicates the runtime pushes one value before a
	// suspendable unit starts executing, so analysis of such units starts
	// at depth 1.
	SuspendEntrySlot bool

	// HandlerContextMemo indicates analysis may be memoized per
	// (start depth, handler context) pair. Runtimes without a per-edge
	// exception table must instead re-run a block whenever it is reached
	// with a start depth larger than every previously seen one.
	HandlerContextMemo bool
}

// DefaultProfile is the profile used when none is supplied.
var DefaultProfile = Profile{
	SuspendEntrySlot:   true,
	HandlerContextMemo: true,
}

type config struct {
	logger         zerolog.Logger
	checkEffects   bool
	resolveRegions bool
	profile        Profile
}

func newConfig(opts []Option) config {
	cfg := config{
		logger:         zerolog.Nop(),
		checkEffects:   true,
		resolveRegions: true,
		profile:        DefaultProfile,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option configures Build, Flatten and ComputeStackDepth. Options that do
// not apply to an operation are ignored by it.
type Option func(*config)

// WithLogger supplies a logger for debug-level tracing. The default
// discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithoutEffectChecks disables the per-instruction pre-condition check
// during stack analysis; only the net depth is then required to stay
// non-negative.
func WithoutEffectChecks() Option {
	return func(c *config) {
		c.checkEffects = false
	}
}

// WithoutRegionDepths leaves region entry depths unresolved instead of
// writing them back onto the region begin markers.
func WithoutRegionDepths() Option {
	return func(c *config) {
		c.resolveRegions = false
	}
}

// WithProfile selects the runtime profile used by stack analysis.
func WithProfile(p Profile) Option {
	return func(c *config) {
		c.profile = p
	}
}
