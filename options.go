package hollowtrie

import "log/slog"

// BuildOption is a functional option for configuring builds.
type BuildOption func(*buildConfig)

type buildConfig struct {
	tempDir   string // temp directory for training streams ("" = os.TempDir)
	seed      uint64
	transform Transform
	verify    bool
	logger    *slog.Logger
}

func defaultBuildConfig() *buildConfig {
	return &buildConfig{
		seed:      0x1234567890abcdef, // Arbitrary default; overridden via WithSeed
		transform: PrefixFree{},
	}
}

// logf logs at info level when a logger is configured.
func (c *buildConfig) logf(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

// WithTempDir sets the directory for the out-of-core training streams
// written during construction. The directory must exist and be on a local
// filesystem. Defaults to the system temp directory.
func WithTempDir(dir string) BuildOption {
	return func(c *buildConfig) {
		c.tempDir = dir
	}
}

// WithSeed sets the global hash seed used by the oracle seed search.
func WithSeed(seed uint64) BuildOption {
	return func(c *buildConfig) {
		c.seed = seed
	}
}

// WithTransform sets the key transform. Defaults to PrefixFree.
func WithTransform(t Transform) BuildOption {
	return func(c *buildConfig) {
		c.transform = t
	}
}

// WithVerify enables debug consistency checks during construction: every
// training pair is checked against previously observed occurrences, and
// after the build each input element is replayed through Bucket and
// compared with its expected ordinal. Costs time and memory linear in the
// input; intended for tests and debugging.
func WithVerify() BuildOption {
	return func(c *buildConfig) {
		c.verify = true
	}
}

// WithLogger sets a logger for construction progress. The library is
// silent by default.
func WithLogger(l *slog.Logger) BuildOption {
	return func(c *buildConfig) {
		c.logger = l
	}
}
