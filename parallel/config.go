package parallel

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the recognized option surface from spec.md §6. The surrounding
// file-format/CLI loader is an external collaborator; this is the validated,
// typed surface it populates, mirrored 1:1 by environment variables the way
// the teacher's ParallelConfig does (see original_source's
// crates/evolve/src/parallel/config.rs, Validate/FromEnv).
type Config struct {
	ConcurrencyLevel                 int
	EnableLazyUpdates                bool
	MaxRetries                       uint32
	MinTransactionsForParallel       int
	ForceSequential                  bool
	EnableAdvancedDependencyAnalysis bool
	MaxDependencyDepth               int
}

// DefaultConfig mirrors the teacher's Default() tuning.
func DefaultConfig() Config {
	return Config{
		ConcurrencyLevel:                 8,
		EnableLazyUpdates:                true,
		MaxRetries:                       3,
		MinTransactionsForParallel:       4,
		ForceSequential:                  false,
		EnableAdvancedDependencyAnalysis: false,
		MaxDependencyDepth:               10,
	}
}

// SequentialOnlyConfig forces the sequential fallback regardless of block size.
func SequentialOnlyConfig() Config {
	c := DefaultConfig()
	c.ForceSequential = true
	c.MinTransactionsForParallel = int(^uint(0) >> 1)
	c.ConcurrencyLevel = 1
	c.EnableLazyUpdates = false
	c.MaxRetries = 1
	return c
}

// Validate enforces spec.md §6's "(≥1)" constraints.
func (c Config) Validate() error {
	if c.ConcurrencyLevel < 1 {
		return fmt.Errorf("concurrency_level must be at least 1, got %d", c.ConcurrencyLevel)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.MinTransactionsForParallel < 1 {
		return fmt.Errorf("min_transactions_for_parallel must be at least 1, got %d", c.MinTransactionsForParallel)
	}
	if c.EnableAdvancedDependencyAnalysis && c.MaxDependencyDepth < 1 {
		return fmt.Errorf("max_dependency_depth must be at least 1, got %d", c.MaxDependencyDepth)
	}
	return nil
}

// Env variable names for the common prefix mirror spec.md §6 describes.
const envPrefix = "ANDE_PARALLEL_"

// ConfigFromEnv loads Config from the ANDE_PARALLEL_* environment variables,
// falling back to DefaultConfig for anything unset; an unparsable value or
// a config that fails Validate is returned as an error. The
// surrounding config-file/CLI surface remains an external collaborator
// (spec.md §1); this is the documented env binding spec.md §6 names.
func ConfigFromEnv() (Config, error) {
	c := DefaultConfig()

	if v, ok := os.LookupEnv(envPrefix + "CONCURRENCY_LEVEL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %sCONCURRENCY_LEVEL: %w", envPrefix, err)
		}
		c.ConcurrencyLevel = n
	}
	if v, ok := os.LookupEnv(envPrefix + "ENABLE_LAZY_UPDATES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %sENABLE_LAZY_UPDATES: %w", envPrefix, err)
		}
		c.EnableLazyUpdates = b
	}
	if v, ok := os.LookupEnv(envPrefix + "MAX_RETRIES"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %sMAX_RETRIES: %w", envPrefix, err)
		}
		c.MaxRetries = uint32(n)
	}
	if v, ok := os.LookupEnv(envPrefix + "MIN_TRANSACTIONS_FOR_PARALLEL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %sMIN_TRANSACTIONS_FOR_PARALLEL: %w", envPrefix, err)
		}
		c.MinTransactionsForParallel = n
	}
	if v, ok := os.LookupEnv(envPrefix + "FORCE_SEQUENTIAL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %sFORCE_SEQUENTIAL: %w", envPrefix, err)
		}
		c.ForceSequential = b
	}
	if v, ok := os.LookupEnv(envPrefix + "ENABLE_ADVANCED_DEPENDENCY_ANALYSIS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %sENABLE_ADVANCED_DEPENDENCY_ANALYSIS: %w", envPrefix, err)
		}
		c.EnableAdvancedDependencyAnalysis = b
	}
	if v, ok := os.LookupEnv(envPrefix + "MAX_DEPENDENCY_DEPTH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %sMAX_DEPENDENCY_DEPTH: %w", envPrefix, err)
		}
		c.MaxDependencyDepth = n
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ShouldUseParallel implements spec.md §4.F's mode-selection rule.
func (c Config) ShouldUseParallel(numTransactions int) bool {
	if c.ForceSequential {
		return false
	}
	return numTransactions >= c.MinTransactionsForParallel
}
