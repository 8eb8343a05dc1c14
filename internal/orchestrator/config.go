package orchestrator

import (
	"time"

	"github.com/dusk-indust/circuitloop/internal/classify"
	"github.com/dusk-indust/circuitloop/internal/repair"
)

const (
	DefaultAttemptBudget  = 3
	DefaultAttemptTimeout = 30 * time.Second
)

// Config holds the loop's tunables. The zero value is usable; unset fields
// take the defaults above.
type Config struct {
	// AttemptBudget is the maximum number of attempts per run.
	AttemptBudget int `yaml:"attempt_budget" json:"attemptBudget" env:"ATTEMPT_BUDGET"`

	// AttemptTimeout bounds compile plus review of a single attempt. An
	// attempt that exceeds it is recorded as a compile timeout.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attemptTimeout" env:"ATTEMPT_TIMEOUT"`

	// DemoteAfterAttempts is the classifier's demotion streak.
	DemoteAfterAttempts int `yaml:"demote_after_attempts" json:"demoteAfterAttempts" env:"DEMOTE_AFTER_ATTEMPTS"`

	Repair repair.Options `yaml:"repair" json:"repair" envPrefix:"REPAIR_"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		AttemptBudget:       DefaultAttemptBudget,
		AttemptTimeout:      DefaultAttemptTimeout,
		DemoteAfterAttempts: classify.DefaultDemoteAfterAttempts,
		Repair:              repair.DefaultOptions(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AttemptBudget <= 0 {
		c.AttemptBudget = d.AttemptBudget
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	if c.DemoteAfterAttempts <= 0 {
		c.DemoteAfterAttempts = d.DemoteAfterAttempts
	}
	return c
}
