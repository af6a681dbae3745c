package app

import (
	"github.com/raysh454/reconcile/internal/textdiff"
)

// Config tunes the collaboration service.
type Config struct {
	// Diff configures the differ used for version diffs and for aligning concurrent
	// edits against their base.
	Diff textdiff.Config `yaml:"diff"`

	// CommitAttempts bounds how often an edit is re-merged when another writer moves
	// the head between read and commit.
	CommitAttempts int `yaml:"commit_attempts" validate:"gte=1,lte=20"`

	// EventBuffer is the per-subscriber event queue length.
	EventBuffer int `yaml:"event_buffer" validate:"gte=1"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Diff:           textdiff.DefaultConfig(),
		CommitAttempts: 3,
		EventBuffer:    16,
	}
}
