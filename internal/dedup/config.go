// Package dedup groups duplicate invoice lines, merges them under a
// reviewer-selected policy, and undoes merges within a time-boxed window.
package dedup

import (
	"fmt"
	"time"
)

// Config controls merge and undo behavior
type Config struct {
	// UndoWindow is how long after a merge its tombstone can back an undo
	UndoWindow time.Duration `json:"undo_window"`

	// MinCommentLength is the shortest accepted merge comment
	MinCommentLength int `json:"min_comment_length"`

	// Now supplies the current instant. Tests override it to step through
	// the undo window.
	Now func() time.Time `json:"-"`
}

// DefaultConfig returns dedup settings with a two hour undo window
func DefaultConfig() *Config {
	return &Config{
		UndoWindow:       120 * time.Minute,
		MinCommentLength: 5,
		Now:              time.Now,
	}
}

// Validate checks the configuration for correctness
func (c *Config) Validate() error {
	if c.UndoWindow <= 0 {
		return fmt.Errorf("undo window must be positive, got %s", c.UndoWindow)
	}
	if c.MinCommentLength < 1 {
		return fmt.Errorf("minimum comment length must be at least 1, got %d", c.MinCommentLength)
	}
	if c.Now == nil {
		return fmt.Errorf("clock function is required")
	}
	return nil
}

// Clone returns a copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
