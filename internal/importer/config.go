// Package importer turns parsed bank statements into persisted
// transactions. Each credit entry is matched against the organization's
// tenants and units, checked against already-imported transactions, and
// written with its match method and confidence.
package importer

import (
	"fmt"

	"property-reconciliation-service/internal/matcher"
)

// Config controls import behavior
type Config struct {
	// AcceptThreshold is the minimum confidence at which a match result is
	// applied to the imported transaction. Results below it are persisted
	// without a unit or tenant assignment.
	AcceptThreshold float64 `json:"accept_threshold"`

	// Matcher configures the underlying matching engine
	Matcher *matcher.Config `json:"matcher"`
}

// DefaultConfig returns importer settings with an accept threshold of 0.70
func DefaultConfig() *Config {
	return &Config{
		AcceptThreshold: 0.70,
		Matcher:         matcher.DefaultConfig(),
	}
}

// Validate checks the configuration for correctness
func (c *Config) Validate() error {
	if c.AcceptThreshold <= 0 || c.AcceptThreshold > 1 {
		return fmt.Errorf("accept threshold must be in (0, 1], got %f", c.AcceptThreshold)
	}
	if c.Matcher == nil {
		return fmt.Errorf("matcher configuration is required")
	}
	if err := c.Matcher.Validate(); err != nil {
		return fmt.Errorf("invalid matcher configuration: %w", err)
	}
	return nil
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	if c.Matcher != nil {
		clone.Matcher = c.Matcher.Clone()
	}
	return &clone
}
