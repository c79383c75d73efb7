package engine

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/klio/internal/pricing"
	"github.com/shopspring/decimal"
)

// Config holds the economic constants and runtime limits of the engine.
type Config struct {
	BaseLiquidity   decimal.Decimal
	PriceFloor      decimal.Decimal
	CreatorFeeRate  decimal.Decimal
	PlatformFeeRate decimal.Decimal

	// EnforceDeadlines blocks trades after the deadline and resolution before it.
	EnforceDeadlines bool

	LockTTL           time.Duration
	LockWait          time.Duration
	LockRetryInterval time.Duration
	SettlementTimeout time.Duration
}

// DefaultConfig returns L=1000, floor 0.01, 2% creator fee, 5% platform fee.
func DefaultConfig() Config {
	return Config{
		BaseLiquidity:     pricing.DefaultBaseLiquidity,
		PriceFloor:        pricing.DefaultFloor,
		CreatorFeeRate:    decimal.RequireFromString("0.02"),
		PlatformFeeRate:   decimal.RequireFromString("0.05"),
		EnforceDeadlines:  true,
		LockTTL:           30 * time.Second,
		LockWait:          10 * time.Second,
		LockRetryInterval: 25 * time.Millisecond,
		SettlementTimeout: 15 * time.Second,
	}
}

func validRate(name string, r decimal.Decimal) error {
	if r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("engine: %s must be in [0,1), got %s", name, r)
	}
	return nil
}

// Validate checks the fee rates and durations.
func (c Config) Validate() error {
	if err := validRate("creator fee rate", c.CreatorFeeRate); err != nil {
		return err
	}
	if err := validRate("platform fee rate", c.PlatformFeeRate); err != nil {
		return err
	}
	if c.LockTTL <= 0 || c.LockRetryInterval <= 0 {
		return fmt.Errorf("engine: lock ttl and retry interval must be positive")
	}
	return nil
}
