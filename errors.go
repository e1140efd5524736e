package core

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	InvalidAmount           = errors.New("amount must be a positive ledger amount")
	ConfigMismatch          = errors.New("asset and price feed lists differ in length")
	AssetNotAllowed         = errors.New("asset has no registered price feed")
	TransferFailed          = errors.New("token transfer reported failure")
	MintFailed              = errors.New("pegged token mint reported failure")
	HealthFactorOk          = errors.New("account health factor above minimum")
	HealthFactorNotImproved = errors.New("liquidation did not improve target health factor")
	InsufficientCollateral  = errors.New("collateral balance too low")
	InsufficientDebt        = errors.New("debt balance too low")
	OraclePriceInvalid      = errors.New("oracle price must be positive")
	ReentrantCall           = errors.New("reentrant engine call")
)

// HealthFactorBrokenError fails an operation whose caller would end below
// MIN_HEALTH_FACTOR. It carries the computed factor for diagnostics.
type HealthFactorBrokenError struct {
	Factor decimal.Decimal
}

func (e *HealthFactorBrokenError) Error() string {
	return fmt.Sprintf("health factor broken: %s", e.Factor)
}

func HealthFactorBroken(factor decimal.Decimal) error {
	return &HealthFactorBrokenError{Factor: factor}
}

func IsHealthFactorBroken(err error) bool {
	var broken *HealthFactorBrokenError
	return errors.As(err, &broken)
}
