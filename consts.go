package core

import (
	"math"

	"github.com/shopspring/decimal"
)

// AMOUNT_PRECISION is the number of fractional digits carried by ledger
// amounts and factors. Every division floors at this precision; products are
// kept exact until they meet a division.
const AMOUNT_PRECISION int32 = 18

var (
	ONE = decimal.NewFromInt(1)

	// Collateral value is haircut to LIQUIDATION_THRESHOLD out of
	// LIQUIDATION_PRECISION before it backs debt; a liquidator is paid
	// LIQUIDATION_BONUS out of LIQUIDATION_PRECISION on top of the seized
	// amount, funded from the target's own collateral.
	LIQUIDATION_THRESHOLD = decimal.NewFromInt(50)
	LIQUIDATION_BONUS     = decimal.NewFromInt(10)
	LIQUIDATION_PRECISION = decimal.NewFromInt(100)

	// An account at or above MIN_HEALTH_FACTOR is solvent. Accounts with no
	// outstanding debt read as MAX_HEALTH_FACTOR and are never liquidatable.
	MIN_HEALTH_FACTOR = ONE
	MAX_HEALTH_FACTOR = decimal.NewFromUint64(math.MaxUint64)
)
