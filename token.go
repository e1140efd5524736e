package core

import (
	"context"

	"github.com/shopspring/decimal"
)

type (
	// CollateralToken moves collateral assets between principals and the
	// engine vault. A false result with a nil error means the token refused
	// the move; a non-nil error is an infrastructure fault. Both abort the
	// enclosing operation, which completes-or-fails synchronously around
	// every call. Calling back into an engine mutator with the received ctx
	// fails with ReentrantCall.
	CollateralToken interface {
		TransferFrom(ctx context.Context, assetId, from, to string, amount decimal.Decimal) (bool, error)
		Transfer(ctx context.Context, assetId, to string, amount decimal.Decimal) (bool, error)
	}

	// PeggedToken is the synthetic unit minted against collateral. Mint and
	// TransferFrom follow the same false-means-refused convention as
	// CollateralToken; Burn destroys vault-held supply.
	PeggedToken interface {
		Mint(ctx context.Context, to string, amount decimal.Decimal) (bool, error)
		Burn(ctx context.Context, amount decimal.Decimal) error
		TransferFrom(ctx context.Context, from, to string, amount decimal.Decimal) (bool, error)
	}
)
