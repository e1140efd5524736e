package core

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"gorm.io/gorm"

	"github.com/PegVault/core/utils"
)

type (
	AccountStore interface {
		GetAccountById(ctx context.Context, accountId uuid.UUID) (*Account, error)
		GetAccountByPrincipal(ctx context.Context, principal string) (*Account, error)
	}

	// Account is a position owner. The id derives from the principal, so the
	// same principal always resolves to the same account, even across
	// rebuilds of the store.
	Account struct {
		Id        uuid.UUID `json:"id"`
		Principal string    `json:"principal"`
		CreatedAt int64     `json:"createdAt"`
		UpdatedAt int64     `json:"updatedAt"`
	}
)

func NewAccount(clk clock.Clock, principal string) *Account {
	return &Account{
		Id:        uuid.Must(uuid.FromString(utils.DeriveUuid(principal))),
		Principal: principal,
		CreatedAt: clk.Now().Unix(),
		UpdatedAt: clk.Now().Unix(),
	}
}

// FindOrCreateAccount resolves a principal to its account, materializing a
// fresh one for a principal that has never touched the engine. A fresh
// account is not persisted until the enclosing operation commits, so a failed
// first operation leaves no trace of it.
func FindOrCreateAccount(ctx context.Context, clk clock.Clock, svc LedgerService, principal string) (*Account, error) {
	account, err := svc.GetAccountByPrincipal(ctx, principal)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return NewAccount(clk, principal), nil
		}
		return nil, err
	}
	return account, nil
}
