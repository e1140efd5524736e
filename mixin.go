package core

import (
	"context"

	"github.com/fox-one/mixin-sdk-go/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	AssetInfoStore interface {
		GetAssetInfo(ctx context.Context, assetId string) (*AssetInfo, error)
		ListAssetInfos(ctx context.Context) ([]*AssetInfo, error)
		UpsertAssetInfo(ctx context.Context, info *AssetInfo) error
	}

	// AssetInfo is display metadata for a collateral asset, mirrored from the
	// Mixin network. The engine never reads it; it rides along on the
	// registry for clients.
	AssetInfo struct {
		AssetId   string          `json:"assetId,omitempty"`
		ChainId   string          `json:"chainId,omitempty"`
		Symbol    string          `json:"symbol,omitempty"`
		Name      string          `json:"name,omitempty"`
		IconURL   string          `json:"iconUrl,omitempty"`
		Precision int32           `json:"precision,omitempty"`
		Dust      decimal.Decimal `json:"dust,omitempty"`
	}
)

func NewAssetInfoFromMixin(asset *mixin.SafeAsset) *AssetInfo {
	return &AssetInfo{
		AssetId:   asset.AssetID,
		ChainId:   asset.ChainID,
		Symbol:    asset.Symbol,
		Name:      asset.Name,
		IconURL:   asset.IconURL,
		Precision: asset.Precision,
		Dust:      asset.Dust,
	}
}

// SyncAssetInfos mirrors a batch of Mixin assets into the store.
func SyncAssetInfos(ctx context.Context, store AssetInfoStore, assets []*mixin.SafeAsset) error {
	for _, asset := range assets {
		if err := store.UpsertAssetInfo(ctx, NewAssetInfoFromMixin(asset)); err != nil {
			return errors.Wrapf(err, "upsert asset info %s", asset.AssetID)
		}
	}
	return nil
}
