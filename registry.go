package core

type (
	// CollateralAsset pairs an approved collateral asset with the price feed
	// that values it. Entries are fixed at registry construction.
	CollateralAsset struct {
		AssetId     string     `json:"assetId"`
		PriceFeedId string     `json:"priceFeedId"`
		Info        *AssetInfo `json:"info,omitempty"`
	}

	// CollateralRegistry is the immutable set of assets the engine accepts as
	// collateral. An asset is allowed iff it carries a price feed. Safe for
	// concurrent reads once constructed.
	CollateralRegistry struct {
		assets  map[string]*CollateralAsset
		ordered []string
	}
)

type RegistryOption func(r *CollateralRegistry)

// WithAssetInfo attaches display metadata to a registered asset. Metadata for
// an unregistered asset is dropped.
func WithAssetInfo(assetId string, info *AssetInfo) RegistryOption {
	return func(r *CollateralRegistry) {
		if asset, ok := r.assets[assetId]; ok {
			asset.Info = info
		}
	}
}

// NewCollateralRegistry zips assetIds with priceFeedIds pairwise. The lists
// must have equal length. Registering an asset twice replaces its feed but
// keeps its first position in the ordered list.
func NewCollateralRegistry(assetIds, priceFeedIds []string, opts ...RegistryOption) (*CollateralRegistry, error) {
	if len(assetIds) != len(priceFeedIds) {
		return nil, ConfigMismatch
	}

	r := &CollateralRegistry{
		assets: make(map[string]*CollateralAsset, len(assetIds)),
	}
	for i, assetId := range assetIds {
		if _, ok := r.assets[assetId]; !ok {
			r.ordered = append(r.ordered, assetId)
		}
		r.assets[assetId] = &CollateralAsset{
			AssetId:     assetId,
			PriceFeedId: priceFeedIds[i],
		}
	}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *CollateralRegistry) IsAllowed(assetId string) bool {
	_, ok := r.assets[assetId]
	return ok
}

func (r *CollateralRegistry) Asset(assetId string) (*CollateralAsset, bool) {
	asset, ok := r.assets[assetId]
	return asset, ok
}

// ListAssets returns asset ids in first-registration order.
func (r *CollateralRegistry) ListAssets() []string {
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}
