package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	// MarketQuote is the slice of a market data payload the price source
	// reads.
	MarketQuote struct {
		CoinID       string          `json:"coin_id"`
		Symbol       string          `json:"symbol"`
		CurrentPrice decimal.Decimal `json:"current_price"`
		UpdatedAt    time.Time       `json:"updated_at"`
		AssetIDS     []string        `json:"asset_ids"`
		Key          string          `json:"key"`
	}

	marketErrorResponse struct {
		Error struct {
			Status      int    `json:"status"`
			Code        int    `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}

	MarketAPIError struct {
		StatusCode  int
		Code        int
		Description string
		RawBody     string
	}

	// MarketPriceSource reads feed quotes from a market data HTTP API, one
	// GET per feed.
	MarketPriceSource struct {
		endpoint string
		client   *http.Client
	}
)

var _ PriceSource = (*MarketPriceSource)(nil)

func (e *MarketAPIError) Error() string {
	return fmt.Sprintf("market API error: status=%d, code=%d, description=%s",
		e.StatusCode, e.Code, e.Description)
}

func NewMarketPriceSource(endpoint string, client *http.Client) *MarketPriceSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &MarketPriceSource{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   client,
	}
}

func (s *MarketPriceSource) LatestPrice(ctx context.Context, priceFeedId string) (*PriceQuote, error) {
	uri := fmt.Sprintf("%s/quotes/%s", s.endpoint, url.PathEscape(priceFeedId))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build quote request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch quote %s", priceFeedId)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read quote %s", priceFeedId)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &MarketAPIError{
			StatusCode: resp.StatusCode,
			RawBody:    string(body),
		}
		var envelope marketErrorResponse
		if json.Unmarshal(body, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Description = envelope.Error.Description
		}
		return nil, apiErr
	}

	var quote MarketQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, errors.Wrapf(err, "decode quote %s", priceFeedId)
	}

	return &PriceQuote{
		FeedId:    priceFeedId,
		Price:     quote.CurrentPrice,
		UpdatedAt: quote.UpdatedAt.Unix(),
	}, nil
}
