package main

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// QuoteClient fetches current price and availability from the catalog.
type QuoteClient interface {
	// Quote returns one entry per requested product. Products the catalog could
	// not quote carry a failure marker; an error means the catalog itself failed.
	Quote(ctx context.Context, productIDs []string) (map[string]PriceQuote, error)
}

type catalogProduct struct {
	ProductID          string          `json:"productId"`
	ProductName        string          `json:"productName"`
	Price              decimal.Decimal `json:"price"`
	AvailableItemCount int             `json:"availableItemCount"`
}

// HTTPQuoteClient calls the catalog's GET /product/{id}, one request per product.
type HTTPQuoteClient struct {
	catalog     *collaborator
	concurrency int
}

func NewHTTPQuoteClient(baseURL string) *HTTPQuoteClient {
	return &HTTPQuoteClient{
		catalog:     newCollaborator("catalog", baseURL),
		concurrency: 8,
	}
}

func (c *HTTPQuoteClient) Quote(ctx context.Context, productIDs []string) (map[string]PriceQuote, error) {
	var mu sync.Mutex
	quotes := make(map[string]PriceQuote, len(productIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, id := range productIDs {
		g.Go(func() error {
			q, err := c.quoteOne(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			quotes[id] = q
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return quotes, nil
}

func (c *HTTPQuoteClient) quoteOne(ctx context.Context, productID string) (PriceQuote, error) {
	var body catalogProduct
	resp, err := c.catalog.execute(ctx, func() (*resty.Response, error) {
		return c.catalog.request(ctx).
			SetResult(&body).
			Get("/product/" + url.PathEscape(productID))
	})
	if err != nil {
		return PriceQuote{}, err
	}

	now := time.Now().UTC()
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return PriceQuote{ProductID: productID, QuotedAt: now, Failure: QuoteNotFound}, nil
	case resp.StatusCode() != http.StatusOK, body.Price.IsNegative():
		return PriceQuote{ProductID: productID, QuotedAt: now, Failure: QuoteUnavailable}, nil
	}

	return PriceQuote{
		ProductID:   productID,
		ProductName: body.ProductName,
		UnitPrice:   body.Price,
		Available:   body.AvailableItemCount,
		QuotedAt:    now,
	}, nil
}
