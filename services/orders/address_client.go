package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
)

// AddressClient resolves billing-service addresses on behalf of a customer.
type AddressClient interface {
	Resolve(ctx context.Context, ownerID, addressID string) (AddressSnapshot, error)
}

// HTTPAddressClient calls the billing service's GET /address/{id}, forwarding
// the caller so only the caller's own addresses resolve.
type HTTPAddressClient struct {
	billing *collaborator
}

func NewHTTPAddressClient(baseURL string) *HTTPAddressClient {
	return &HTTPAddressClient{billing: newCollaborator("billing", baseURL)}
}

func (c *HTTPAddressClient) Resolve(ctx context.Context, ownerID, addressID string) (AddressSnapshot, error) {
	if addressID == "" {
		return AddressSnapshot{}, fmt.Errorf("address id is required: %w", ErrInvalidArgument)
	}

	var snap AddressSnapshot
	resp, err := c.billing.execute(ctx, func() (*resty.Response, error) {
		return c.billing.request(ctx).
			SetHeader(headerUserID, ownerID).
			SetResult(&snap).
			Get("/address/" + url.PathEscape(addressID))
	})
	if err != nil {
		return AddressSnapshot{}, err
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		if snap.AddressID == "" {
			snap.AddressID = addressID
		}
		return snap, nil
	case http.StatusNotFound, http.StatusForbidden:
		return AddressSnapshot{}, fmt.Errorf("address %s: %w", addressID, ErrNotFound)
	default:
		return AddressSnapshot{}, fmt.Errorf("billing answered %d for address %s: %w", resp.StatusCode(), addressID, ErrInvalidArgument)
	}
}
