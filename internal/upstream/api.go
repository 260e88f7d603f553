package upstream

import (
	"context"
	"fmt"
	"net/url"
)

// Endpoints represents the upstream endpoint addresses,
// StoreMenu contains %s in place of a store id
type Endpoints struct {
	App       string
	Stores    string
	StoreMenu string
}

// API queries the vendor app endpoints
type API struct {
	fetcher   *Fetcher
	endpoints Endpoints
}

// NewAPI creates an API client
func NewAPI(fetcher *Fetcher, endpoints Endpoints) *API {
	return &API{fetcher: fetcher, endpoints: endpoints}
}

// AppCoupons returns app coupons and offers
func (a *API) AppCoupons(ctx context.Context) (*AppResponse, error) {
	result := &AppResponse{}
	if err := a.fetcher.GetJSON(ctx, a.endpoints.App, "coupons", result); err != nil {
		return nil, err
	}
	return result, nil
}

// Stores returns the stores listing
func (a *API) Stores(ctx context.Context) ([]Store, error) {
	var result []Store
	if err := a.fetcher.GetJSON(ctx, a.endpoints.Stores, "stores", &result); err != nil {
		return nil, err
	}
	return result, nil
}

// StoreMenu returns the menu of a store
func (a *API) StoreMenu(ctx context.Context, storeID string) (*MenuResponse, error) {
	result := &MenuResponse{}
	link := fmt.Sprintf(a.endpoints.StoreMenu, url.PathEscape(storeID))
	if err := a.fetcher.GetJSON(ctx, link, "menu_"+storeID, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Download returns the body of an arbitrary resource such as coupon artwork
func (a *API) Download(ctx context.Context, link string) ([]byte, error) {
	return a.fetcher.Get(ctx, link)
}
