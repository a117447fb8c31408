// internal/clients/catalog_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"circdesk/internal/catalog"
)

type CatalogClient struct {
	*Client
}

func NewCatalogClient(c *Client) *CatalogClient {
	return &CatalogClient{Client: c}
}

// CatalogItem is a catalogue entry with its reading-time estimate.
type CatalogItem struct {
	catalog.Entry
	ReadingMinutes int `json:"reading_minutes"`
}

func (c *CatalogClient) GetItem(ctx context.Context, id uuid.UUID) (*CatalogItem, error) {
	var item CatalogItem
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/catalog/%s", id), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *CatalogClient) AddItem(ctx context.Context, in catalog.NewEntry) (*CatalogItem, error) {
	var item CatalogItem
	if err := c.do(ctx, http.MethodPost, "/catalog", in, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *CatalogClient) Search(ctx context.Context, query string) ([]CatalogItem, error) {
	var items []CatalogItem
	err := c.do(ctx, http.MethodGet, "/catalog/search?q="+url.QueryEscape(query), nil, &items)
	return items, err
}
