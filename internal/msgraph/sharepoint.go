package msgraph

import (
	"context"
	"fmt"
	"net/url"
)

// StockItem is one row of the SharePoint stock directory list. Quantity and
// MinQty come back as raw list text; callers decide how to parse them.
type StockItem struct {
	Material string
	Quantity string
	MinQty   string
}

// StockDirectoryConfig identifies the SharePoint list that holds lab stock.
type StockDirectoryConfig struct {
	SiteID string
	ListID string
}

// StockDirectory reads stock levels from a SharePoint list.
type StockDirectory struct {
	client *Client
	config StockDirectoryConfig
}

// NewStockDirectory creates a stock directory over the given client.
func NewStockDirectory(client *Client, config StockDirectoryConfig) *StockDirectory {
	return &StockDirectory{client: client, config: config}
}

type listItemsResponse struct {
	Value []struct {
		Fields struct {
			Material string `json:"Material"`
			Quantity string `json:"Quantity"`
			MinQty   string `json:"MinQty"`
		} `json:"fields"`
	} `json:"value"`
}

// Lookup fetches the stock row for a material. The second return is false
// when the list has no row for it.
func (d *StockDirectory) Lookup(ctx context.Context, material string) (StockItem, bool, error) {
	filter := fmt.Sprintf("fields/Material eq '%s'", escapeOData(material))
	path := fmt.Sprintf("/sites/%s/lists/%s/items?expand=fields&$filter=%s",
		url.PathEscape(d.config.SiteID),
		url.PathEscape(d.config.ListID),
		url.QueryEscape(filter))

	var resp listItemsResponse
	if err := d.client.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return StockItem{}, false, fmt.Errorf("stock lookup %q: %w", material, err)
	}
	if len(resp.Value) == 0 {
		return StockItem{}, false, nil
	}

	fields := resp.Value[0].Fields
	return StockItem{
		Material: fields.Material,
		Quantity: fields.Quantity,
		MinQty:   fields.MinQty,
	}, true, nil
}
