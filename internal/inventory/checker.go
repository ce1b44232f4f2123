// Package inventory decides whether a request's materials are in stock.
package inventory

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/schoolops/labflow/internal/cache"
	"github.com/schoolops/labflow/internal/logging"
	"github.com/schoolops/labflow/internal/metrics"
	"github.com/schoolops/labflow/internal/models"
	"github.com/schoolops/labflow/internal/msgraph"
)

// WarningCheckFailed marks a check that failed open because the stock
// directory was unreachable.
const WarningCheckFailed = "inventory_check_failed"

// StockLookup resolves one material against the stock directory.
type StockLookup interface {
	Lookup(ctx context.Context, material string) (msgraph.StockItem, bool, error)
}

// Checker evaluates material availability with a read-through cache.
// Lookup failures never block a request: the check fails open and tags the
// result with a warning instead.
type Checker struct {
	stock   StockLookup
	cache   *cache.Cache[models.InventoryResult]
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewChecker creates a checker. The cache is owned by the caller so tests
// and the daemon control its lifetime and limits.
func NewChecker(stock StockLookup, resultCache *cache.Cache[models.InventoryResult], m *metrics.Metrics) *Checker {
	return &Checker{
		stock:   stock,
		cache:   resultCache,
		metrics: m,
		logger:  logging.Component("inventory"),
	}
}

// Check reports which of the given materials are missing. Materials are
// assumed normalized. forceRefresh bypasses the cache for this call; the
// fresh result still replaces the cached one.
func (c *Checker) Check(ctx context.Context, materials []string, forceRefresh bool) models.InventoryResult {
	if len(materials) == 0 {
		return models.InventoryResult{MaterialEnough: true, MissingItems: []string{}}
	}

	key := models.MaterialsKey(materials)
	if !forceRefresh {
		if result, ok := c.cache.Get(key); ok {
			c.metrics.ObserveCache(true)
			return result
		}
		c.metrics.ObserveCache(false)
	}

	result, ok := c.checkFresh(ctx, materials)
	if !ok {
		// Fail open, and keep the degraded result out of the cache so the
		// next call retries the directory.
		return models.InventoryResult{
			MaterialEnough: true,
			MissingItems:   []string{},
			Warning:        WarningCheckFailed,
		}
	}

	c.cache.Set(key, result)
	return result
}

func (c *Checker) checkFresh(ctx context.Context, materials []string) (models.InventoryResult, bool) {
	missing := []string{}
	for _, material := range materials {
		item, found, err := c.stock.Lookup(ctx, material)
		if err != nil {
			c.logger.Warn().Err(err).Str("material", material).Msg("stock lookup failed")
			return models.InventoryResult{}, false
		}
		if !found || !inStock(item) {
			missing = append(missing, material)
		}
	}

	return models.InventoryResult{
		MaterialEnough: len(missing) == 0,
		MissingItems:   missing,
	}, true
}

// inStock reports whether a stock row covers demand. Rows with unparseable
// quantities count as missing, and stock at exactly the minimum does too.
func inStock(item msgraph.StockItem) bool {
	quantity, err := parseAmount(item.Quantity)
	if err != nil {
		return false
	}
	minimum, err := parseAmount(item.MinQty)
	if err != nil {
		return false
	}
	return quantity > minimum
}

func parseAmount(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
