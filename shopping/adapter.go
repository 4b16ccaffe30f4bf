// Package shopping defines the external search adapters consumed by the
// pipelines. Adapters are fault-prone: errors may surface either as a Go
// error or as an in-band record; both forms are normalized here.
package shopping

import (
	"context"
	"errors"
	"fmt"

	"github.com/MercatoLabs/dealkit/types"
)

// Adapter is the shopping search interface. Implementations return at most
// 100 items per query (the adapter contract).
type Adapter interface {
	Search(ctx context.Context, query string) ([]types.Product, error)
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(ctx context.Context, query string) ([]types.Product, error)

// Search implements Adapter.
func (f AdapterFunc) Search(ctx context.Context, query string) ([]types.Product, error) {
	return f(ctx, query)
}

// ErrAdapter wraps in-band adapter errors.
var ErrAdapter = errors.New("shopping adapter error")

// Normalize folds in-band error records into a Go error and strips them
// from the result. A result consisting solely of error records becomes an
// error; error records mixed with real items are dropped.
func Normalize(items []types.Product, err error) ([]types.Product, error) {
	if err != nil {
		return nil, err
	}

	clean := make([]types.Product, 0, len(items))
	var inBand string
	for _, item := range items {
		if item.Error != "" {
			inBand = item.Error
			continue
		}
		clean = append(clean, item)
	}
	if len(clean) == 0 && inBand != "" {
		return nil, fmt.Errorf("%w: %s", ErrAdapter, inBand)
	}
	return clean, nil
}

// WebResult is one entry from the web-search adapter, used by the
// orchestrator's non-contract paths.
type WebResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
	IsAd     bool   `json:"is_ad,omitempty"`
}

// WebAdapter is the web-search interface.
type WebAdapter interface {
	Search(ctx context.Context, query string) ([]WebResult, error)
}
