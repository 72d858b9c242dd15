package pricefeed

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"probity/core/types"
	nativecommon "probity/native/common"
	"probity/native/fixedpoint"
)

var errUnknownAsset = errors.New("price feed: asset not configured")

// Quote is the last price pushed for an asset in ray precision.
type Quote struct {
	Price     *uint256.Int
	UpdatedAt time.Time
}

// Feed stores the latest price per asset. Prices are pushed by an external
// updater; oracle aggregation happens upstream.
type Feed struct {
	mu       sync.RWMutex
	shutdown bool
	quotes   map[types.AssetID]Quote
	nowFn    func() time.Time
}

func New() *Feed {
	return &Feed{quotes: make(map[types.AssetID]Quote), nowFn: time.Now}
}

// SetNowFunc overrides the clock used to stamp updates.
func (f *Feed) SetNowFunc(now func() time.Time) {
	if now == nil {
		return
	}
	f.mu.Lock()
	f.nowFn = now
	f.mu.Unlock()
}

// UpdatePrice records a new ray-precision price. Updates are rejected once
// the feed has been shut down so the settlement price cannot drift.
func (f *Feed) UpdatePrice(asset types.AssetID, price *uint256.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shutdown {
		return fmt.Errorf("price feed: %w", nativecommon.ErrModuleShutdown)
	}
	f.quotes[asset] = Quote{Price: fixedpoint.Copy(price), UpdatedAt: f.nowFn()}
	return nil
}

// GetPrice returns the latest price. A configured asset may legitimately
// report zero; callers decide whether that is acceptable.
func (f *Feed) GetPrice(asset types.AssetID) (*uint256.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownAsset, asset)
	}
	return fixedpoint.Copy(quote.Price), nil
}

func (f *Feed) Quote(asset types.AssetID) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[asset]
	if !ok {
		return Quote{}, false
	}
	return Quote{Price: fixedpoint.Copy(quote.Price), UpdatedAt: quote.UpdatedAt}, true
}

func (f *Feed) SetShutdownFlag(flag bool) error {
	f.mu.Lock()
	f.shutdown = flag
	f.mu.Unlock()
	return nil
}

func (f *Feed) ShutdownFlag() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.shutdown
}
