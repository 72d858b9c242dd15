package pricefeed

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"probity/core/types"
	"probity/native/fixedpoint"
)

type quoteEntry struct {
	Asset          types.AssetID
	Price          *uint256.Int
	UpdatedAtNanos uint64
}

type snapshot struct {
	Shutdown bool
	Quotes   []quoteEntry
}

// Snapshot encodes every quote and the shutdown flag.
func (f *Feed) Snapshot() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap := snapshot{Shutdown: f.shutdown}
	for asset, quote := range f.quotes {
		snap.Quotes = append(snap.Quotes, quoteEntry{
			Asset:          asset,
			Price:          fixedpoint.Copy(quote.Price),
			UpdatedAtNanos: uint64(quote.UpdatedAt.UnixNano()),
		})
	}
	sort.Slice(snap.Quotes, func(i, j int) bool {
		return bytes.Compare(snap.Quotes[i].Asset[:], snap.Quotes[j].Asset[:]) < 0
	})
	return rlp.EncodeToBytes(&snap)
}

func (f *Feed) Restore(data []byte) error {
	var snap snapshot
	if err := rlp.DecodeBytes(data, &snap); err != nil {
		return fmt.Errorf("price feed: decode snapshot: %w", err)
	}
	quotes := make(map[types.AssetID]Quote, len(snap.Quotes))
	for _, entry := range snap.Quotes {
		quotes[entry.Asset] = Quote{
			Price:     fixedpoint.Copy(entry.Price),
			UpdatedAt: time.Unix(0, int64(entry.UpdatedAtNanos)).UTC(),
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = snap.Shutdown
	f.quotes = quotes
	return nil
}
