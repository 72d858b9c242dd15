package pricefeed

import (
	"errors"
	"testing"
	"time"

	"probity/core/types"
	nativecommon "probity/native/common"
	"probity/native/fixedpoint"
)

func TestFeedUpdatesUntilShutdown(t *testing.T) {
	feed := New()
	stamp := time.Unix(1_700_000_000, 0)
	feed.SetNowFunc(func() time.Time { return stamp })
	flr := types.MustAssetID("FLR")

	if _, err := feed.GetPrice(flr); !errors.Is(err, errUnknownAsset) {
		t.Fatalf("expected errUnknownAsset, got %v", err)
	}
	price := fixedpoint.MustParse("0.987", fixedpoint.UnitRay)
	if err := feed.UpdatePrice(flr, price); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := feed.GetPrice(flr)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if !got.Eq(price) {
		t.Fatalf("unexpected price: %s", got)
	}
	quote, ok := feed.Quote(flr)
	if !ok || !quote.UpdatedAt.Equal(stamp) {
		t.Fatalf("unexpected quote: %+v", quote)
	}

	if err := feed.SetShutdownFlag(true); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if err := feed.UpdatePrice(flr, fixedpoint.Ray(2)); !errors.Is(err, nativecommon.ErrModuleShutdown) {
		t.Fatalf("expected ErrModuleShutdown, got %v", err)
	}
	got, _ = feed.GetPrice(flr)
	if !got.Eq(price) {
		t.Fatalf("price must not change after shutdown: %s", got)
	}
}
