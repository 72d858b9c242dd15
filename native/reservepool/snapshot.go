package reservepool

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"probity/native/fixedpoint"
)

type voucherEntry struct {
	Holder common.Address
	Amount *uint256.Int
}

type snapshot struct {
	Shutdown      bool
	Vouchers      []voucherEntry
	TotalVouchers *uint256.Int
}

// Snapshot encodes the voucher book and shutdown flag. Reserve balance and
// system debt live in the ledger and are persisted with it.
func (p *Pool) Snapshot() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap := snapshot{Shutdown: p.shutdown, TotalVouchers: fixedpoint.Copy(p.totalVouchers)}
	for holder, amount := range p.vouchers {
		snap.Vouchers = append(snap.Vouchers, voucherEntry{Holder: holder, Amount: fixedpoint.Copy(amount)})
	}
	sort.Slice(snap.Vouchers, func(i, j int) bool {
		return bytes.Compare(snap.Vouchers[i].Holder[:], snap.Vouchers[j].Holder[:]) < 0
	})
	return rlp.EncodeToBytes(&snap)
}

func (p *Pool) Restore(data []byte) error {
	var snap snapshot
	if err := rlp.DecodeBytes(data, &snap); err != nil {
		return fmt.Errorf("reserve pool: decode snapshot: %w", err)
	}
	vouchers := make(map[common.Address]*uint256.Int, len(snap.Vouchers))
	for _, entry := range snap.Vouchers {
		vouchers[entry.Holder] = fixedpoint.Copy(entry.Amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdown = snap.Shutdown
	p.vouchers = vouchers
	p.totalVouchers = fixedpoint.Copy(snap.TotalVouchers)
	return nil
}
