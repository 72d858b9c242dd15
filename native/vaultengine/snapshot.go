package vaultengine

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"probity/core/types"
	"probity/native/fixedpoint"
)

type vaultEntry struct {
	Asset      types.AssetID
	User       common.Address
	Collateral *uint256.Int
	Debt       *uint256.Int
	Equity     *uint256.Int
}

type standbyEntry struct {
	Asset  types.AssetID
	User   common.Address
	Amount *uint256.Int
}

type balanceEntry struct {
	Account common.Address
	Amount  *uint256.Int
}

type snapshot struct {
	Shutdown      bool
	Assets        []types.AssetID
	Vaults        []vaultEntry
	Standby       []standbyEntry
	Stablecoin    []balanceEntry
	Unbacked      []balanceEntry
	Liquidators   []common.Address
	TotalDebt     *uint256.Int
	TotalEquity   *uint256.Int
	TotalUnbacked *uint256.Int
}

// Snapshot encodes the full ledger to RLP in a canonical order.
func (e *Engine) Snapshot() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := snapshot{
		Shutdown:      e.shutdown,
		TotalDebt:     fixedpoint.Copy(e.totalDebt),
		TotalEquity:   fixedpoint.Copy(e.totalEquity),
		TotalUnbacked: fixedpoint.Copy(e.totalUnbacked),
	}
	for asset := range e.assets {
		snap.Assets = append(snap.Assets, asset)
	}
	sort.Slice(snap.Assets, func(i, j int) bool {
		return bytes.Compare(snap.Assets[i][:], snap.Assets[j][:]) < 0
	})
	for key, v := range e.vaults {
		snap.Vaults = append(snap.Vaults, vaultEntry{
			Asset:      key.asset,
			User:       key.user,
			Collateral: fixedpoint.Copy(v.collateral),
			Debt:       fixedpoint.Copy(v.debt),
			Equity:     fixedpoint.Copy(v.equity),
		})
	}
	sort.Slice(snap.Vaults, func(i, j int) bool {
		return keyLess(snap.Vaults[i].Asset, snap.Vaults[i].User, snap.Vaults[j].Asset, snap.Vaults[j].User)
	})
	for key, amount := range e.standby {
		snap.Standby = append(snap.Standby, standbyEntry{Asset: key.asset, User: key.user, Amount: fixedpoint.Copy(amount)})
	}
	sort.Slice(snap.Standby, func(i, j int) bool {
		return keyLess(snap.Standby[i].Asset, snap.Standby[i].User, snap.Standby[j].Asset, snap.Standby[j].User)
	})
	snap.Stablecoin = balances(e.stablecoin)
	snap.Unbacked = balances(e.unbacked)
	for addr := range e.liquidators {
		snap.Liquidators = append(snap.Liquidators, addr)
	}
	sort.Slice(snap.Liquidators, func(i, j int) bool {
		return bytes.Compare(snap.Liquidators[i][:], snap.Liquidators[j][:]) < 0
	})
	return rlp.EncodeToBytes(&snap)
}

// Restore replaces the ledger contents with a Snapshot. The access control
// binding is kept.
func (e *Engine) Restore(data []byte) error {
	var snap snapshot
	if err := rlp.DecodeBytes(data, &snap); err != nil {
		return fmt.Errorf("vault engine: decode snapshot: %w", err)
	}
	next := New()
	next.shutdown = snap.Shutdown
	for _, asset := range snap.Assets {
		next.assets[asset] = struct{}{}
	}
	for _, entry := range snap.Vaults {
		next.vaults[vaultKey{asset: entry.Asset, user: entry.User}] = &vault{
			collateral: fixedpoint.Copy(entry.Collateral),
			debt:       fixedpoint.Copy(entry.Debt),
			equity:     fixedpoint.Copy(entry.Equity),
		}
	}
	for _, entry := range snap.Standby {
		next.standby[vaultKey{asset: entry.Asset, user: entry.User}] = fixedpoint.Copy(entry.Amount)
	}
	for _, entry := range snap.Stablecoin {
		next.stablecoin[entry.Account] = fixedpoint.Copy(entry.Amount)
	}
	for _, entry := range snap.Unbacked {
		next.unbacked[entry.Account] = fixedpoint.Copy(entry.Amount)
	}
	for _, addr := range snap.Liquidators {
		next.liquidators[addr] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = next.shutdown
	e.assets = next.assets
	e.vaults = next.vaults
	e.standby = next.standby
	e.stablecoin = next.stablecoin
	e.unbacked = next.unbacked
	e.liquidators = next.liquidators
	e.totalDebt = fixedpoint.Copy(snap.TotalDebt)
	e.totalEquity = fixedpoint.Copy(snap.TotalEquity)
	e.totalUnbacked = fixedpoint.Copy(snap.TotalUnbacked)
	return nil
}

func keyLess(assetA types.AssetID, userA common.Address, assetB types.AssetID, userB common.Address) bool {
	if c := bytes.Compare(assetA[:], assetB[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(userA[:], userB[:]) < 0
}

func balances(m map[common.Address]*uint256.Int) []balanceEntry {
	out := make([]balanceEntry, 0, len(m))
	for addr, amount := range m {
		out = append(out, balanceEntry{Account: addr, Amount: fixedpoint.Copy(amount)})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Account[:], out[j].Account[:]) < 0
	})
	return out
}
