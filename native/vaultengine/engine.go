package vaultengine

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"probity/core/types"
	nativecommon "probity/native/common"
	"probity/native/fixedpoint"
)

const moduleName = "vaultengine"

var (
	errUnknownAsset      = errors.New("vault engine: asset not initialised")
	errAssetExists       = errors.New("vault engine: asset already initialised")
	errNotAuthorized     = errors.New("vault engine: caller not authorised")
	errInsufficientFunds = errors.New("vault engine: insufficient balance")
	errZeroAddress       = errors.New("vault engine: zero address")
)

type accessControl interface {
	HasRole(addr common.Address, role string) bool
}

type vaultKey struct {
	asset types.AssetID
	user  common.Address
}

type vault struct {
	collateral *uint256.Int
	debt       *uint256.Int
	equity     *uint256.Int
}

func newVault() *vault {
	return &vault{collateral: new(uint256.Int), debt: new(uint256.Int), equity: new(uint256.Int)}
}

// Engine is an in-memory vault ledger. Amounts held in vaults and standby
// balances are wad precision; stablecoin balances, unbacked debt and the
// system totals are rad precision.
type Engine struct {
	mu            sync.RWMutex
	access        accessControl
	shutdown      bool
	assets        map[types.AssetID]struct{}
	vaults        map[vaultKey]*vault
	standby       map[vaultKey]*uint256.Int
	stablecoin    map[common.Address]*uint256.Int
	unbacked      map[common.Address]*uint256.Int
	liquidators   map[common.Address]struct{}
	totalDebt     *uint256.Int
	totalEquity   *uint256.Int
	totalUnbacked *uint256.Int
}

func New() *Engine {
	return &Engine{
		assets:        make(map[types.AssetID]struct{}),
		vaults:        make(map[vaultKey]*vault),
		standby:       make(map[vaultKey]*uint256.Int),
		stablecoin:    make(map[common.Address]*uint256.Int),
		unbacked:      make(map[common.Address]*uint256.Int),
		liquidators:   make(map[common.Address]struct{}),
		totalDebt:     new(uint256.Int),
		totalEquity:   new(uint256.Int),
		totalUnbacked: new(uint256.Int),
	}
}

// SetAccessControl lets holders of the liquidator role act as privileged
// callers in addition to explicitly authorised addresses.
func (e *Engine) SetAccessControl(access accessControl) {
	e.mu.Lock()
	e.access = access
	e.mu.Unlock()
}

func (e *Engine) SetShutdownFlag(flag bool) error {
	e.mu.Lock()
	e.shutdown = flag
	e.mu.Unlock()
	return nil
}

func (e *Engine) ShutdownFlag() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.shutdown
}

func (e *Engine) guard() error {
	if e.shutdown {
		return fmt.Errorf("%s: %w", moduleName, nativecommon.ErrModuleShutdown)
	}
	return nil
}

// AuthorizeLiquidator grants addr access to the privileged operations.
func (e *Engine) AuthorizeLiquidator(addr common.Address) error {
	if addr == (common.Address{}) {
		return errZeroAddress
	}
	e.mu.Lock()
	e.liquidators[addr] = struct{}{}
	e.mu.Unlock()
	return nil
}

func (e *Engine) authorized(caller common.Address) bool {
	if _, ok := e.liquidators[caller]; ok {
		return true
	}
	return e.access != nil && e.access.HasRole(caller, "liquidator")
}

func (e *Engine) InitAsset(asset types.AssetID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if _, ok := e.assets[asset]; ok {
		return errAssetExists
	}
	e.assets[asset] = struct{}{}
	return nil
}

func (e *Engine) requireAsset(asset types.AssetID) error {
	if _, ok := e.assets[asset]; !ok {
		return fmt.Errorf("%w: %s", errUnknownAsset, asset)
	}
	return nil
}

// Deposit credits standby collateral to user. Token custody is handled by
// the collateral managers.
func (e *Engine) Deposit(asset types.AssetID, user common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireAsset(asset); err != nil {
		return err
	}
	key := vaultKey{asset: asset, user: user}
	next, err := fixedpoint.Add(e.standby[key], amount)
	if err != nil {
		return err
	}
	e.standby[key] = next
	return nil
}

func (e *Engine) Withdraw(asset types.AssetID, user common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	key := vaultKey{asset: asset, user: user}
	next, err := fixedpoint.Sub(e.standby[key], amount)
	if err != nil {
		return errInsufficientFunds
	}
	e.standby[key] = next
	return nil
}

// ModifyDebt locks collDelta of standby collateral into the vault and draws
// debtDelta of stablecoin against it.
func (e *Engine) ModifyDebt(asset types.AssetID, user common.Address, collDelta, debtDelta *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireAsset(asset); err != nil {
		return err
	}
	key := vaultKey{asset: asset, user: user}
	v := e.vaultFor(key)

	standby, err := fixedpoint.ApplyDelta(e.standby[key], new(big.Int).Neg(orZero(collDelta)))
	if err != nil {
		return errInsufficientFunds
	}
	collateral, err := fixedpoint.ApplyDelta(v.collateral, collDelta)
	if err != nil {
		return err
	}
	debt, err := fixedpoint.ApplyDelta(v.debt, debtDelta)
	if err != nil {
		return err
	}
	value := new(big.Int).Mul(orZero(debtDelta), fixedpoint.One(fixedpoint.UnitRay).ToBig())
	balance, err := fixedpoint.ApplyDelta(e.stablecoin[user], value)
	if err != nil {
		return errInsufficientFunds
	}
	totalDebt, err := fixedpoint.ApplyDelta(e.totalDebt, value)
	if err != nil {
		return err
	}

	e.standby[key] = standby
	v.collateral, v.debt = collateral, debt
	e.stablecoin[user] = balance
	e.totalDebt = totalDebt
	return nil
}

// ModifyEquity locks collDelta of standby collateral into the vault and
// records equityDelta of supplied capital.
func (e *Engine) ModifyEquity(asset types.AssetID, user common.Address, collDelta, equityDelta *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireAsset(asset); err != nil {
		return err
	}
	key := vaultKey{asset: asset, user: user}
	v := e.vaultFor(key)

	standby, err := fixedpoint.ApplyDelta(e.standby[key], new(big.Int).Neg(orZero(collDelta)))
	if err != nil {
		return errInsufficientFunds
	}
	collateral, err := fixedpoint.ApplyDelta(v.collateral, collDelta)
	if err != nil {
		return err
	}
	equity, err := fixedpoint.ApplyDelta(v.equity, equityDelta)
	if err != nil {
		return err
	}
	value := new(big.Int).Mul(orZero(equityDelta), fixedpoint.One(fixedpoint.UnitRay).ToBig())
	totalEquity, err := fixedpoint.ApplyDelta(e.totalEquity, value)
	if err != nil {
		return err
	}

	e.standby[key] = standby
	v.collateral, v.equity = collateral, equity
	e.totalEquity = totalEquity
	return nil
}

// CreditUnbackedDebt records debt already written off by an earlier auction
// against holder and mints the matching stablecoin to beneficiary.
func (e *Engine) CreditUnbackedDebt(holder, beneficiary common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	unbacked, err := fixedpoint.Add(e.unbacked[holder], amount)
	if err != nil {
		return err
	}
	totalUnbacked, err := fixedpoint.Add(e.totalUnbacked, amount)
	if err != nil {
		return err
	}
	balance, err := fixedpoint.Add(e.stablecoin[beneficiary], amount)
	if err != nil {
		return err
	}
	totalDebt, err := fixedpoint.Add(e.totalDebt, amount)
	if err != nil {
		return err
	}
	e.unbacked[holder] = unbacked
	e.totalUnbacked = totalUnbacked
	e.stablecoin[beneficiary] = balance
	e.totalDebt = totalDebt
	return nil
}

// Liquidate applies signed deltas to a vault on behalf of an authorised
// caller. Seized collateral is credited to roles.Auctioneer as standby balance
// and the removed debt is recorded as unbacked debt of roles.ReservePool.
// System debt is unchanged until the unbacked debt is settled.
func (e *Engine) Liquidate(caller common.Address, asset types.AssetID, user common.Address, roles types.LiquidationRoles, collDelta, debtDelta, equityDelta *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.authorized(caller) {
		return errNotAuthorized
	}
	if err := e.requireAsset(asset); err != nil {
		return err
	}
	key := vaultKey{asset: asset, user: user}
	v := e.vaultFor(key)
	auctioneerKey := vaultKey{asset: asset, user: roles.Auctioneer}

	collateral, err := fixedpoint.ApplyDelta(v.collateral, collDelta)
	if err != nil {
		return err
	}
	debt, err := fixedpoint.ApplyDelta(v.debt, debtDelta)
	if err != nil {
		return err
	}
	equity, err := fixedpoint.ApplyDelta(v.equity, equityDelta)
	if err != nil {
		return err
	}
	seized, err := fixedpoint.ApplyDelta(e.standby[auctioneerKey], new(big.Int).Neg(orZero(collDelta)))
	if err != nil {
		return err
	}
	value := new(big.Int).Mul(orZero(debtDelta), fixedpoint.One(fixedpoint.UnitRay).ToBig())
	value.Neg(value)
	unbacked, err := fixedpoint.ApplyDelta(e.unbacked[roles.ReservePool], value)
	if err != nil {
		return err
	}
	totalUnbacked, err := fixedpoint.ApplyDelta(e.totalUnbacked, value)
	if err != nil {
		return err
	}

	v.collateral, v.debt, v.equity = collateral, debt, equity
	e.standby[auctioneerKey] = seized
	e.unbacked[roles.ReservePool] = unbacked
	e.totalUnbacked = totalUnbacked
	return nil
}

// MoveStablecoin transfers rad-precision stablecoin. The caller must own the
// source balance or be authorised.
func (e *Engine) MoveStablecoin(caller, from, to common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != from && !e.authorized(caller) {
		return errNotAuthorized
	}
	debited, err := fixedpoint.Sub(e.stablecoin[from], amount)
	if err != nil {
		return errInsufficientFunds
	}
	credited, err := fixedpoint.Add(e.stablecoin[to], amount)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	e.stablecoin[from] = debited
	e.stablecoin[to] = credited
	return nil
}

// MoveCollateral transfers wad-precision standby collateral.
func (e *Engine) MoveCollateral(caller common.Address, asset types.AssetID, from, to common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != from && !e.authorized(caller) {
		return errNotAuthorized
	}
	fromKey := vaultKey{asset: asset, user: from}
	toKey := vaultKey{asset: asset, user: to}
	debited, err := fixedpoint.Sub(e.standby[fromKey], amount)
	if err != nil {
		return errInsufficientFunds
	}
	credited, err := fixedpoint.Add(e.standby[toKey], amount)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	e.standby[fromKey] = debited
	e.standby[toKey] = credited
	return nil
}

// Settle burns amount of from's stablecoin against debtor's unbacked debt,
// shrinking system debt by the same amount.
func (e *Engine) Settle(caller, from, debtor common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != from && !e.authorized(caller) {
		return errNotAuthorized
	}
	balance, err := fixedpoint.Sub(e.stablecoin[from], amount)
	if err != nil {
		return errInsufficientFunds
	}
	unbacked, err := fixedpoint.Sub(e.unbacked[debtor], amount)
	if err != nil {
		return errInsufficientFunds
	}
	totalUnbacked, err := fixedpoint.Sub(e.totalUnbacked, amount)
	if err != nil {
		return err
	}
	totalDebt, err := fixedpoint.Sub(e.totalDebt, amount)
	if err != nil {
		return err
	}
	e.stablecoin[from] = balance
	e.unbacked[debtor] = unbacked
	e.totalUnbacked = totalUnbacked
	e.totalDebt = totalDebt
	return nil
}

// Reinstate reverses a Settle: amount of stablecoin is minted back to to and
// recorded again as debtor's unbacked debt. Unauthorised callers may only
// reinstate their own debt to themselves.
func (e *Engine) Reinstate(caller, to, debtor common.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if (caller != to || caller != debtor) && !e.authorized(caller) {
		return errNotAuthorized
	}
	balance, err := fixedpoint.Add(e.stablecoin[to], amount)
	if err != nil {
		return err
	}
	unbacked, err := fixedpoint.Add(e.unbacked[debtor], amount)
	if err != nil {
		return err
	}
	totalUnbacked, err := fixedpoint.Add(e.totalUnbacked, amount)
	if err != nil {
		return err
	}
	totalDebt, err := fixedpoint.Add(e.totalDebt, amount)
	if err != nil {
		return err
	}
	e.stablecoin[to] = balance
	e.unbacked[debtor] = unbacked
	e.totalUnbacked = totalUnbacked
	e.totalDebt = totalDebt
	return nil
}

func (e *Engine) Vault(asset types.AssetID, user common.Address) (types.Vault, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireAsset(asset); err != nil {
		return types.Vault{}, err
	}
	v, ok := e.vaults[vaultKey{asset: asset, user: user}]
	if !ok {
		v = newVault()
	}
	return types.Vault{
		Collateral: fixedpoint.Copy(v.collateral),
		Debt:       fixedpoint.Copy(v.debt),
		Equity:     fixedpoint.Copy(v.equity),
	}, nil
}

func (e *Engine) Totals() (types.Totals, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return types.Totals{
		TotalDebt:   fixedpoint.Copy(e.totalDebt),
		TotalEquity: fixedpoint.Copy(e.totalEquity),
	}, nil
}

func (e *Engine) Standby(asset types.AssetID, user common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fixedpoint.Copy(e.standby[vaultKey{asset: asset, user: user}])
}

func (e *Engine) Stablecoin(user common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fixedpoint.Copy(e.stablecoin[user])
}

func (e *Engine) UnbackedDebt(holder common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fixedpoint.Copy(e.unbacked[holder])
}

func (e *Engine) TotalUnbackedDebt() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fixedpoint.Copy(e.totalUnbacked)
}

func (e *Engine) vaultFor(key vaultKey) *vault {
	v, ok := e.vaults[key]
	if !ok {
		v = newVault()
		e.vaults[key] = v
	}
	return v
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
