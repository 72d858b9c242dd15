package reservepool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "probity/native/common"
	"probity/native/fixedpoint"
)

var (
	errNilLedger   = errors.New("reserve pool: ledger not configured")
	errNotShutdown = errors.New("reserve pool: redemptions open only after shutdown")
	errNoVouchers  = errors.New("reserve pool: holder has no vouchers")
)

// ledger is the subset of the vault ledger the pool needs. The pool's reserve
// balance is its stablecoin balance and its system debt is the unbacked debt
// recorded against its address.
type ledger interface {
	Stablecoin(addr common.Address) *uint256.Int
	UnbackedDebt(addr common.Address) *uint256.Int
	MoveStablecoin(caller, from, to common.Address, amount *uint256.Int) error
	Settle(caller, from, debtor common.Address, amount *uint256.Int) error
	Reinstate(caller, to, debtor common.Address, amount *uint256.Int) error
}

// Pool holds the protocol's surplus reserve and the vouchers issued to
// creditors who covered earlier deficits.
type Pool struct {
	mu            sync.RWMutex
	self          common.Address
	ledger        ledger
	shutdown      bool
	vouchers      map[common.Address]*uint256.Int
	totalVouchers *uint256.Int
}

func New(self common.Address, l ledger) *Pool {
	return &Pool{
		self:          self,
		ledger:        l,
		vouchers:      make(map[common.Address]*uint256.Int),
		totalVouchers: new(uint256.Int),
	}
}

func (p *Pool) Address() common.Address { return p.self }

func (p *Pool) Balance() (*uint256.Int, error) {
	if p.ledger == nil {
		return nil, errNilLedger
	}
	return p.ledger.Stablecoin(p.self), nil
}

func (p *Pool) UnbackedDebt() (*uint256.Int, error) {
	if p.ledger == nil {
		return nil, errNilLedger
	}
	return p.ledger.UnbackedDebt(p.self), nil
}

// IssueVouchers records a claim for holder. Issuance stops at shutdown so the
// voucher supply is fixed for the pro-rata distribution.
func (p *Pool) IssueVouchers(holder common.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return fmt.Errorf("reserve pool: %w", nativecommon.ErrModuleShutdown)
	}
	balance, err := fixedpoint.Add(p.vouchers[holder], amount)
	if err != nil {
		return err
	}
	total, err := fixedpoint.Add(p.totalVouchers, amount)
	if err != nil {
		return err
	}
	p.vouchers[holder] = balance
	p.totalVouchers = total
	return nil
}

func (p *Pool) Vouchers(holder common.Address) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fixedpoint.Copy(p.vouchers[holder]), nil
}

func (p *Pool) TotalVouchers() (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fixedpoint.Copy(p.totalVouchers), nil
}

// SettleSystemDebt burns reserve against the pool's own unbacked debt.
func (p *Pool) SettleSystemDebt(amount *uint256.Int) error {
	if p.ledger == nil {
		return errNilLedger
	}
	if fixedpoint.Copy(amount).IsZero() {
		return nil
	}
	return p.ledger.Settle(p.self, p.self, p.self, amount)
}

// ReinstateSystemDebt undoes SettleSystemDebt for amount.
func (p *Pool) ReinstateSystemDebt(amount *uint256.Int) error {
	if p.ledger == nil {
		return errNilLedger
	}
	if fixedpoint.Copy(amount).IsZero() {
		return nil
	}
	return p.ledger.Reinstate(p.self, p.self, p.self, amount)
}

// WriteOff burns reserve against unbacked debt recorded for debtor.
func (p *Pool) WriteOff(debtor common.Address, amount *uint256.Int) error {
	if p.ledger == nil {
		return errNilLedger
	}
	if fixedpoint.Copy(amount).IsZero() {
		return nil
	}
	return p.ledger.Settle(p.self, p.self, debtor, amount)
}

// PayVoucherRedemption pays amount of reserve to holder and retires the
// holder's vouchers. The outstanding total is left untouched so later
// claimants keep the same denominator.
func (p *Pool) PayVoucherRedemption(holder common.Address, amount *uint256.Int) error {
	if p.ledger == nil {
		return errNilLedger
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.shutdown {
		return errNotShutdown
	}
	if _, ok := p.vouchers[holder]; !ok {
		return errNoVouchers
	}
	if err := p.ledger.MoveStablecoin(p.self, p.self, holder, amount); err != nil {
		return err
	}
	p.vouchers[holder] = new(uint256.Int)
	return nil
}

func (p *Pool) SetShutdownFlag(flag bool) error {
	p.mu.Lock()
	p.shutdown = flag
	p.mu.Unlock()
	return nil
}

func (p *Pool) ShutdownFlag() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shutdown
}
