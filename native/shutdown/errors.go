package shutdown

import (
	"errors"

	"probity/native/fixedpoint"
)

// Each sentinel names one failure kind. Call sites wrap them with context, so
// callers should match with errors.Is.
var (
	ErrPermissionDenied      = errors.New("shutdown: permission denied")
	ErrAlreadyInitiated      = errors.New("shutdown: already initiated")
	ErrNotYetInitiated       = errors.New("shutdown: not yet initiated")
	ErrInvalidTarget         = errors.New("shutdown: invalid target")
	ErrZeroPrice             = errors.New("shutdown: price retrieved is zero")
	ErrFinalPriceNotSet      = errors.New("shutdown: final price not set")
	ErrDebtNotProcessed      = errors.New("shutdown: user debt not processed")
	ErrNothingToFree         = errors.New("shutdown: no collateral to free")
	ErrNothingToRedeem       = errors.New("shutdown: nothing to redeem")
	ErrReservesNotReconciled = errors.New("shutdown: system reserve or debt must be zero")
	ErrWaitPeriodNotElapsed  = errors.New("shutdown: waiting for auctions to complete")
	ErrAlreadySet            = errors.New("shutdown: already set")
	ErrNotSet                = errors.New("shutdown: not set")
	ErrNoObligation          = errors.New("shutdown: investor obligation is zero")

	ErrArithmeticOverflow = fixedpoint.ErrArithmeticOverflow
	ErrDivisionByZero     = fixedpoint.ErrDivisionByZero
)

var errNilCollaborator = errors.New("shutdown: collaborator not configured")
