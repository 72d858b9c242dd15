package types

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetID identifies a collateral type. Identifiers are short ASCII labels
// right-padded with zero bytes, e.g. "FLR" or "USD".
type AssetID [32]byte

var errAssetIDTooLong = errors.New("types: asset id longer than 32 bytes")

// ParseAssetID accepts either a label of at most 32 bytes or a 0x-prefixed
// 32-byte hex string.
func ParseAssetID(value string) (AssetID, error) {
	var id AssetID
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "0x") && len(trimmed) == 66 {
		raw, err := hex.DecodeString(trimmed[2:])
		if err == nil {
			copy(id[:], raw)
			return id, nil
		}
	}
	if len(trimmed) > len(id) {
		return id, errAssetIDTooLong
	}
	copy(id[:], trimmed)
	return id, nil
}

// MustAssetID is ParseAssetID for literals.
func MustAssetID(value string) AssetID {
	id, err := ParseAssetID(value)
	if err != nil {
		panic(err)
	}
	return id
}

func (a AssetID) String() string {
	return string(bytes.TrimRight(a[:], "\x00"))
}

func (a AssetID) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a AssetID) IsZero() bool {
	return a == AssetID{}
}

func (a AssetID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AssetID) UnmarshalText(text []byte) error {
	id, err := ParseAssetID(string(text))
	if err != nil {
		return err
	}
	*a = id
	return nil
}

// Vault is a single user's position in one asset. All fields are in low
// (wad) precision.
type Vault struct {
	Collateral *uint256.Int `json:"collateral"`
	Debt       *uint256.Int `json:"debt"`
	Equity     *uint256.Int `json:"equity"`
}

// Totals carries the system-wide aggregates in value (rad) precision.
type Totals struct {
	TotalDebt   *uint256.Int `json:"totalDebt"`
	TotalEquity *uint256.Int `json:"totalEquity"`
}

// LiquidationRoles names the accounts a privileged liquidation credits. The
// auctioneer receives the seized collateral as standby balance and the reserve
// pool absorbs the written-off debt as unbacked debt.
type LiquidationRoles struct {
	Auctioneer  common.Address
	ReservePool common.Address
}
