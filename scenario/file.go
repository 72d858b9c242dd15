package scenario

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// File is a scenario document. Amounts are decimal strings: vault amounts and
// vouchers in wad, prices in ray, stablecoin and reserve amounts in rad.
type File struct {
	Name        string            `yaml:"name"`
	Coordinator string            `yaml:"coordinator"`
	ReservePool string            `yaml:"reservePool"`
	HolderRole  string            `yaml:"holderRole"`
	Accounts    map[string]string `yaml:"accounts"`
	Governors   []string          `yaml:"governors"`
	Assets      []string          `yaml:"assets"`
	Prices      map[string]string `yaml:"prices"`
	Vaults      []VaultSeed       `yaml:"vaults"`
	Reserve     []Transfer        `yaml:"reserve"`
	SystemDebt  []SystemDebt      `yaml:"systemDebt"`
	Vouchers    map[string]string `yaml:"vouchers"`
	Steps       []Step            `yaml:"steps"`
}

type VaultSeed struct {
	Owner      string `yaml:"owner"`
	Asset      string `yaml:"asset"`
	Collateral string `yaml:"collateral"`
	Debt       string `yaml:"debt"`
	Equity     string `yaml:"equity"`
}

// Transfer moves stablecoin from an account into the reserve pool.
type Transfer struct {
	From   string `yaml:"from"`
	Amount string `yaml:"amount"`
}

// SystemDebt records unbacked debt left by earlier auctions. Holder defaults
// to the reserve pool.
type SystemDebt struct {
	Holder      string `yaml:"holder"`
	Beneficiary string `yaml:"beneficiary"`
	Amount      string `yaml:"amount"`
}

// Step is one coordinator call or clock advance.
type Step struct {
	Op          string `yaml:"op"`
	Caller      string `yaml:"caller"`
	Asset       string `yaml:"asset"`
	User        string `yaml:"user"`
	Target      string `yaml:"target"`
	Amount      string `yaml:"amount"`
	Seconds     uint64 `yaml:"seconds"`
	Advance     string `yaml:"advance"`
	ExpectError string `yaml:"expectError"`
}

// Load reads and parses a scenario file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("scenario: parse: %w", err)
	}
	if len(file.Governors) == 0 {
		return nil, fmt.Errorf("scenario: at least one governor required")
	}
	return &file, nil
}

// Resolve maps an account alias or hex string to an address.
func (f *File) Resolve(name string) (common.Address, error) {
	trimmed := strings.TrimSpace(name)
	if alias, ok := f.Accounts[trimmed]; ok {
		trimmed = strings.TrimSpace(alias)
	}
	if !isHex(trimmed) {
		return common.Address{}, fmt.Errorf("scenario: unknown account %q", name)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("scenario: zero address for %q", name)
	}
	return addr, nil
}

func isHex(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	digits := s[2:]
	if digits == "" || len(digits) > 2*common.AddressLength {
		return false
	}
	for _, c := range digits {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
