package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/readone97/Sol-Kart/native/payrequest"
)

// Merchant describes who gets paid and how payment requests are labelled.
type Merchant struct {
	Recipient     string            `toml:"Recipient"`
	Label         string            `toml:"Label"`
	Memo          string            `toml:"Memo"`
	MessagePrefix string            `toml:"MessagePrefix"`
	DefaultAmount string            `toml:"DefaultAmount"`
	SPLToken      string            `toml:"SPLToken,omitempty"`
	Tokens        map[string]string `toml:"Tokens,omitempty"`
}

// Demo returns the storefront demo profile.
func Demo() *Merchant {
	return &Merchant{
		Recipient:     "96gcyxCyPyTm7PsbE48dzHnPbRrA4xWk8QVCTiUS9ec5",
		Label:         "SolKart Store",
		Memo:          "SolKart Payment Demo",
		MessagePrefix: "SolKart Payment - Order ID #0",
		DefaultAmount: "0.0001",
		Tokens: map[string]string{
			"USDC": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		},
	}
}

// LoadMerchant reads a merchant profile. An empty path selects the demo
// profile; a missing file is created from it.
func LoadMerchant(path string) (*Merchant, error) {
	if strings.TrimSpace(path) == "" {
		return Demo(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		m := Demo()
		if err := persist(path, m); err != nil {
			return nil, fmt.Errorf("write default merchant profile: %w", err)
		}
		return m, nil
	}
	m := &Merchant{}
	meta, err := toml.DecodeFile(path, m)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("merchant profile %s: unknown field %s", path, undecoded[0])
	}
	if strings.TrimSpace(m.DefaultAmount) == "" {
		m.DefaultAmount = Demo().DefaultAmount
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("merchant profile %s: %w", path, err)
	}
	return m, nil
}

// Validate checks the recipient, token mints and default amount.
func (m *Merchant) Validate() error {
	if err := payrequest.ValidateAddress(m.Recipient); err != nil {
		return err
	}
	if m.SPLToken != "" {
		if err := payrequest.ValidateAddress(m.SPLToken); err != nil {
			return fmt.Errorf("SPLToken: %w", err)
		}
	}
	for symbol, mint := range m.Tokens {
		if err := payrequest.ValidateAddress(mint); err != nil {
			return fmt.Errorf("Tokens.%s: %w", symbol, err)
		}
	}
	amount, err := m.Amount()
	if err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("DefaultAmount must be greater than zero")
	}
	return nil
}

// Amount parses DefaultAmount.
func (m *Merchant) Amount() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(m.DefaultAmount))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("DefaultAmount %q: %w", m.DefaultAmount, err)
	}
	return amount, nil
}

// Mint resolves a token symbol or mint address. SOL and the empty string
// resolve to the native asset.
func (m *Merchant) Mint(token string) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" || strings.EqualFold(trimmed, "SOL") {
		return "", nil
	}
	for symbol, mint := range m.Tokens {
		if strings.EqualFold(symbol, trimmed) {
			return mint, nil
		}
	}
	if err := payrequest.ValidateAddress(trimmed); err != nil {
		return "", fmt.Errorf("unknown token %q", token)
	}
	return trimmed, nil
}

// OrderMessage formats the human readable message for an order number.
func (m *Merchant) OrderMessage(order int) string {
	return fmt.Sprintf("%s%d", m.MessagePrefix, order)
}

func persist(path string, m *Merchant) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(m)
}
