package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/0xarbor/mars-core/crypto"
	"github.com/0xarbor/mars-core/native/redbank"
)

// Config is the redbankd daemon configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`

	Protocol ProtocolConfig  `toml:"protocol"`
	Bank     BankConfig      `toml:"bank"`
	Markets  []MarketConfig  `toml:"markets"`
	Prices   []PriceConfig   `toml:"prices"`
	Genesis  []GenesisConfig `toml:"genesis"`
}

// ProtocolConfig mirrors redbank.Config with bech32 addresses.
type ProtocolConfig struct {
	Owner                    string `toml:"Owner"`
	CloseFactorBps           uint64 `toml:"CloseFactorBps"`
	InsuranceFundFeeShareBps uint64 `toml:"InsuranceFundFeeShareBps"`
	TreasuryFeeShareBps      uint64 `toml:"TreasuryFeeShareBps"`
	InsuranceFund            string `toml:"InsuranceFund"`
	Treasury                 string `toml:"Treasury"`
}

// BankConfig configures the native transfer tax applied by the bank keeper.
type BankConfig struct {
	NativeTaxRateBps uint64         `toml:"NativeTaxRateBps"`
	TaxCaps          []TaxCapConfig `toml:"TaxCaps"`
}

type TaxCapConfig struct {
	Denom string `toml:"Denom"`
	Cap   string `toml:"Cap"`
}

// AssetConfig names an asset either by native denom or token contract.
type AssetConfig struct {
	Denom         string `toml:"Denom"`
	TokenContract string `toml:"TokenContract"`
}

// MarketConfig declares a market to initialise at startup.
type MarketConfig struct {
	Asset                AssetConfig `toml:"asset"`
	MaxLoanToValueBps    uint64      `toml:"MaxLoanToValueBps"`
	MaintenanceMarginBps uint64      `toml:"MaintenanceMarginBps"`
	LiquidationBonusBps  uint64      `toml:"LiquidationBonusBps"`
	ReserveFactorBps     uint64      `toml:"ReserveFactorBps"`
	BaseRate             float64     `toml:"BaseRate"`
	Slope1               float64     `toml:"Slope1"`
	Slope2               float64     `toml:"Slope2"`
	OptimalUtilization   float64     `toml:"OptimalUtilization"`
}

// PriceConfig pins a startup price on the static oracle.
type PriceConfig struct {
	Asset AssetConfig `toml:"asset"`
	Price float64     `toml:"Price"`
}

// GenesisConfig seeds a bank balance.
type GenesisConfig struct {
	Address string      `toml:"Address"`
	Asset   AssetConfig `toml:"asset"`
	Amount  string      `toml:"Amount"`
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{ListenAddress: ":8547"}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts the daemon cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if _, err := c.Protocol.RedBankConfig(); err != nil {
		return err
	}
	for i := range c.Markets {
		if _, err := c.Markets[i].Asset.Asset(); err != nil {
			return fmt.Errorf("config: market %d: %w", i, err)
		}
	}
	return nil
}

// RedBankConfig converts to the engine's protocol configuration.
func (p ProtocolConfig) RedBankConfig() (redbank.Config, error) {
	owner, err := crypto.DecodeAddress(p.Owner)
	if err != nil {
		return redbank.Config{}, fmt.Errorf("config: protocol owner: %w", err)
	}
	cfg := redbank.Config{
		Owner:                    owner,
		CloseFactorBps:           p.CloseFactorBps,
		InsuranceFundFeeShareBps: p.InsuranceFundFeeShareBps,
		TreasuryFeeShareBps:      p.TreasuryFeeShareBps,
	}
	if strings.TrimSpace(p.InsuranceFund) != "" {
		cfg.InsuranceFund, err = crypto.DecodeAddress(p.InsuranceFund)
		if err != nil {
			return redbank.Config{}, fmt.Errorf("config: insurance fund: %w", err)
		}
	}
	if strings.TrimSpace(p.Treasury) != "" {
		cfg.Treasury, err = crypto.DecodeAddress(p.Treasury)
		if err != nil {
			return redbank.Config{}, fmt.Errorf("config: treasury: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

// Asset converts the config form into the tagged identifier.
func (a AssetConfig) Asset() (redbank.Asset, error) {
	denom := strings.TrimSpace(a.Denom)
	contract := strings.TrimSpace(a.TokenContract)
	switch {
	case denom != "" && contract != "":
		return redbank.Asset{}, fmt.Errorf("asset names both a denom and a token contract")
	case denom != "":
		return redbank.NativeAsset(denom), nil
	case contract != "":
		addr, err := crypto.DecodeAddress(contract)
		if err != nil {
			return redbank.Asset{}, fmt.Errorf("token contract: %w", err)
		}
		return redbank.TokenAsset(addr), nil
	default:
		return redbank.Asset{}, fmt.Errorf("asset requires a denom or a token contract")
	}
}

// Params converts to the engine's market parameters.
func (m MarketConfig) Params() redbank.InitAssetParams {
	return redbank.InitAssetParams{
		MaxLoanToValueBps:    m.MaxLoanToValueBps,
		MaintenanceMarginBps: m.MaintenanceMarginBps,
		LiquidationBonusBps:  m.LiquidationBonusBps,
		ReserveFactorBps:     m.ReserveFactorBps,
		Strategy:             redbank.NewRateStrategy(m.BaseRate, m.Slope1, m.Slope2, m.OptimalUtilization),
	}
}

// CapAmount parses the tax cap.
func (t TaxCapConfig) CapAmount() (*big.Int, error) {
	cap, ok := new(big.Int).SetString(strings.TrimSpace(t.Cap), 10)
	if !ok || cap.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid tax cap %q for %s", t.Cap, t.Denom)
	}
	return cap, nil
}

// AmountInt parses the genesis amount.
func (g GenesisConfig) AmountInt() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(g.Amount), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("config: invalid genesis amount %q for %s", g.Amount, g.Address)
	}
	return amount, nil
}
