package redbank

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/0xarbor/mars-core/crypto"
)

// AssetType discriminates the two kinds of underlying an asset market can be
// built on: a native coin identified by denom, or a token contract.
type AssetType uint8

const (
	AssetNative AssetType = iota + 1
	AssetToken
)

func (t AssetType) String() string {
	switch t {
	case AssetNative:
		return "native"
	case AssetToken:
		return "token"
	default:
		return "unknown"
	}
}

// Asset is a closed tagged union identifying a market's underlying. Every
// ledger and oracle lookup switches on the tag explicitly; there is no open
// dispatch.
type Asset struct {
	kind     AssetType
	denom    string
	contract crypto.Address
}

// NativeAsset builds the identifier for a native coin market.
func NativeAsset(denom string) Asset {
	return Asset{kind: AssetNative, denom: strings.TrimSpace(denom)}
}

// TokenAsset builds the identifier for a token contract market.
func TokenAsset(contract crypto.Address) Asset {
	return Asset{kind: AssetToken, contract: contract}
}

func (a Asset) Kind() AssetType { return a.kind }

// Denom returns the native denom; empty for token assets.
func (a Asset) Denom() string { return a.denom }

// Contract returns the token contract address; zero for native assets.
func (a Asset) Contract() crypto.Address { return a.contract }

// Valid reports whether the identifier carries a payload matching its tag.
func (a Asset) Valid() bool {
	switch a.kind {
	case AssetNative:
		return a.denom != ""
	case AssetToken:
		return !a.contract.IsZero()
	default:
		return false
	}
}

// Key renders a stable map/storage key ordered by tag then payload.
func (a Asset) Key() string {
	switch a.kind {
	case AssetNative:
		return "n/" + a.denom
	case AssetToken:
		return "t/" + a.contract.String()
	default:
		return ""
	}
}

// Equal compares by tag then payload.
func (a Asset) Equal(other Asset) bool {
	if a.kind != other.kind {
		return false
	}
	switch a.kind {
	case AssetNative:
		return a.denom == other.denom
	case AssetToken:
		return a.contract.Equal(other.contract)
	default:
		return true
	}
}

func (a Asset) String() string {
	switch a.kind {
	case AssetNative:
		return a.denom
	case AssetToken:
		return a.contract.String()
	default:
		return "<invalid asset>"
	}
}

type assetJSON struct {
	Type     string `json:"type"`
	Denom    string `json:"denom,omitempty"`
	Contract string `json:"contract,omitempty"`
}

func (a Asset) MarshalJSON() ([]byte, error) {
	out := assetJSON{Type: a.kind.String()}
	switch a.kind {
	case AssetNative:
		out.Denom = a.denom
	case AssetToken:
		out.Contract = a.contract.String()
	default:
		return nil, fmt.Errorf("redbank: cannot encode invalid asset")
	}
	return json.Marshal(out)
}

func (a *Asset) UnmarshalJSON(data []byte) error {
	var in assetJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Type {
	case "native":
		if strings.TrimSpace(in.Denom) == "" {
			return fmt.Errorf("redbank: native asset requires a denom")
		}
		*a = NativeAsset(in.Denom)
	case "token":
		contract, err := crypto.DecodeAddress(in.Contract)
		if err != nil {
			return fmt.Errorf("redbank: invalid token contract: %w", err)
		}
		*a = TokenAsset(contract)
	default:
		return fmt.Errorf("redbank: unknown asset type %q", in.Type)
	}
	return nil
}
