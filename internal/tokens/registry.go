package tokens

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/dmarceau/swapcli/internal/errors"
	"github.com/dmarceau/swapcli/internal/registry"
)

// defaultDecimals is the documented fallback when a token's decimals are
// unknown. Registry entries always carry explicit decimals, so the
// fallback only applies to raw addresses never seen before.
const defaultDecimals = 18

// Registry resolves token symbols and addresses against the static
// per-chain tables overlaid with the session's imported tokens.
type Registry struct {
	overlay *Store
}

func NewRegistry(overlay *Store) *Registry {
	return &Registry{overlay: overlay}
}

// Resolve maps a symbol or raw hex address to a token descriptor.
// Imported tokens shadow registry entries of the same symbol.
func (r *Registry) Resolve(chainID int64, symbolOrAddress string) (registry.Token, error) {
	v := strings.TrimSpace(symbolOrAddress)
	if v == "" {
		return registry.Token{}, clierr.New(clierr.CodeUsage, "token symbol or address is required")
	}
	if common.IsHexAddress(v) {
		return r.resolveByAddress(chainID, v)
	}

	// Symbols are matched case-insensitively; imported tokens shadow the
	// static table.
	for _, candidate := range symbolCandidates(v) {
		if r.overlay != nil {
			tok, ok, err := r.overlay.Get(chainID, candidate)
			if err != nil {
				return registry.Token{}, clierr.Wrap(clierr.CodeInternal, "read imported tokens", err)
			}
			if ok {
				return tok, nil
			}
		}
		if tok, ok := registry.TokenInfo(chainID, candidate); ok {
			return tok, nil
		}
	}
	return registry.Token{}, clierr.New(clierr.CodeTokenNotFound, fmt.Sprintf("token %s is not known on chain %d", v, chainID))
}

func symbolCandidates(v string) []string {
	upper := strings.ToUpper(v)
	if upper == v {
		return []string{v}
	}
	return []string{v, upper}
}

func (r *Registry) resolveByAddress(chainID int64, address string) (registry.Token, error) {
	checksummed := common.HexToAddress(address)
	if r.overlay != nil {
		imported, err := r.overlay.List(chainID)
		if err != nil {
			return registry.Token{}, clierr.Wrap(clierr.CodeInternal, "read imported tokens", err)
		}
		for _, tok := range imported {
			if common.HexToAddress(tok.Address) == checksummed {
				return tok, nil
			}
		}
	}
	for _, tok := range registry.Tokens(chainID) {
		if !tok.IsNative() && common.HexToAddress(tok.Address) == checksummed {
			return tok, nil
		}
	}
	// Unknown address: usable for routing, decimals fall back to 18.
	return registry.Token{
		Symbol:   checksummed.Hex(),
		Address:  checksummed.Hex(),
		Decimals: defaultDecimals,
	}, nil
}

// ResolveAddress resolves a symbol to its address, overlay first.
func (r *Registry) ResolveAddress(chainID int64, symbol string) (string, error) {
	tok, err := r.Resolve(chainID, symbol)
	if err != nil {
		return "", err
	}
	return tok.Address, nil
}

// ResolveDecimals resolves a symbol to its decimals, defaulting to 18
// for tokens the registry does not know.
func (r *Registry) ResolveDecimals(chainID int64, symbol string) int {
	tok, err := r.Resolve(chainID, symbol)
	if err != nil {
		return defaultDecimals
	}
	return tok.Decimals
}

// IsNative reports whether the symbol resolves to the native sentinel.
func (r *Registry) IsNative(chainID int64, symbol string) bool {
	tok, err := r.Resolve(chainID, symbol)
	if err != nil {
		return false
	}
	return tok.IsNative()
}

// Wrapped returns the chain's canonical wrapped-native token.
func (r *Registry) Wrapped(chainID int64) (registry.Token, error) {
	tok, ok := registry.WrappedToken(chainID)
	if !ok {
		return registry.Token{}, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("no wrapped native token configured for chain %d", chainID))
	}
	return tok, nil
}

// List returns imported tokens first, then registry tokens whose symbols
// are not shadowed by an import.
func (r *Registry) List(chainID int64) ([]registry.Token, error) {
	var out []registry.Token
	seen := map[string]bool{}
	if r.overlay != nil {
		imported, err := r.overlay.List(chainID)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "read imported tokens", err)
		}
		for _, tok := range imported {
			out = append(out, tok)
			seen[tok.Symbol] = true
		}
	}
	for _, tok := range registry.Tokens(chainID) {
		if !seen[tok.Symbol] {
			out = append(out, tok)
		}
	}
	return out, nil
}
