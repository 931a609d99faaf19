// Package registry provides the static, read-only token registry.
// It is populated once at startup and shared for the lifetime of the process.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"spotdex/internal/domain"
)

// ErrUnknownToken is returned when a symbol has no registry entry.
var ErrUnknownToken = errors.New("unknown token")

// entry is the on-disk form of a token, keyed by symbol in the registry file.
type entry struct {
	Address       string `json:"address"`
	OracleAddress string `json:"oracleAddress"`
	TokenDecimal  uint8  `json:"tokenDecimal"`
}

// Registry maps token symbols to descriptors. It is safe for concurrent use since it is never mutated after construction.
type Registry struct {
	bySymbol  map[string]domain.Token
	byAddress map[common.Address]string
	symbols   []string
}

// Load reads a registry file at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes a symbol-keyed JSON document:
//
//	{"WETH": {"address": "0x...", "oracleAddress": "0x...", "tokenDecimal": 18}}
func Parse(data []byte) (*Registry, error) {
	var raw map[string]entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse token registry: %w", err)
	}

	tokens := make([]domain.Token, 0, len(raw))
	for symbol, e := range raw {
		if !common.IsHexAddress(e.Address) {
			return nil, fmt.Errorf("token %s: invalid address %q", symbol, e.Address)
		}
		if !common.IsHexAddress(e.OracleAddress) {
			return nil, fmt.Errorf("token %s: invalid oracle address %q", symbol, e.OracleAddress)
		}
		tokens = append(tokens, domain.Token{
			Symbol:   symbol,
			Address:  common.HexToAddress(e.Address),
			Oracle:   common.HexToAddress(e.OracleAddress),
			Decimals: e.TokenDecimal,
		})
	}

	return New(tokens)
}

// New builds a registry from descriptors. Symbols and contract addresses must be unique.
func New(tokens []domain.Token) (*Registry, error) {
	r := &Registry{
		bySymbol:  make(map[string]domain.Token, len(tokens)),
		byAddress: make(map[common.Address]string, len(tokens)),
		symbols:   make([]string, 0, len(tokens)),
	}

	for _, t := range tokens {
		if t.Symbol == "" {
			return nil, fmt.Errorf("token with address %s has no symbol", t.Address.Hex())
		}
		if _, exists := r.bySymbol[t.Symbol]; exists {
			return nil, fmt.Errorf("duplicate token symbol %s", t.Symbol)
		}
		if other, exists := r.byAddress[t.Address]; exists {
			return nil, fmt.Errorf("tokens %s and %s share address %s", other, t.Symbol, t.Address.Hex())
		}
		r.bySymbol[t.Symbol] = t
		r.byAddress[t.Address] = t.Symbol
		r.symbols = append(r.symbols, t.Symbol)
	}

	sort.Strings(r.symbols)
	return r, nil
}

// Get returns the descriptor for symbol.
func (r *Registry) Get(symbol string) (domain.Token, bool) {
	t, ok := r.bySymbol[symbol]
	return t, ok
}

// Lookup is like Get but returns ErrUnknownToken for missing symbols.
func (r *Registry) Lookup(symbol string) (domain.Token, error) {
	t, ok := r.bySymbol[symbol]
	if !ok {
		return domain.Token{}, fmt.Errorf("%w: %q", ErrUnknownToken, symbol)
	}
	return t, nil
}

// ByAddress returns the descriptor whose contract address is addr.
// Addresses compare by value, so hex casing does not matter.
func (r *Registry) ByAddress(addr common.Address) (domain.Token, bool) {
	symbol, ok := r.byAddress[addr]
	if !ok {
		return domain.Token{}, false
	}
	return r.bySymbol[symbol], true
}

// Symbols returns all symbols in lexical order.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// All returns a copy of the symbol-keyed descriptors.
func (r *Registry) All() map[string]domain.Token {
	out := make(map[string]domain.Token, len(r.bySymbol))
	for k, v := range r.bySymbol {
		out[k] = v
	}
	return out
}

// Len returns the number of registered tokens.
func (r *Registry) Len() int {
	return len(r.bySymbol)
}
