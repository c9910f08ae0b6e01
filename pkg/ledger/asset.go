package ledger

import (
	"fmt"
	"sort"
	"strings"
)

// MaxAssetAmount is the largest fungible amount the ledger accepts (2^63 - 1).
const MaxAssetAmount uint64 = 1<<63 - 1

// FungibleAsset is an amount issued by a faucet account.
type FungibleAsset struct {
	Faucet AccountID `json:"faucet_id"`
	Amount uint64    `json:"amount"`
}

func NewFungibleAsset(faucet AccountID, amount uint64) (FungibleAsset, error) {
	if faucet.IsZero() {
		return FungibleAsset{}, fmt.Errorf("fungible asset: zero faucet id")
	}
	if amount > MaxAssetAmount {
		return FungibleAsset{}, fmt.Errorf("fungible asset: amount %d exceeds maximum", amount)
	}
	return FungibleAsset{Faucet: faucet, Amount: amount}, nil
}

// Word decomposes the asset as [amount, 0, faucet.suffix, faucet.prefix].
func (a FungibleAsset) Word() Word {
	return Word{Felt(a.Amount), 0, a.Faucet.Suffix, a.Faucet.Prefix}
}

// Token describes a pool asset. Loaded once from the pools endpoint and never mutated.
type Token struct {
	Symbol   string    `json:"symbol"`
	Name     string    `json:"name"`
	Decimals uint8     `json:"decimals"`
	Faucet   AccountID `json:"faucet_id"`
	OracleID string    `json:"oracle_id"`
}

// TokenSet indexes tokens by faucet id.
type TokenSet struct {
	byFaucet map[AccountID]Token
}

func NewTokenSet(tokens []Token) *TokenSet {
	s := &TokenSet{byFaucet: make(map[AccountID]Token, len(tokens))}
	for _, t := range tokens {
		s.byFaucet[t.Faucet] = t
	}
	return s
}

func (s *TokenSet) Get(faucet AccountID) (Token, bool) {
	if s == nil {
		return Token{}, false
	}
	t, ok := s.byFaucet[faucet]
	return t, ok
}

func (s *TokenSet) BySymbol(symbol string) (Token, bool) {
	if s == nil {
		return Token{}, false
	}
	for _, t := range s.byFaucet {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return Token{}, false
}

// List returns tokens sorted by symbol.
func (s *TokenSet) List() []Token {
	if s == nil {
		return nil
	}
	out := make([]Token, 0, len(s.byFaucet))
	for _, t := range s.byFaucet {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
