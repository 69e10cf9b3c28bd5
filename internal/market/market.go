// Package market defines market identities, their configuration and the
// per-market state accessors every settlement path shares.
package market

import (
	"fmt"
	"sort"

	"PoolLedger/internal/auth"
	"PoolLedger/internal/errs"
	"PoolLedger/internal/store"
)

var (
	ErrMarketNotFound      = errs.New(errs.ErrValidation, "market not found")
	ErrMarketAlreadyExists = errs.New(errs.ErrValidation, "market already exists")
	ErrInvalidMarket       = errs.New(errs.ErrValidation, "invalid market")
	ErrInvalidToken        = errs.New(errs.ErrValidation, "token not in market")
)

const recordKind = "market"

// Market identifies a pool: the index whose price positions track, the two
// tokens backing it and the token minted to liquidity providers. Long and
// short token may be the same token.
type Market struct {
	MarketToken string `json:"market_token"`
	IndexToken  string `json:"index_token"`
	LongToken   string `json:"long_token"`
	ShortToken  string `json:"short_token"`
}

func (m *Market) Kind() string { return recordKind }

func (m *Market) Clone() store.Record {
	c := *m
	return &c
}

func init() {
	store.RegisterKind(recordKind, func() store.Record { return &Market{} })
}

// IsSingleToken reports whether both sides are backed by one token.
func (m Market) IsSingleToken() bool { return m.LongToken == m.ShortToken }

// CollateralTokens returns the distinct backing tokens, long token first.
func (m Market) CollateralTokens() []string {
	if m.IsSingleToken() {
		return []string{m.LongToken}
	}
	return []string{m.LongToken, m.ShortToken}
}

// PnlToken is the token profits of a side are paid in.
func (m Market) PnlToken(isLong bool) string {
	if isLong {
		return m.LongToken
	}
	return m.ShortToken
}

// IsCollateral reports whether token backs the market.
func (m Market) IsCollateral(token string) bool {
	return token == m.LongToken || token == m.ShortToken
}

// OppositeToken returns the other backing token of a two-token market.
func (m Market) OppositeToken(token string) (string, error) {
	switch {
	case m.IsSingleToken():
		return "", errs.Wrap(ErrInvalidToken, "market %s has a single backing token", m.MarketToken)
	case token == m.LongToken:
		return m.ShortToken, nil
	case token == m.ShortToken:
		return m.LongToken, nil
	}
	return "", errs.Wrap(ErrInvalidToken, "%s not in market %s", token, m.MarketToken)
}

// Tokens returns every token priced when valuing the market.
func (m Market) Tokens() []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 3)
	for _, t := range []string{m.IndexToken, m.LongToken, m.ShortToken} {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (m Market) Validate() error {
	if m.MarketToken == "" || m.IndexToken == "" || m.LongToken == "" || m.ShortToken == "" {
		return errs.Wrap(ErrInvalidMarket, "all token identities are required: %+v", m)
	}
	if m.MarketToken == m.LongToken || m.MarketToken == m.ShortToken {
		return errs.Wrap(ErrInvalidMarket, "market token %s doubles as a backing token", m.MarketToken)
	}
	return nil
}

func (m Market) String() string {
	return fmt.Sprintf("%s[%s:%s-%s]", m.MarketToken, m.IndexToken, m.LongToken, m.ShortToken)
}

// Registry stores market definitions.
type Registry struct{}

func NewRegistry() *Registry { return &Registry{} }

// Create registers a market. Requires RoleMarketKeeper.
func (r *Registry) Create(tx store.Tx, m Market) error {
	if err := tx.Capability().Require(auth.RoleMarketKeeper); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if _, ok := tx.Record(store.MarketKey(m.MarketToken)); ok {
		return errs.Wrap(ErrMarketAlreadyExists, "%s", m.MarketToken)
	}
	if err := tx.SetRecord(store.MarketKey(m.MarketToken), &m); err != nil {
		return err
	}
	return tx.AddMember(store.MarketListKey, m.MarketToken)
}

// Get loads a market by its market token.
func (r *Registry) Get(rd store.Reader, marketToken string) (Market, error) {
	rec, ok := rd.Record(store.MarketKey(marketToken))
	if !ok {
		return Market{}, errs.Wrap(ErrMarketNotFound, "%s", marketToken)
	}
	return *rec.(*Market), nil
}

// List returns all markets ordered by market token.
func (r *Registry) List(rd store.Reader) []Market {
	keys := rd.Members(store.MarketListKey)
	out := make([]Market, 0, len(keys))
	for _, k := range keys {
		if m, err := r.Get(rd, k); err == nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketToken < out[j].MarketToken })
	return out
}

// AllTokens returns every backing token across all markets.
func (r *Registry) AllTokens(rd store.Reader) []string {
	seen := map[string]struct{}{}
	for _, m := range r.List(rd) {
		for _, t := range m.CollateralTokens() {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
