package query

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"PoolLedger/internal/core"
	"PoolLedger/internal/errs"
	"PoolLedger/internal/event"
	"PoolLedger/internal/ledger"
	"PoolLedger/internal/market"
	"PoolLedger/internal/order"
	"PoolLedger/internal/pool"
	"PoolLedger/internal/position"
	"PoolLedger/internal/store"
)

var (
	ErrUnknownPnlFactorType = errs.New(errs.ErrValidation, "unknown pnl factor type")
	ErrHistoryUnavailable   = errors.New("history requires the event log database")
)

// Source is the engine surface the query service reads from.
type Source interface {
	View(fn func(r store.Reader, meta core.ViewMeta) error) error
	Registry() *market.Registry
	Configs() *market.ConfigStore
	Bank() *ledger.Bank
	Gas() order.GasConfig
	SimulateOrder(caller, key string, report event.PriceReport) (*order.ExecutionResult, error)
}

// Service answers read requests. Live state comes from the engine under its
// lock; history comes from the event log and projection tables. db may be
// nil, in which case history methods fail with ErrHistoryUnavailable.
type Service struct {
	src Source
	db  *sql.DB
}

func NewService(src Source, db *sql.DB) *Service {
	return &Service{src: src, db: db}
}

// ParsePnlFactorType maps a query parameter to a PnlFactorType. The empty
// string selects traders.
func ParsePnlFactorType(s string) (pool.PnlFactorType, error) {
	for _, t := range []pool.PnlFactorType{pool.PnlFactorTraders, pool.PnlFactorDeposit, pool.PnlFactorWithdraw, pool.PnlFactorAdl} {
		if s == t.String() {
			return t, nil
		}
	}
	if s == "" {
		return pool.PnlFactorTraders, nil
	}
	return 0, errs.Wrap(ErrUnknownPnlFactorType, "%q", s)
}

func metaOf(m core.ViewMeta) Meta {
	return Meta{AsOfSequence: m.Sequence - 1, Block: m.Block, Timestamp: m.Timestamp}
}

// valuationTime never runs before the last applied command; fees accrue
// forward only.
func valuationTime(report event.PriceReport, meta core.ViewMeta) uint64 {
	if report.Timestamp > meta.Timestamp {
		return report.Timestamp
	}
	return meta.Timestamp
}

// Markets lists every market with its reserves.
func (s *Service) Markets(ctx context.Context) (*MarketsResponse, error) {
	resp := &MarketsResponse{}
	err := s.src.View(func(r store.Reader, meta core.ViewMeta) error {
		resp.Meta = metaOf(meta)
		for _, m := range s.src.Registry().List(r) {
			resp.Markets = append(resp.Markets, MarketInfo{
				Market:            m,
				LongPoolAmount:    market.PoolAmountForSide(r, m, true),
				ShortPoolAmount:   market.PoolAmountForSide(r, m, false),
				MarketTokenSupply: pool.MarketTokenSupply(r, m.MarketToken),
				LongOpenInterest:  market.OpenInterestForSide(r, m, true),
				ShortOpenInterest: market.OpenInterestForSide(r, m, false),
				LongAdlEnabled:    r.Bool(store.AdlEnabledKey(m.MarketToken, true)),
				ShortAdlEnabled:   r.Bool(store.AdlEnabledKey(m.MarketToken, false)),
			})
		}
		return nil
	})
	return resp, err
}

// PoolValue values a market's pool at the reported prices and derives the
// market token price from it.
func (s *Service) PoolValue(
	ctx context.Context,
	marketToken string,
	report event.PriceReport,
	pnlFactorType pool.PnlFactorType,
	maximize bool,
) (*PoolValueResponse, error) {
	prices, err := report.Build()
	if err != nil {
		return nil, err
	}
	resp := &PoolValueResponse{
		Market:        marketToken,
		PnlFactorType: pnlFactorType.String(),
		Maximize:      maximize,
	}
	err = s.src.View(func(r store.Reader, meta core.ViewMeta) error {
		m, err := s.src.Registry().Get(r, marketToken)
		if err != nil {
			return err
		}
		cfg := s.src.Configs().Load(r, marketToken)
		price, info, err := pool.MarketTokenPrice(r, m, cfg, prices, pnlFactorType, maximize, valuationTime(report, meta))
		if err != nil {
			return err
		}
		resp.Meta = metaOf(meta)
		resp.MarketTokenPrice = price
		resp.MarketTokenSupply = pool.MarketTokenSupply(r, marketToken)
		resp.Info = info
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Positions lists an account's open positions. With a price report each
// position also carries its liquidation health.
func (s *Service) Positions(ctx context.Context, account string, report *event.PriceReport) (*PositionsResponse, error) {
	resp := &PositionsResponse{Account: account, Positions: []PositionInfo{}}
	err := s.src.View(func(r store.Reader, meta core.ViewMeta) error {
		resp.Meta = metaOf(meta)
		for _, p := range position.ListByAccount(r, account) {
			resp.Positions = append(resp.Positions, PositionInfo{Key: p.Key(), Position: p})
		}
		if report == nil {
			return nil
		}
		prices, err := report.Build()
		if err != nil {
			return err
		}
		now := valuationTime(*report, meta)
		for i := range resp.Positions {
			p := resp.Positions[i].Position
			m, err := s.src.Registry().Get(r, p.Market)
			if err != nil {
				return err
			}
			h, err := position.LiquidationHealth(r, m, s.src.Configs().Load(r, p.Market), prices, p, now)
			if err != nil {
				return err
			}
			resp.Positions[i].Health = &HealthInfo{
				CollateralUsd:  h.CollateralUsd,
				PnlUsd:         h.PnlUsd,
				ImpactUsd:      h.ImpactUsd,
				PendingFeesUsd: h.PendingFeesUsd,
				RemainingUsd:   h.RemainingUsd,
				RequiredUsd:    h.RequiredUsd,
				Liquidatable:   !h.OK(),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Orders lists an account's pending and frozen orders.
func (s *Service) Orders(ctx context.Context, account string) (*OrdersResponse, error) {
	resp := &OrdersResponse{Account: account, Orders: []*order.Order{}}
	err := s.src.View(func(r store.Reader, meta core.ViewMeta) error {
		resp.Meta = metaOf(meta)
		resp.Orders = append(resp.Orders, order.ListByAccount(r, account)...)
		return nil
	})
	return resp, err
}

// Balances lists an account's custody balances and market token holdings.
func (s *Service) Balances(ctx context.Context, account string) (*BalancesResponse, error) {
	resp := &BalancesResponse{Account: account, Balances: []TokenBalance{}, MarketTokens: []TokenBalance{}}
	err := s.src.View(func(r store.Reader, meta core.ViewMeta) error {
		resp.Meta = metaOf(meta)
		holder := ledger.UserAccount(account)
		for _, token := range s.custodyTokens(r) {
			if b := s.src.Bank().Balance(r, holder, token); !b.IsZero() {
				resp.Balances = append(resp.Balances, TokenBalance{Token: token, Balance: b})
			}
		}
		for _, m := range s.src.Registry().List(r) {
			if b := pool.MarketTokenBalance(r, m.MarketToken, account); !b.IsZero() {
				resp.MarketTokens = append(resp.MarketTokens, TokenBalance{Token: m.MarketToken, Balance: b})
			}
		}
		return nil
	})
	return resp, err
}

// custodyTokens is every token the bank can hold: market collateral plus
// the execution fee token.
func (s *Service) custodyTokens(r store.Reader) []string {
	tokens := s.src.Registry().AllTokens(r)
	fee := s.src.Gas().FeeToken
	for _, t := range tokens {
		if t == fee {
			return tokens
		}
	}
	tokens = append(tokens, fee)
	sort.Strings(tokens)
	return tokens
}

// SimulateOrder executes an order against the report and discards the
// result. caller decides whether frozen orders may be simulated.
func (s *Service) SimulateOrder(ctx context.Context, caller, key string, report event.PriceReport) (*SimulationResponse, error) {
	res, err := s.src.SimulateOrder(caller, key, report)
	if err != nil {
		return nil, err
	}
	resp := &SimulationResponse{Key: key, Result: res}
	err = s.src.View(func(_ store.Reader, meta core.ViewMeta) error {
		resp.Meta = metaOf(meta)
		return nil
	})
	return resp, err
}

// liveImbalances sums every custody account per token in engine state.
func (s *Service) liveImbalances() ([]UnbalancedToken, error) {
	var out []UnbalancedToken
	err := s.src.View(func(r store.Reader, _ core.ViewMeta) error {
		for _, token := range s.custodyTokens(r) {
			if total := s.src.Bank().GlobalBalance(r, token); !total.IsZero() {
				out = append(out, UnbalancedToken{Token: token, Imbalance: total})
			}
		}
		return nil
	})
	return out, err
}
