package store

import (
	"strconv"
	"strings"
)

func key(parts ...string) string { return strings.Join(parts, ":") }

func side(isLong bool) string {
	if isLong {
		return "long"
	}
	return "short"
}

// Markets and configuration.
const (
	MarketListKey   = "market_list"
	PositionListKey = "position_list"
	OrderListKey    = "order_list"
)

func MarketKey(market string) string       { return key("market", market) }
func MarketConfigKey(market string) string { return key("market_config", market) }

// Pool buckets. Each names a share of the tokens the market account custodies.
func PoolAmountKey(market, token string) string {
	return key("pool_amount", market, token)
}

func MaxPoolAmountKey(market, token string) string {
	return key("max_pool_amount", market, token)
}

func PositionImpactPoolAmountKey(market string) string {
	return key("position_impact_pool_amount", market)
}

func SwapImpactPoolAmountKey(market, token string) string {
	return key("swap_impact_pool_amount", market, token)
}

func CollateralSumKey(market, collateralToken string, isLong bool) string {
	return key("collateral_sum", market, collateralToken, side(isLong))
}

// FundingFeePoolKey holds funding paid by positions but not yet credited to
// receivers' claimable balances.
func FundingFeePoolKey(market, token string) string {
	return key("funding_fee_pool", market, token)
}

func ClaimableFundingAmountKey(market, token, account string) string {
	return key("claimable_funding_amount", market, token, account)
}

func ClaimableFundingTotalKey(market, token string) string {
	return key("claimable_funding_total", market, token)
}

func ClaimableCollateralAmountKey(market, token string, timeKey uint64, account string) string {
	return key("claimable_collateral_amount", market, token, strconv.FormatUint(timeKey, 10), account)
}

func ClaimableCollateralTotalKey(market, token string) string {
	return key("claimable_collateral_total", market, token)
}

func ClaimedCollateralAmountKey(market, token string, timeKey uint64, account string) string {
	return key("claimed_collateral_amount", market, token, strconv.FormatUint(timeKey, 10), account)
}

func ClaimableFeeAmountKey(market, token string) string {
	return key("claimable_fee_amount", market, token)
}

func AffiliateRewardKey(market, token, affiliate string) string {
	return key("affiliate_reward", market, token, affiliate)
}

func AffiliateRewardTotalKey(market, token string) string {
	return key("affiliate_reward_total", market, token)
}

// Open interest.
func OpenInterestKey(market, collateralToken string, isLong bool) string {
	return key("open_interest", market, collateralToken, side(isLong))
}

func OpenInterestInTokensKey(market, collateralToken string, isLong bool) string {
	return key("open_interest_in_tokens", market, collateralToken, side(isLong))
}

// Funding accumulators.
func FundingFeeAmountPerSizeKey(market, collateralToken string, isLong bool) string {
	return key("funding_fee_amount_per_size", market, collateralToken, side(isLong))
}

func ClaimableFundingAmountPerSizeKey(market, collateralToken string, isLong bool) string {
	return key("claimable_funding_amount_per_size", market, collateralToken, side(isLong))
}

func FundingUpdatedAtKey(market string) string {
	return key("funding_updated_at", market)
}

// Borrowing accumulators.
func CumulativeBorrowingFactorKey(market string, isLong bool) string {
	return key("cumulative_borrowing_factor", market, side(isLong))
}

func CumulativeBorrowingFactorUpdatedAtKey(market string, isLong bool) string {
	return key("cumulative_borrowing_factor_updated_at", market, side(isLong))
}

// TotalBorrowingKey holds sum(size * borrowingFactorSnapshot) for a side,
// unscaled.
func TotalBorrowingKey(market string, isLong bool) string {
	return key("total_borrowing", market, side(isLong))
}

// Market token.
func MarketTokenSupplyKey(market string) string {
	return key("market_token_supply", market)
}

func MarketTokenBalanceKey(market, account string) string {
	return key("market_token_balance", market, account)
}

// ADL.
func AdlEnabledKey(market string, isLong bool) string {
	return key("adl_enabled", market, side(isLong))
}

func LatestAdlBlockKey(market string, isLong bool) string {
	return key("latest_adl_block", market, side(isLong))
}

// Positions and orders.
func PositionKey(positionKey string) string { return key("position", positionKey) }

func AccountPositionListKey(account string) string {
	return key("account_position_list", account)
}

func OrderKey(orderKey string) string { return key("order", orderKey) }

func AccountOrderListKey(account string) string {
	return key("account_order_list", account)
}

// Custody balances held by the bank.
func CustodyBalanceKey(accountPath, token string) string {
	return key("balance", accountPath, token)
}

func CustodyAccountsKey(token string) string {
	return key("custody_accounts", token)
}
