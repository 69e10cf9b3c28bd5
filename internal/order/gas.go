package order

import (
	"PoolLedger/internal/errs"
	fpmath "PoolLedger/internal/math"

	"github.com/shopspring/decimal"
)

var ErrInsufficientExecutionFee = errs.New(errs.ErrValidation, "insufficient execution fee")

// GasConfig prices keeper execution. Gas limits are in gas units, GasPrice
// in raw FeeToken units per gas, MultiplierFactor is a FloatPrecision factor.
type GasConfig struct {
	FeeToken string `json:"fee_token"`

	IncreaseOrderGasLimit uint64 `json:"increase_order_gas_limit"`
	DecreaseOrderGasLimit uint64 `json:"decrease_order_gas_limit"`
	SwapOrderGasLimit     uint64 `json:"swap_order_gas_limit"`
	SingleSwapGasLimit    uint64 `json:"single_swap_gas_limit"`

	BaseGasLimit     uint64          `json:"estimated_gas_fee_base_amount"`
	MultiplierFactor decimal.Decimal `json:"estimated_gas_fee_multiplier_factor"`
	GasPrice         decimal.Decimal `json:"gas_price"`
}

// DefaultGasConfig charges nothing; every order passes fee validation.
func DefaultGasConfig() GasConfig {
	return GasConfig{
		FeeToken:         "WETH",
		MultiplierFactor: fpmath.FloatPrecision,
		GasPrice:         decimal.Zero,
	}
}

// GasLimit estimates the gas a keeper spends executing o.
func (g GasConfig) GasLimit(o *Order) uint64 {
	var limit uint64
	switch {
	case o.Type.IsIncrease():
		limit = g.IncreaseOrderGasLimit
	case o.Type.IsDecrease():
		limit = g.DecreaseOrderGasLimit
	default:
		limit = g.SwapOrderGasLimit
	}
	limit += g.SingleSwapGasLimit * uint64(len(o.SwapPath))
	return limit + o.CallbackGasLimit
}

// MinExecutionFee is (base + gasLimit * multiplier) * gasPrice.
func (g GasConfig) MinExecutionFee(o *Order) decimal.Decimal {
	gas := fpmath.ApplyFactor(decimal.NewFromInt(int64(g.GasLimit(o))), g.MultiplierFactor, fpmath.RoundUp)
	return gas.Add(decimal.NewFromInt(int64(g.BaseGasLimit))).Mul(g.GasPrice)
}

// ValidateExecutionFee rejects an order whose fee does not cover keeper gas.
func (g GasConfig) ValidateExecutionFee(o *Order) error {
	if required := g.MinExecutionFee(o); o.ExecutionFee.LessThan(required) {
		return errs.Wrap(ErrInsufficientExecutionFee, "fee %s < min %s", o.ExecutionFee, required)
	}
	return nil
}
