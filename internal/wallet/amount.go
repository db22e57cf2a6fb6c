package wallet

import (
	"math/big"
	"strings"

	xerrors "WalletBridge/internal/errors"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the fixed-point scale of native amounts.
const EtherDecimals = 18

// maxWeiDigits is the number of decimal digits of 2^256-1.
const maxWeiDigits = 78

var maxWei = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseAmount parses a positive ether amount with at most 18 fractional digits
// whose wei value fits in a uint256.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, xerrors.New(xerrors.CodeInvalidDraft, "金额不能为空")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, xerrors.Wrap(xerrors.CodeInvalidDraft, err, "金额格式错误")
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, xerrors.New(xerrors.CodeInvalidDraft, "金额必须大于 0")
	}
	// bound the exponent before anything expands the coefficient
	exp := int64(amount.Exponent())
	if exp < -(maxWeiDigits+EtherDecimals) || int64(amount.NumDigits())+exp+EtherDecimals > maxWeiDigits {
		return decimal.Decimal{}, xerrors.New(xerrors.CodeInvalidDraft, "金额超出范围")
	}
	wei := amount.Shift(EtherDecimals)
	if !wei.IsInteger() {
		return decimal.Decimal{}, xerrors.New(xerrors.CodeInvalidDraft, "金额最多支持 18 位小数")
	}
	if wei.BigInt().Cmp(maxWei) > 0 {
		return decimal.Decimal{}, xerrors.New(xerrors.CodeInvalidDraft, "金额超出 uint256 范围")
	}
	return amount, nil
}

// ToWei converts a decimal ether string into wei.
func ToWei(raw string) (*big.Int, error) {
	amount, err := ParseAmount(raw)
	if err != nil {
		return nil, err
	}
	return amount.Shift(EtherDecimals).BigInt(), nil
}

// FromWei converts wei into ether.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -EtherDecimals)
}
