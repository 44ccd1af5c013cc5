package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToRaw 把十进制数量转换为代币的原始整数单位, 多余的小数位被截断。
func ToRaw(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromRaw 把原始整数单位转换为十进制数量
func FromRaw(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// FromWei 把 wei 转换为原生币数量
func FromWei(wei *big.Int) decimal.Decimal {
	return FromRaw(wei, 18)
}
