package notes

// Positional input slots read by the on-chain scripts. Order, count and zero
// padding are a wire format: reserved slots stay in place even while unused.

const (
	SwapInputCount     = 12
	DepositInputCount  = 12
	WithdrawInputCount = 12
)

// Swap: [minAmountOut, 0, buy.suffix, buy.prefix, deadline, returnTag, 0, 0, 0, 0, sender.suffix, sender.prefix]
var SwapLayout = struct {
	MinAmountOut, BuySuffix, BuyPrefix, Deadline, ReturnTag, SenderSuffix, SenderPrefix int
}{
	MinAmountOut: 0,
	BuySuffix:    2,
	BuyPrefix:    3,
	Deadline:     4,
	ReturnTag:    5,
	SenderSuffix: 10,
	SenderPrefix: 11,
}

// Deposit mirrors swap with the buy-asset slots reserved as zero:
// [minSharesOut, 0, 0, 0, deadline, returnTag, 0, 0, 0, 0, sender.suffix, sender.prefix]
var DepositLayout = struct {
	MinSharesOut, Deadline, ReturnTag, SenderSuffix, SenderPrefix int
}{
	MinSharesOut: 0,
	Deadline:     4,
	ReturnTag:    5,
	SenderSuffix: 10,
	SenderPrefix: 11,
}

// Withdraw: [asset word (amount, 0, faucet.suffix, faucet.prefix), 0, minAmountOut, deadline, returnTag, 0, 0, sender.suffix, sender.prefix]
var WithdrawLayout = struct {
	AssetAmount, AssetSuffix, AssetPrefix, MinAmountOut, Deadline, ReturnTag, SenderSuffix, SenderPrefix int
}{
	AssetAmount:  0,
	AssetSuffix:  2,
	AssetPrefix:  3,
	MinAmountOut: 5,
	Deadline:     6,
	ReturnTag:    7,
	SenderSuffix: 10,
	SenderPrefix: 11,
}
