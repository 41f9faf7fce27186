package registry

// ABI fragments used by the ledger and wallet adapters.
const (
	// SpendPermissionManagerABI covers the two permission-consuming entry
	// points. The tuple component order matches the signed SpendPermission
	// struct exactly; reordering a field breaks signature validation.
	SpendPermissionManagerABI = `[
		{"name":"approveWithSignature","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spendPermission","type":"tuple","components":[{"name":"account","type":"address"},{"name":"spender","type":"address"},{"name":"token","type":"address"},{"name":"allowance","type":"uint160"},{"name":"period","type":"uint48"},{"name":"start","type":"uint48"},{"name":"end","type":"uint48"},{"name":"salt","type":"uint256"},{"name":"extraData","type":"bytes"}]},{"name":"signature","type":"bytes"}],"outputs":[]},
		{"name":"spend","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spendPermission","type":"tuple","components":[{"name":"account","type":"address"},{"name":"spender","type":"address"},{"name":"token","type":"address"},{"name":"allowance","type":"uint160"},{"name":"period","type":"uint48"},{"name":"start","type":"uint48"},{"name":"end","type":"uint48"},{"name":"salt","type":"uint256"},{"name":"extraData","type":"bytes"}]},{"name":"value","type":"uint160"}],"outputs":[]}
	]`

	ERC20MinimalABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	SwapRouterABI = `[
		{"name":"exactInputSingle","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]}
	]`
)
