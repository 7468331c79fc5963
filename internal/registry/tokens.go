package registry

// NativeSentinel marks a chain's native gas token in token tables. Venues
// only operate on ERC-20 addresses, so native entries are substituted with
// the chain's wrapped counterpart before any pool lookup.
const NativeSentinel = "NATIVE"

type Token struct {
	Symbol   string
	Address  string
	Decimals int
	Name     string
}

func (t Token) IsNative() bool {
	return t.Address == NativeSentinel
}

// Bootstrap token tables per chain. User-imported tokens overlay these at
// runtime (see internal/tokens).
var tokensByChain = map[int64][]Token{
	1: {
		{Symbol: "ETH", Address: NativeSentinel, Decimals: 18, Name: "Ether"},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18, Name: "Wrapped Ether"},
		{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6, Name: "USD Coin"},
		{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6, Name: "Tether USD"},
		{Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18, Name: "Dai Stablecoin"},
	},
	56: {
		{Symbol: "BNB", Address: NativeSentinel, Decimals: 18, Name: "BNB"},
		{Symbol: "WBNB", Address: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", Decimals: 18, Name: "Wrapped BNB"},
		{Symbol: "BUSD", Address: "0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56", Decimals: 18, Name: "BUSD Token"},
		{Symbol: "USDT", Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18, Name: "Tether USD"},
		{Symbol: "BABYDOGE", Address: "0xc748673057861a797275CD8A068AbB95A902e8de", Decimals: 9, Name: "Baby Doge Coin"},
	},
	137: {
		{Symbol: "MATIC", Address: NativeSentinel, Decimals: 18, Name: "Polygon"},
		{Symbol: "WMATIC", Address: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", Decimals: 18, Name: "Wrapped Matic"},
		{Symbol: "USDC", Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", Decimals: 6, Name: "USD Coin"},
		{Symbol: "USDT", Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6, Name: "Tether USD"},
	},
	42161: {
		{Symbol: "ETH", Address: NativeSentinel, Decimals: 18, Name: "Ether"},
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18, Name: "Wrapped Ether"},
		{Symbol: "USDC", Address: "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8", Decimals: 6, Name: "USD Coin"},
		{Symbol: "USDT", Address: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", Decimals: 6, Name: "Tether USD"},
	},
	8453: {
		{Symbol: "ETH", Address: NativeSentinel, Decimals: 18, Name: "Ether"},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18, Name: "Wrapped Ether"},
		{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6, Name: "USD Coin"},
		{Symbol: "DAI", Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18, Name: "Dai Stablecoin"},
	},
}

// TokenInfo resolves a symbol against the static table for one chain.
func TokenInfo(chainID int64, symbol string) (Token, bool) {
	for _, tok := range tokensByChain[chainID] {
		if tok.Symbol == symbol {
			return tok, true
		}
	}
	return Token{}, false
}

// Tokens returns the static token list for a chain in table order.
func Tokens(chainID int64) []Token {
	src := tokensByChain[chainID]
	out := make([]Token, len(src))
	copy(out, src)
	return out
}

// WrappedToken returns the chain's canonical wrapped-native token.
func WrappedToken(chainID int64) (Token, bool) {
	cfg, ok := chainByID[chainID]
	if !ok {
		return Token{}, false
	}
	return TokenInfo(chainID, cfg.WrappedSymbol)
}
