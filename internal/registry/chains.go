package registry

import "fmt"

// ChainConfig describes one supported chain: its liquidity venues, fee
// tier candidates and execution parameters. Static and immutable after load.
type ChainConfig struct {
	ChainID       int64
	Name          string
	NativeSymbol  string
	WrappedSymbol string

	V2Factory string
	V2Router  string
	V2Name    string

	V3Factory string
	V3Quoter  string
	V3Router  string

	// V3RouterStyle names the call shape the chain's V3 router expects.
	// SwapRouter02 deployments take exactInputSingle params without a
	// deadline field; sending the deadline-carrying layout there hits an
	// unknown selector and reverts.
	V3RouterStyle V3RouterStyle

	// FeeTiers are the candidate V3 fee tiers probed in priority order.
	FeeTiers []uint32

	// ForceV3 skips the V2 pair check even when a pair exists.
	ForceV3 bool

	ExplorerBaseURL string

	// SwapGasLimit is the gas limit applied to venue swap calls. Some
	// chains need more headroom for proxy contracts.
	SwapGasLimit uint64

	// MinInputAmount is the smallest quotable input, as a decimal string
	// in the input token's units. Smaller amounts produce rounding-driven
	// zero-output quotes.
	MinInputAmount string
}

// V3RouterStyle identifies a Uniswap V3 router generation.
type V3RouterStyle string

const (
	// V3RouterClassic is the original SwapRouter (exactInputSingle params
	// include a deadline).
	V3RouterClassic V3RouterStyle = "SwapRouter"
	// V3Router02 is SwapRouter02 (no deadline in the params tuple).
	V3Router02 V3RouterStyle = "SwapRouter02"
)

func (c ChainConfig) SupportsV3() bool {
	return c.V3Factory != "" && c.V3Quoter != "" && c.V3Router != ""
}

var defaultFeeTiers = []uint32{100, 500, 3000, 10000}

var chainByID = map[int64]ChainConfig{
	1: {
		ChainID:         1,
		Name:            "Ethereum",
		NativeSymbol:    "ETH",
		WrappedSymbol:   "WETH",
		V2Factory:       "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
		V2Router:        "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
		V2Name:          "Uniswap V2",
		V3Factory:       "0x1F98431c8aD98523631AE4a59f267346ea31F984",
		V3Quoter:        "0x61fFE014bA17989E743c5F6cB21bF9697530B21e",
		V3Router:        "0xE592427A0AEce92De3Edee1F18E0157C05861564",
		V3RouterStyle:   V3RouterClassic,
		FeeTiers:        defaultFeeTiers,
		ExplorerBaseURL: "https://etherscan.io",
		SwapGasLimit:    300_000,
		MinInputAmount:  "0.001",
	},
	56: {
		ChainID:         56,
		Name:            "BSC",
		NativeSymbol:    "BNB",
		WrappedSymbol:   "WBNB",
		V2Factory:       "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73",
		V2Router:        "0x10ED43C718714eb63d5aA57B78B54704E256024E",
		V2Name:          "PancakeSwap",
		ExplorerBaseURL: "https://bscscan.com",
		SwapGasLimit:    500_000,
		MinInputAmount:  "0.01",
	},
	137: {
		ChainID:         137,
		Name:            "Polygon",
		NativeSymbol:    "MATIC",
		WrappedSymbol:   "WMATIC",
		V2Factory:       "0x5757371414417b8C6CAad45bAeF941aBc7d3Ab32",
		V2Router:        "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff",
		V2Name:          "QuickSwap",
		ExplorerBaseURL: "https://polygonscan.com",
		SwapGasLimit:    300_000,
		MinInputAmount:  "0.01",
	},
	42161: {
		ChainID:         42161,
		Name:            "Arbitrum",
		NativeSymbol:    "ETH",
		WrappedSymbol:   "WETH",
		V2Factory:       "0xc35DADB65012eC5796536bD9864eD8773aBc74C4",
		V2Router:        "0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506",
		V2Name:          "SushiSwap",
		ExplorerBaseURL: "https://arbiscan.io",
		SwapGasLimit:    300_000,
		MinInputAmount:  "0.001",
	},
	8453: {
		ChainID:         8453,
		Name:            "Base",
		NativeSymbol:    "ETH",
		WrappedSymbol:   "WETH",
		V2Factory:       "0x8909Dc15E40173Ff4699343B6eb8132C65E18ec6",
		V2Router:        "0x327Df1E6de05895d2ab08513aaDD9313Fe505d86",
		V2Name:          "BaseSwap",
		V3Factory:       "0x33128a8FC17869897dcE68Ed026d694621f6FDfD",
		V3Quoter:        "0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a",
		V3Router:        "0x2626664c2603336E57B271c5C0b26F421741e481",
		V3RouterStyle:   V3Router02,
		FeeTiers:        defaultFeeTiers,
		ForceV3:         true,
		ExplorerBaseURL: "https://basescan.org",
		SwapGasLimit:    400_000,
		MinInputAmount:  "0.001",
	},
}

// chainProbeOrder fixes the sequence used when probing chains for an
// unknown token address.
var chainProbeOrder = []int64{1, 56, 137, 42161, 8453}

func Chain(chainID int64) (ChainConfig, bool) {
	cfg, ok := chainByID[chainID]
	return cfg, ok
}

// Chains returns all supported chains in probe order.
func Chains() []ChainConfig {
	out := make([]ChainConfig, 0, len(chainProbeOrder))
	for _, id := range chainProbeOrder {
		out = append(out, chainByID[id])
	}
	return out
}

func ExplorerTxURL(chainID int64, txHash string) string {
	cfg, ok := chainByID[chainID]
	if !ok || cfg.ExplorerBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", cfg.ExplorerBaseURL, txHash)
}
