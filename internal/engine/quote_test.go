package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/dmarceau/swapcli/internal/errors"
	"github.com/dmarceau/swapcli/internal/registry"
	"github.com/dmarceau/swapcli/internal/tokens"
)

// venueMock serves the venue contracts of one chain over JSON-RPC,
// dispatching eth_call by target address.
type venueMock struct {
	chain registry.ChainConfig

	mu sync.Mutex

	// V2: zero pair means no pool; v2Rate prices getAmountsOut, nil
	// means the router reverts. routerFailAfter reverts getAmountsOut
	// once that many calls succeeded.
	pair            common.Address
	v2Rate          func(in *big.Int) *big.Int
	routerFailAfter int

	// Reserve fallback.
	token0             common.Address
	reserve0, reserve1 *big.Int

	// V3: pool and quoted output per fee tier. Missing tiers revert.
	poolsByTier  map[uint32]common.Address
	quotesByTier map[uint32]*big.Int

	// Balances: native via eth_getBalance, per-token via balanceOf.
	nativeBalance *big.Int
	tokenBalances map[common.Address]*big.Int

	// Targets that answer with an HTTP error instead of a JSON-RPC
	// response, simulating a provider outage mid-quote.
	unreachable map[common.Address]bool

	calls struct {
		total, getPair, amountsOut, reserves, getPool, quoter int
	}
}

func (m *venueMock) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(srv.Close)
	return srv
}

func (m *venueMock) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.total++

	if req.Method == "eth_getBalance" {
		balance := m.nativeBalance
		if balance == nil {
			balance = big.NewInt(0)
		}
		writeRPCResult(w, req.ID, "0x"+balance.Text(16))
		return
	}
	if req.Method != "eth_call" || len(req.Params) == 0 {
		writeRPCError(w, req.ID, -32601, "method not supported")
		return
	}
	// go-ethereum sends calldata under "input"; accept "data" too for
	// hand-built requests.
	var call struct {
		To    string `json:"to"`
		Input string `json:"input"`
		Data  string `json:"data"`
	}
	if err := json.Unmarshal(req.Params[0], &call); err != nil {
		writeRPCError(w, req.ID, -32602, "bad call object")
		return
	}
	calldata := call.Input
	if calldata == "" {
		calldata = call.Data
	}
	data := common.FromHex(calldata)
	if len(data) < 4 {
		writeRPCError(w, req.ID, -32602, "calldata too short")
		return
	}
	target := common.HexToAddress(call.To)
	if m.unreachable[target] {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	switch target {
	case common.HexToAddress(m.chain.V2Factory):
		m.calls.getPair++
		out, err := v2FactoryABI.Methods["getPair"].Outputs.Pack(m.pair)
		writePacked(w, req.ID, out, err)
	case common.HexToAddress(m.chain.V2Router):
		m.calls.amountsOut++
		if m.v2Rate == nil || (m.routerFailAfter > 0 && m.calls.amountsOut > m.routerFailAfter) {
			writeRPCError(w, req.ID, 3, "execution reverted")
			return
		}
		amountIn := callWord(data, 0)
		out, err := v2RouterABI.Methods["getAmountsOut"].Outputs.Pack([]*big.Int{amountIn, m.v2Rate(amountIn)})
		writePacked(w, req.ID, out, err)
	case m.pair:
		switch hex.EncodeToString(data[:4]) {
		case "0902f1ac": // getReserves()
			m.calls.reserves++
			out, err := v2PairABI.Methods["getReserves"].Outputs.Pack(m.reserve0, m.reserve1, uint32(0))
			writePacked(w, req.ID, out, err)
		case "0dfe1681": // token0()
			out, err := v2PairABI.Methods["token0"].Outputs.Pack(m.token0)
			writePacked(w, req.ID, out, err)
		default:
			writeRPCError(w, req.ID, 3, "execution reverted")
		}
	case common.HexToAddress(m.chain.V3Factory):
		m.calls.getPool++
		tier := uint32(callWord(data, 2).Uint64())
		out, err := v3FactoryABI.Methods["getPool"].Outputs.Pack(m.poolsByTier[tier])
		writePacked(w, req.ID, out, err)
	case common.HexToAddress(m.chain.V3Quoter):
		m.calls.quoter++
		tier := uint32(callWord(data, 3).Uint64())
		quoted, ok := m.quotesByTier[tier]
		if !ok {
			writeRPCError(w, req.ID, 3, "execution reverted")
			return
		}
		out, err := v3QuoterABI.Methods["quoteExactInputSingle"].Outputs.Pack(
			quoted, big.NewInt(0), uint32(0), big.NewInt(0))
		writePacked(w, req.ID, out, err)
	default:
		if balance, ok := m.tokenBalances[target]; ok && hex.EncodeToString(data[:4]) == "70a08231" {
			out, err := erc20ABI.Methods["balanceOf"].Outputs.Pack(balance)
			writePacked(w, req.ID, out, err)
			return
		}
		writeRPCError(w, req.ID, 3, "execution reverted")
	}
}

// callWord extracts the i-th 32-byte argument word that follows the
// 4-byte selector. All venue calls here use static arguments, so words
// sit inline at fixed offsets.
func callWord(data []byte, i int) *big.Int {
	start := 4 + i*32
	if len(data) < start+32 {
		return big.NewInt(0)
	}
	return new(big.Int).SetBytes(data[start : start+32])
}

func writePacked(w http.ResponseWriter, id json.RawMessage, out []byte, err error) {
	if err != nil {
		writeRPCError(w, id, -32000, err.Error())
		return
	}
	writeRPCResult(w, id, "0x"+hex.EncodeToString(out))
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      rawIDOrDefault(id),
		"result":  result,
	})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      rawIDOrDefault(id),
		"error":   map[string]any{"code": code, "message": message},
	})
}

func rawIDOrDefault(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("1")
	}
	return id
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng := New(tokens.NewRegistry(nil))
	eng.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return eng
}

func mustChain(t *testing.T, chainID int64) registry.ChainConfig {
	t.Helper()
	chain, ok := registry.Chain(chainID)
	if !ok {
		t.Fatalf("chain %d not configured", chainID)
	}
	return chain
}

// scaleRate prices tokenOut at rate units per whole tokenIn unit.
func scaleRate(rate, inDecimals int64) func(*big.Int) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(inDecimals), nil)
	return func(in *big.Int) *big.Int {
		out := new(big.Int).Mul(in, big.NewInt(rate))
		return out.Div(out, unit)
	}
}

func TestGetQuoteV2NativeInput(t *testing.T) {
	mock := &venueMock{
		chain:  mustChain(t, 1),
		pair:   common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"),
		v2Rate: scaleRate(1_650_000_000, 18), // 1650 USDC per ETH
	}
	srv := mock.server(t)

	eng := newTestEngine(t)
	quote, err := eng.GetQuote(context.Background(), 1, "ETH", "USDC", "1.0", Forward, srv.URL)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}

	if quote.FeeAmount.String() != "3000000000000000" {
		t.Fatalf("fee = %s, want 0.003 ETH", quote.FeeAmount)
	}
	if quote.AmountAfterFee.String() != "997000000000000000" {
		t.Fatalf("amount after fee = %s", quote.AmountAfterFee)
	}
	sum := new(big.Int).Add(quote.FeeAmount, quote.AmountAfterFee)
	if sum.Cmp(quote.InputAmount) != 0 {
		t.Fatal("fee + routed amount must equal the input")
	}
	// 0.997 ETH * 1650 USDC
	if quote.OutputAmount.String() != "1645050000" {
		t.Fatalf("output = %s, want 1645.05 USDC", quote.OutputAmount)
	}
	if quote.Route.Kind != RouteV2 {
		t.Fatalf("route kind = %v, want V2", quote.Route.Kind)
	}
	if quote.VenueName != "Uniswap V2" {
		t.Fatalf("venue = %q", quote.VenueName)
	}
	// Native input routes through the wrapped token.
	weth, _ := registry.TokenInfo(1, "WETH")
	if quote.FromAddress != common.HexToAddress(weth.Address) {
		t.Fatalf("from address = %s, want WETH", quote.FromAddress)
	}
	if quote.FromToken.Symbol != "ETH" {
		t.Fatalf("from token = %q, native symbol must survive routing", quote.FromToken.Symbol)
	}
	if quote.DeadlineUnixSeconds != 1_700_000_000+1200 {
		t.Fatalf("deadline = %d", quote.DeadlineUnixSeconds)
	}
}

func TestGetQuoteBelowMinimumMakesNoNetworkCalls(t *testing.T) {
	mock := &venueMock{chain: mustChain(t, 1)}
	srv := mock.server(t)

	eng := newTestEngine(t)
	_, err := eng.GetQuote(context.Background(), 1, "ETH", "USDC", "0.0001", Forward, srv.URL)
	if clierr.CodeOf(err) != clierr.CodeAmountTooSmall {
		t.Fatalf("err = %v, want amount-too-small", err)
	}
	if mock.calls.total != 0 {
		t.Fatalf("made %d rpc calls before validation", mock.calls.total)
	}
}

func TestGetQuoteRejectsZeroAmount(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.GetQuote(context.Background(), 1, "ETH", "USDC", "0", Forward, "http://unused.invalid")
	if clierr.CodeOf(err) != clierr.CodeAmountTooSmall {
		t.Fatalf("err = %v, want amount-too-small", err)
	}
}

func TestGetQuoteRejectsSameToken(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.GetQuote(context.Background(), 1, "USDC", "USDC", "10", Forward, "http://unused.invalid")
	if clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("err = %v, want usage error", err)
	}
}

func TestGetQuoteRejectsNativeToWrapped(t *testing.T) {
	// ETH and WETH collapse onto the same pool address.
	eng := newTestEngine(t)
	_, err := eng.GetQuote(context.Background(), 1, "ETH", "WETH", "1", Forward, "http://unused.invalid")
	if clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("err = %v, want usage error", err)
	}
}

func TestGetQuoteUnsupportedChain(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.GetQuote(context.Background(), 10, "ETH", "USDC", "1", Forward, "")
	if clierr.CodeOf(err) != clierr.CodeUnsupportedChain {
		t.Fatalf("err = %v, want unsupported-chain", err)
	}
}

func TestGetQuoteFallsBackToV3BestTier(t *testing.T) {
	pool := common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")
	mock := &venueMock{
		chain: mustChain(t, 1),
		// Pair resolves but the trial quote reverts: drained reserves.
		pair:        common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"),
		v2Rate:      nil,
		poolsByTier: map[uint32]common.Address{3000: pool},
		quotesByTier: map[uint32]*big.Int{
			500:   big.NewInt(1_640_000_000),
			3000:  big.NewInt(1_649_000_000),
			10000: big.NewInt(1_600_000_000),
		},
	}
	srv := mock.server(t)

	eng := newTestEngine(t)
	quote, err := eng.GetQuote(context.Background(), 1, "ETH", "USDC", "1.0", Forward, srv.URL)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if quote.Route.Kind != RouteV3 {
		t.Fatalf("route kind = %v, want V3", quote.Route.Kind)
	}
	if quote.Route.FeeTier != 3000 {
		t.Fatalf("fee tier = %d, want the best-output tier", quote.Route.FeeTier)
	}
	if quote.OutputAmount.String() != "1649000000" {
		t.Fatalf("output = %s", quote.OutputAmount)
	}
	if quote.VenueName != "Uniswap V3 (3000)" {
		t.Fatalf("venue = %q", quote.VenueName)
	}
	if quote.Route.PoolAddress != pool {
		t.Fatalf("pool = %s, want %s", quote.Route.PoolAddress, pool)
	}
	if mock.calls.getPair == 0 || mock.calls.quoter == 0 {
		t.Fatal("expected both V2 resolution and V3 quoting to run")
	}
}

func TestGetQuoteV3PoolTracksBestTier(t *testing.T) {
	pool500 := common.HexToAddress("0x00000000000000000000000000000000000005aa")
	pool3000 := common.HexToAddress("0x00000000000000000000000000000000000030bb")
	mock := &venueMock{
		chain:  mustChain(t, 1),
		pair:   common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"),
		v2Rate: nil, // trial quote reverts, forcing V3
		poolsByTier: map[uint32]common.Address{
			500:  pool500,
			3000: pool3000,
		},
		quotesByTier: map[uint32]*big.Int{
			500:  big.NewInt(1_640_000_000),
			3000: big.NewInt(1_649_000_000),
		},
	}
	srv := mock.server(t)

	eng := newTestEngine(t)
	quote, err := eng.GetQuote(context.Background(), 1, "ETH", "USDC", "1.0", Forward, srv.URL)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	// The resolver finds the 500 tier's pool first; the quoter prefers
	// 3000. Tier and pool address must move together.
	if quote.Route.FeeTier != 3000 {
		t.Fatalf("fee tier = %d, want 3000", quote.Route.FeeTier)
	}
	if quote.Route.PoolAddress != pool3000 {
		t.Fatalf("pool = %s, want the 3000-tier pool %s", quote.Route.PoolAddress, pool3000)
	}
}

func TestGetQuoteQuoterOutageIsUnavailable(t *testing.T) {
	chain := mustChain(t, 8453)
	mock := &venueMock{
		chain:        chain,
		poolsByTier:  map[uint32]common.Address{500: common.HexToAddress("0xd0b53D9277642d899DF5C87A3966A349A798F224")},
		quotesByTier: map[uint32]*big.Int{500: big.NewInt(1_651_000_000)},
		unreachable:  map[common.Address]bool{common.HexToAddress(chain.V3Quoter): true},
	}
	srv := mock.server(t)

	eng := newTestEngine(t)
	_, err := eng.GetQuote(context.Background(), 8453, "ETH", "USDC", "1.0", Forward, srv.URL)
	if clierr.CodeOf(err) != clierr.CodeUnavailable {
		t.Fatalf("err = %v, want unavailable; a dead provider is not missing liquidity", err)
	}
}

func TestGetQuoteRouterOutageIsUnavailable(t *testing.T) {
	chain := mustChain(t, 1)
	mock := &venueMock{
		chain:       chain,
		pair:        common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"),
		v2Rate:      scaleRate(1_650_000_000, 18),
		unreachable: map[common.Address]bool{common.HexToAddress(chain.V2Router): true},
	}
	srv := mock.server(t)

	eng := newTestEngine(t)
	_, err := eng.GetQuote(context.Background(), 1, "ETH", "USDC", "1.0", Forward, srv.URL)
	if clierr.CodeOf(err) != clierr.CodeUnavailable {
		t.Fatalf("err = %v, want unavailable", err)
	}
}

func TestGetQuoteNoLiquidityAnywhere(t *testing.T) {
	mock := &venueMock{chain: mustChain(t, 1)} // zero pair, no pools
	srv := mock.server(t)

	eng := newTestEngine(t)
	_, err := eng.GetQuote(context.Background(), 1, "ETH", "USDC", "1.0", Forward, srv.URL)
	if clierr.CodeOf(err) != clierr.CodeNoLiquidity {
		t.Fatalf("err = %v, want no-liquidity", err)
	}
}

func TestGetQuoteV2OnlyChainDoesNotProbeV3(t *testing.T) {
	// BSC has no V3 deployment configured; a dead V2 pair is terminal.
	mock := &venueMock{chain: mustChain(t, 56)}
	srv := mock.server(t)

	eng := newTestEngine(t)
	_, err := eng.GetQuote(context.Background(), 56, "BNB", "BUSD", "1.0", Forward, srv.URL)
	if clierr.CodeOf(err) != clierr.CodeNoLiquidity {
		t.Fatalf("err = %v, want no-liquidity", err)
	}
	if mock.calls.getPool != 0 || mock.calls.quoter != 0 {
		t.Fatal("V3 contracts must not be queried on a V2-only chain")
	}
}

func TestGetQuoteBaseForcesV3(t *testing.T) {
	chain := mustChain(t, 8453)
	pool := common.HexToAddress("0xd0b53D9277642d899DF5C87A3966A349A798F224")
	mock := &venueMock{
		chain:        chain,
		pair:         common.HexToAddress("0x41d160033C222E6f3722EC97379867324567d883"),
		v2Rate:       scaleRate(1_650_000_000, 18),
		poolsByTier:  map[uint32]common.Address{500: pool},
		quotesByTier: map[uint32]*big.Int{500: big.NewInt(1_651_000_000)},
	}
	srv := mock.server(t)

	eng := newTestEngine(t)
	quote, err := eng.GetQuote(context.Background(), 8453, "ETH", "USDC", "1.0", Forward, srv.URL)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if quote.Route.Kind != RouteV3 {
		t.Fatalf("route kind = %v, want V3", quote.Route.Kind)
	}
	if mock.calls.getPair != 0 {
		t.Fatal("V2 factory must not be consulted when the chain forces V3")
	}
}

func TestGetQuoteFallsBackToReservesWhenRouterFlakes(t *testing.T) {
	weth, _ := registry.TokenInfo(1, "WETH")
	mock := &venueMock{
		chain:  mustChain(t, 1),
		pair:   common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"),
		v2Rate: scaleRate(1_650_000_000, 18),
		// First getAmountsOut (the liveness probe) succeeds, the
		// pricing call reverts, forcing the reserve fallback.
		routerFailAfter: 1,
		token0:          common.HexToAddress(weth.Address),
		reserve0:        mustBig(t, "1000000000000000000000"), // 1000 WETH
		reserve1:        big.NewInt(1_650_000_000_000),        // 1.65M USDC
	}
	srv := mock.server(t)

	eng := newTestEngine(t)
	quote, err := eng.GetQuote(context.Background(), 1, "ETH", "USDC", "1.0", Forward, srv.URL)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if mock.calls.reserves == 0 {
		t.Fatal("reserve fallback did not run")
	}
	want := v2AmountOut(quote.AmountAfterFee, mock.reserve0, mock.reserve1)
	if quote.OutputAmount.Cmp(want) != 0 {
		t.Fatalf("output = %s, want constant-product %s", quote.OutputAmount, want)
	}
}

func TestGetQuoteRejectsZeroOutput(t *testing.T) {
	mock := &venueMock{
		chain:  mustChain(t, 1),
		pair:   common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"),
		v2Rate: func(*big.Int) *big.Int { return big.NewInt(0) },
	}
	srv := mock.server(t)

	eng := newTestEngine(t)
	_, err := eng.GetQuote(context.Background(), 1, "ETH", "USDC", "1.0", Forward, srv.URL)
	if clierr.CodeOf(err) != clierr.CodeNoLiquidity {
		t.Fatalf("err = %v, want no-liquidity", err)
	}
}

func TestGetQuoteReverseDirectionIsLabeled(t *testing.T) {
	mock := &venueMock{
		chain:  mustChain(t, 1),
		pair:   common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"),
		v2Rate: scaleRate(1_650_000_000, 18),
	}
	srv := mock.server(t)

	eng := newTestEngine(t)
	quote, err := eng.GetQuote(context.Background(), 1, "ETH", "USDC", "1.0", Reverse, srv.URL)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if quote.Direction != Reverse {
		t.Fatalf("direction = %v", quote.Direction)
	}
}

func TestWalletBalanceNative(t *testing.T) {
	mock := &venueMock{
		chain:         mustChain(t, 1),
		nativeBalance: mustBig(t, "2500000000000000000"),
	}
	srv := mock.server(t)

	eng := newTestEngine(t)
	wallet := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	balance, err := eng.WalletBalance(context.Background(), 1, "ETH", wallet, srv.URL)
	if err != nil {
		t.Fatalf("WalletBalance: %v", err)
	}
	if balance.Cmp(mock.nativeBalance) != 0 {
		t.Fatalf("balance = %s, want %s", balance, mock.nativeBalance)
	}
}

func TestWalletBalanceERC20(t *testing.T) {
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	mock := &venueMock{
		chain: mustChain(t, 1),
		tokenBalances: map[common.Address]*big.Int{
			usdc: big.NewInt(125_000_000),
		},
	}
	srv := mock.server(t)

	eng := newTestEngine(t)
	wallet := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	balance, err := eng.WalletBalance(context.Background(), 1, "USDC", wallet, srv.URL)
	if err != nil {
		t.Fatalf("WalletBalance: %v", err)
	}
	if balance.Int64() != 125_000_000 {
		t.Fatalf("balance = %s", balance)
	}
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big int literal %q", s)
	}
	return v
}
