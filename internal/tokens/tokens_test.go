package tokens

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	clierr "github.com/dmarceau/swapcli/internal/errors"
	"github.com/dmarceau/swapcli/internal/registry"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "tokens.db"), filepath.Join(dir, "tokens.lock"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newStore(t)
	tok := registry.Token{Symbol: "PEPE", Address: "0x6982508145454Ce325dDbE47a25d4ec3d2311933", Decimals: 18, Name: "Pepe"}
	if err := store.Put(1, tok); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := store.Get(1, "PEPE")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got != tok {
		t.Fatalf("expected %+v, got %+v", tok, got)
	}
	if _, ok, _ := store.Get(56, "PEPE"); ok {
		t.Fatal("token must be scoped to its chain")
	}
}

func TestStorePutReplacesExisting(t *testing.T) {
	store := newStore(t)
	first := registry.Token{Symbol: "ABC", Address: "0x0000000000000000000000000000000000000001", Decimals: 18, Name: "First"}
	second := registry.Token{Symbol: "ABC", Address: "0x0000000000000000000000000000000000000002", Decimals: 6, Name: "Second"}
	if err := store.Put(1, first); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := store.Put(1, second); err != nil {
		t.Fatalf("put second: %v", err)
	}
	got, _, _ := store.Get(1, "ABC")
	if got.Decimals != 6 || got.Name != "Second" {
		t.Fatalf("expected replacement, got %+v", got)
	}
	list, err := store.List(1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected single entry after replace, got %d", len(list))
	}
}

func TestRegistryOverlayShadowsStatic(t *testing.T) {
	store := newStore(t)
	reg := NewRegistry(store)

	tok, err := reg.Resolve(1, "USDC")
	if err != nil {
		t.Fatalf("resolve registry USDC: %v", err)
	}
	if tok.Decimals != 6 {
		t.Fatalf("expected registry USDC, got %+v", tok)
	}

	shadow := registry.Token{Symbol: "USDC", Address: "0x00000000000000000000000000000000000000AA", Decimals: 8, Name: "Impostor"}
	if err := store.Put(1, shadow); err != nil {
		t.Fatalf("put: %v", err)
	}
	tok, err = reg.Resolve(1, "USDC")
	if err != nil {
		t.Fatalf("resolve shadowed USDC: %v", err)
	}
	if tok.Decimals != 8 {
		t.Fatalf("imported token should shadow registry entry, got %+v", tok)
	}
}

func TestRegistryResolveUnknownSymbol(t *testing.T) {
	reg := NewRegistry(newStore(t))
	_, err := reg.Resolve(1, "NOSUCH")
	if !clierr.Is(err, clierr.CodeTokenNotFound) {
		t.Fatalf("expected TokenNotFound, got %v", err)
	}
}

func TestRegistryResolveUnknownAddressDefaultsDecimals(t *testing.T) {
	reg := NewRegistry(newStore(t))
	tok, err := reg.Resolve(1, "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984")
	if err != nil {
		t.Fatalf("resolve by address: %v", err)
	}
	if tok.Decimals != 18 {
		t.Fatalf("unknown address should default to 18 decimals, got %d", tok.Decimals)
	}
}

func TestRegistryIsNativeAndWrapped(t *testing.T) {
	reg := NewRegistry(newStore(t))
	if !reg.IsNative(1, "ETH") {
		t.Fatal("ETH should be native on ethereum")
	}
	if reg.IsNative(1, "WETH") {
		t.Fatal("WETH is not native")
	}
	wrapped, err := reg.Wrapped(56)
	if err != nil {
		t.Fatalf("wrapped: %v", err)
	}
	if wrapped.Symbol != "WBNB" {
		t.Fatalf("expected WBNB, got %s", wrapped.Symbol)
	}
	if _, err := reg.Wrapped(999); !clierr.Is(err, clierr.CodeUnsupportedChain) {
		t.Fatalf("expected UnsupportedChain, got %v", err)
	}
}

func TestRegistryListImportedFirst(t *testing.T) {
	store := newStore(t)
	reg := NewRegistry(store)
	imported := registry.Token{Symbol: "PEPE", Address: "0x6982508145454Ce325dDbE47a25d4ec3d2311933", Decimals: 18, Name: "Pepe"}
	if err := store.Put(1, imported); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := reg.List(1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) == 0 || list[0].Symbol != "PEPE" {
		t.Fatalf("imported token should lead the list, got %+v", list)
	}
}

func TestImportRejectsInvalidAddressBeforeNetwork(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "should not be called", http.StatusInternalServerError)
	}))
	defer server.Close()

	im := NewImporter(newStore(t))
	_, err := im.Import(context.Background(), 1, "not-an-address", server.URL)
	if !clierr.Is(err, clierr.CodeInvalidAddress) {
		t.Fatalf("expected InvalidAddress, got %v", err)
	}
	if requests != 0 {
		t.Fatalf("address validation must precede network calls, saw %d requests", requests)
	}
}

func TestImportReadsContractMetadata(t *testing.T) {
	server := newTokenRPCServer(t, tokenContract{symbol: "SHIB", name: "Shiba Inu", decimals: 18})
	defer server.Close()

	store := newStore(t)
	im := NewImporter(store)
	tok, err := im.Import(context.Background(), 1, "0x95aD61b0a150d79219dCF64E1E6Cc01f0B64C4cE", server.URL)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if tok.Symbol != "SHIB" || tok.Name != "Shiba Inu" || tok.Decimals != 18 {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if _, ok, _ := store.Get(1, "SHIB"); !ok {
		t.Fatal("imported token should be persisted to the overlay")
	}
}

func TestImportDefaultsDecimalsOnFailure(t *testing.T) {
	server := newTokenRPCServer(t, tokenContract{symbol: "ODD", name: "Odd Token", failDecimals: true})
	defer server.Close()

	im := NewImporter(newStore(t))
	tok, err := im.Import(context.Background(), 1, "0x00000000000000000000000000000000000000CC", server.URL)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if tok.Decimals != 18 {
		t.Fatalf("failed decimals() should default to 18, got %d", tok.Decimals)
	}
}

func TestImportFailsWhenSymbolUnreadable(t *testing.T) {
	server := newTokenRPCServer(t, tokenContract{failSymbol: true})
	defer server.Close()

	im := NewImporter(newStore(t))
	_, err := im.Import(context.Background(), 1, "0x00000000000000000000000000000000000000DD", server.URL)
	if !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestDetectChainReturnsFirstResponder(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no contract here", http.StatusInternalServerError)
	}))
	defer dead.Close()
	live := newTokenRPCServer(t, tokenContract{symbol: "CAKE", name: "PancakeSwap Token", decimals: 18})
	defer live.Close()

	overrides := map[int64]string{1: dead.URL, 56: live.URL, 137: dead.URL, 42161: dead.URL, 8453: dead.URL}
	im := NewImporter(newStore(t))
	chainID, err := im.DetectChain(context.Background(), "0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82", overrides)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if chainID != 56 {
		t.Fatalf("expected chain 56, got %d", chainID)
	}
}

func TestDetectChainFailsWhenNoChainResponds(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no contract here", http.StatusInternalServerError)
	}))
	defer dead.Close()

	overrides := map[int64]string{1: dead.URL, 56: dead.URL, 137: dead.URL, 42161: dead.URL, 8453: dead.URL}
	im := NewImporter(newStore(t))
	_, err := im.DetectChain(context.Background(), "0x00000000000000000000000000000000000000EE", overrides)
	if !clierr.Is(err, clierr.CodeTokenNotFound) {
		t.Fatalf("expected TokenNotFound, got %v", err)
	}
}

type tokenContract struct {
	symbol       string
	name         string
	decimals     int
	failSymbol   bool
	failDecimals bool
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// newTokenRPCServer serves eth_call for the ERC-20 metadata selectors.
func newTokenRPCServer(t *testing.T, contract tokenContract) *httptest.Server {
	t.Helper()
	var mu sync.Mutex

	handler := func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		mu.Lock()
		defer mu.Unlock()

		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Method != "eth_call" {
			writeRPCError(w, req.ID, -32601, fmt.Sprintf("method not supported in test: %s", req.Method))
			return
		}
		// go-ethereum sends calldata under "input"; accept "data" too
		// for hand-built requests.
		var call struct {
			Input string `json:"input"`
			Data  string `json:"data"`
		}
		if len(req.Params) > 0 {
			_ = json.Unmarshal(req.Params[0], &call)
		}
		selector := call.Input
		if selector == "" {
			selector = call.Data
		}
		if len(selector) > 10 {
			selector = selector[:10]
		}
		switch selector {
		case "0x95d89b41": // symbol()
			if contract.failSymbol {
				writeRPCError(w, req.ID, 3, "execution reverted")
				return
			}
			payload, err := erc20ABI.Methods["symbol"].Outputs.Pack(contract.symbol)
			if err != nil {
				t.Fatalf("pack symbol output: %v", err)
			}
			writeRPCResult(w, req.ID, "0x"+hex.EncodeToString(payload))
		case "0x06fdde03": // name()
			payload, err := erc20ABI.Methods["name"].Outputs.Pack(contract.name)
			if err != nil {
				t.Fatalf("pack name output: %v", err)
			}
			writeRPCResult(w, req.ID, "0x"+hex.EncodeToString(payload))
		case "0x313ce567": // decimals()
			if contract.failDecimals {
				writeRPCError(w, req.ID, 3, "execution reverted")
				return
			}
			payload, err := erc20ABI.Methods["decimals"].Outputs.Pack(uint8(contract.decimals))
			if err != nil {
				t.Fatalf("pack decimals output: %v", err)
			}
			writeRPCResult(w, req.ID, "0x"+hex.EncodeToString(payload))
		default:
			writeRPCError(w, req.ID, 3, "execution reverted")
		}
	}
	return httptest.NewServer(http.HandlerFunc(handler))
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%q}`, rawIDOrDefault(id), result)
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":%d,"message":%q}}`, rawIDOrDefault(id), code, message)
}

func rawIDOrDefault(id json.RawMessage) string {
	if len(id) == 0 {
		return "1"
	}
	return string(id)
}
