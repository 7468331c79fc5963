package tokens

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	clierr "github.com/dmarceau/swapcli/internal/errors"
	"github.com/dmarceau/swapcli/internal/registry"
)

var erc20ABI = mustABI(registry.ERC20ABI)

// Importer validates a contract address, reads its ERC-20 metadata and
// records it in the session overlay.
type Importer struct {
	overlay *Store
}

func NewImporter(overlay *Store) *Importer {
	return &Importer{overlay: overlay}
}

// Import reads symbol/name/decimals from the contract and stores the
// token in the chain's overlay. Address format is checked before any
// network call. A failing decimals() read falls back to 18; a failing
// symbol() read aborts since the token would be unaddressable.
func (im *Importer) Import(ctx context.Context, chainID int64, address, rpcOverride string) (registry.Token, error) {
	if !common.IsHexAddress(strings.TrimSpace(address)) {
		return registry.Token{}, clierr.New(clierr.CodeInvalidAddress, fmt.Sprintf("%q is not a valid token address", address))
	}
	if _, ok := registry.Chain(chainID); !ok {
		return registry.Token{}, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("chain id %d is not supported", chainID))
	}
	rpcURL, err := registry.ResolveRPCURL(rpcOverride, chainID)
	if err != nil {
		return registry.Token{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return registry.Token{}, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	tokenAddr := common.HexToAddress(address)
	symbol, err := readString(ctx, client, tokenAddr, "symbol")
	if err != nil {
		return registry.Token{}, clierr.Wrap(clierr.CodeUnavailable, "read token symbol", err)
	}
	name, err := readString(ctx, client, tokenAddr, "name")
	if err != nil {
		name = symbol
	}
	decimals, err := readDecimals(ctx, client, tokenAddr)
	if err != nil {
		decimals = defaultDecimals
	}

	tok := registry.Token{
		Symbol:   symbol,
		Address:  tokenAddr.Hex(),
		Decimals: decimals,
		Name:     name,
	}
	if im.overlay != nil {
		if err := im.overlay.Put(chainID, tok); err != nil {
			return registry.Token{}, clierr.Wrap(clierr.CodeInternal, "save imported token", err)
		}
	}
	return tok, nil
}

// DetectChain probes the supported chains in fixed order, calling
// symbol() on each, and returns the first chain where the contract
// responds. Probing is sequential; it only runs on manual imports.
func (im *Importer) DetectChain(ctx context.Context, address string, rpcOverrides map[int64]string) (int64, error) {
	if !common.IsHexAddress(strings.TrimSpace(address)) {
		return 0, clierr.New(clierr.CodeInvalidAddress, fmt.Sprintf("%q is not a valid token address", address))
	}
	tokenAddr := common.HexToAddress(address)
	for _, chain := range registry.Chains() {
		rpcURL, err := registry.ResolveRPCURL(rpcOverrides[chain.ChainID], chain.ChainID)
		if err != nil {
			continue
		}
		client, err := ethclient.DialContext(ctx, rpcURL)
		if err != nil {
			continue
		}
		_, err = readString(ctx, client, tokenAddr, "symbol")
		client.Close()
		if err == nil {
			return chain.ChainID, nil
		}
		if ctx.Err() != nil {
			return 0, clierr.Wrap(clierr.CodeUnavailable, "chain detection cancelled", ctx.Err())
		}
	}
	return 0, clierr.New(clierr.CodeTokenNotFound, "token contract not found on any supported chain")
}

func readString(ctx context.Context, client *ethclient.Client, token common.Address, method string) (string, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return "", fmt.Errorf("pack %s call: %w", method, err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return "", err
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return "", fmt.Errorf("decode %s response: %w", method, err)
	}
	v, ok := values[0].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("empty %s response", method)
	}
	return v, nil
}

func readDecimals(ctx context.Context, client *ethclient.Client, token common.Address) (int, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals call: %w", err)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	values, err := erc20ABI.Unpack("decimals", out)
	if err != nil || len(values) == 0 {
		return 0, fmt.Errorf("decode decimals response: %w", err)
	}
	v, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("invalid decimals response")
	}
	return int(v), nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
