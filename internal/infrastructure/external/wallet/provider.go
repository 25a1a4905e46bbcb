// Package wallet talks to an EIP-1193 style wallet over JSON-RPC.
//
// The wallet endpoint can be a browser-wallet bridge or a development node.
// Account requests fall back from eth_requestAccounts to eth_accounts when
// the endpoint does not implement the interactive method.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

// EIP-1193 and JSON-RPC error codes.
const (
	codeUserRejected   = 4001
	codeUnknownChain   = 4902
	codeMethodNotFound = -32601
)

var _ progress.IdentityProvider = (*Provider)(nil)

// Provider is a JSON-RPC backed progress.IdentityProvider.
type Provider struct {
	client *rpc.Client
	logger *slog.Logger
}

// Dial connects to the wallet endpoint.
func Dial(ctx context.Context, url string, l *slog.Logger) (*Provider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("wallet: dial %s: %w", url, err)
	}
	return New(client, l), nil
}

// New wraps an existing RPC client.
func New(client *rpc.Client, l *slog.Logger) *Provider {
	return &Provider{
		client: client,
		logger: logger.OrDefault(l).With(logger.Component("wallet")),
	}
}

// Close closes the underlying connection.
func (p *Provider) Close() {
	p.client.Close()
}

// RequestAccounts asks the wallet for account access.
func (p *Provider) RequestAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := p.client.CallContext(ctx, &accounts, "eth_requestAccounts")
	if code, ok := errorCode(err); ok && code == codeMethodNotFound {
		p.logger.Debug("eth_requestAccounts not supported, using eth_accounts")
		err = p.client.CallContext(ctx, &accounts, "eth_accounts")
	}
	if err != nil {
		return nil, mapError("RequestAccounts", err)
	}
	return accounts, nil
}

// CurrentNetwork returns the wallet's network as a CAIP-2 identifier.
func (p *Provider) CurrentNetwork(ctx context.Context) (progress.NetworkID, error) {
	var chainID hexutil.Big
	if err := p.client.CallContext(ctx, &chainID, "eth_chainId"); err != nil {
		return "", mapError("CurrentNetwork", err)
	}
	return progress.NetworkFromChainID((*big.Int)(&chainID)), nil
}

// SwitchNetwork asks the wallet to move to network.
func (p *Provider) SwitchNetwork(ctx context.Context, network progress.NetworkID) error {
	chainID, ok := network.ChainID()
	if !ok {
		return shared.NewDomainError("wallet", "SwitchNetwork", shared.ErrUnsupportedNetwork, "not an eip155 network: "+string(network))
	}

	params := map[string]string{"chainId": hexutil.EncodeBig(chainID)}
	if err := p.client.CallContext(ctx, nil, "wallet_switchEthereumChain", params); err != nil {
		return mapError("SwitchNetwork", err)
	}
	p.logger.Info("wallet switched network", logger.Network(string(network)))
	return nil
}

func errorCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

// mapError converts RPC failures into domain error kinds.
func mapError(op string, err error) error {
	if code, ok := errorCode(err); ok {
		switch code {
		case codeUserRejected:
			return shared.WrapError("wallet", op, shared.ErrUserRejected, "user rejected the request", err)
		case codeUnknownChain:
			return shared.WrapError("wallet", op, shared.ErrUnsupportedNetwork, "wallet does not know the network", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.WrapError("wallet", op, shared.ErrTimeout, "wallet did not answer in time", err)
	}
	return shared.WrapError("wallet", op, shared.ErrUnreachable, "wallet rpc failed", err)
}
