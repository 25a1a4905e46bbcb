package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/domain/shared"
)

// DefaultRPCURL is the public Base Sepolia endpoint.
const DefaultRPCURL = "https://sepolia.base.org"

var _ progress.NetworkChecker = (*Checker)(nil)

// Checker verifies that the target network's RPC endpoint is live and is
// the chain it claims to be.
type Checker struct {
	client *ethclient.Client
	target progress.NetworkID
}

// DialChecker connects to the target network's RPC endpoint.
func DialChecker(ctx context.Context, url string, target progress.NetworkID) (*Checker, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("wallet: dial checker %s: %w", url, err)
	}
	return &Checker{client: client, target: target}, nil
}

// Close closes the underlying connection.
func (c *Checker) Close() {
	c.client.Close()
}

// CheckNetwork fails unless the endpoint reports the target chain id and a
// current block number.
func (c *Checker) CheckNetwork(ctx context.Context) error {
	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return mapError("CheckNetwork", err)
	}
	if got := progress.NetworkFromChainID(chainID); got != c.target {
		return shared.NewDomainError("wallet", "CheckNetwork", shared.ErrUnsupportedNetwork,
			fmt.Sprintf("endpoint serves %s, expected %s", got, c.target))
	}

	if _, err := c.client.BlockNumber(ctx); err != nil {
		return mapError("CheckNetwork", err)
	}
	return nil
}
