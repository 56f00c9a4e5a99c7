package facilitator

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/x402kit/facilitator/pkg/x402"
	"github.com/x402kit/facilitator/pkg/x402/evm"
	"github.com/x402kit/facilitator/pkg/x402/svm"
)

// Config is the wiring a Builder needs to stand up every registered
// network's scheme entry. cmd/facilitator/main.go populates this from the
// loaded internal/config at startup and also calls
// evm.RegisterChain/svm.RegisterCluster directly, since those registries
// are keyed the same way.
type Config struct {
	EVMNetworks  []x402.Network
	EVMSigner    evm.TxSigner // facilitator hot wallet, shared across EVM networks
	SVMNetworks  []x402.Network
	SVMFeePayer  solana.PrivateKey
	SettleConfig evm.SettleConfig
	Kinds        []x402.SupportedKind
}

// Build dials a client per configured network (cached and reused, per
// SPEC_FULL.md §5's long-lived-RPC-client note) and assembles a Facilitator
// whose scheme registry dispatches by network.
func Build(ctx context.Context, cfg Config) (*Facilitator, error) {
	schemes := make(map[x402.Network]Scheme, len(cfg.EVMNetworks)+len(cfg.SVMNetworks))

	if len(cfg.EVMNetworks) > 0 {
		evmClients, err := newEVMClientCache(ctx, cfg.EVMNetworks, cfg.EVMSigner)
		if err != nil {
			return nil, err
		}
		verifier := evm.NewVerifier(evmClients.get)
		settler := evm.NewSettler(verifier, evmClients.get, cfg.SettleConfig, cfg.EVMSigner.From())
		for _, network := range cfg.EVMNetworks {
			schemes[network] = Scheme{Verifier: verifier, Settler: settler, BatchSettler: settler}
		}
	}

	if len(cfg.SVMNetworks) > 0 {
		svmClients, err := newSVMClientCache(ctx, cfg.SVMNetworks, cfg.SVMFeePayer)
		if err != nil {
			return nil, err
		}
		verifier := svm.NewVerifier(svmClients.get)
		settler := svm.NewSettler(verifier, svmClients.get)
		for _, network := range cfg.SVMNetworks {
			schemes[network] = Scheme{Verifier: verifier, Settler: settler}
		}
	}

	return New(schemes, cfg.Kinds), nil
}

// evmClientCache dials each configured EVM network once and serves
// subsequent lookups from memory; evm.Verifier/Settler both take a
// func(x402.Network) (evm.Client, error) resolver, so this is what backs it.
type evmClientCache struct {
	mu      sync.Mutex
	clients map[x402.Network]evm.Client
}

func newEVMClientCache(ctx context.Context, networks []x402.Network, signer evm.TxSigner) (*evmClientCache, error) {
	cache := &evmClientCache{clients: make(map[x402.Network]evm.Client, len(networks))}
	for _, network := range networks {
		chain, err := evm.GetChain(network)
		if err != nil {
			return nil, err
		}
		client, err := evm.NewClient(ctx, chain.RPCURL, chain.ChainID, signer)
		if err != nil {
			return nil, fmt.Errorf("facilitator: dial evm network %q: %w", network, err)
		}
		cache.clients[network] = client
	}
	return cache, nil
}

func (c *evmClientCache) get(network x402.Network) (evm.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	client, ok := c.clients[network]
	if !ok {
		return nil, fmt.Errorf("facilitator: evm network %q not dialed", network)
	}
	return client, nil
}

// svmClientCache is the SVM analogue of evmClientCache.
type svmClientCache struct {
	mu      sync.Mutex
	clients map[x402.Network]*svm.Client
}

func newSVMClientCache(ctx context.Context, networks []x402.Network, feePayer solana.PrivateKey) (*svmClientCache, error) {
	cache := &svmClientCache{clients: make(map[x402.Network]*svm.Client, len(networks))}
	for _, network := range networks {
		cluster, err := svm.GetCluster(network)
		if err != nil {
			return nil, err
		}
		client, err := svm.NewClient(ctx, cluster, feePayer)
		if err != nil {
			return nil, fmt.Errorf("facilitator: dial svm network %q: %w", network, err)
		}
		cache.clients[network] = client
	}
	return cache, nil
}

func (c *svmClientCache) get(network x402.Network) (*svm.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	client, ok := c.clients[network]
	if !ok {
		return nil, fmt.Errorf("facilitator: svm network %q not dialed", network)
	}
	return client, nil
}
