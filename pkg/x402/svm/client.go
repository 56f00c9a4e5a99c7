package svm

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"

	"github.com/x402kit/facilitator/pkg/x402"
)

// Client bundles the RPC/WS connections and fee-payer key for one SVM
// cluster. The facilitator co-signs every payload as fee payer, both
// during verification (to simulate with SigVerify) and settlement.
type Client struct {
	RPC      *rpc.Client
	WS       *ws.Client
	FeePayer solana.PrivateKey
	cluster  ClusterConfig
}

// NewClient dials the cluster's RPC and (if not already set) a derived
// WebSocket endpoint, for confirmation subscriptions.
func NewClient(ctx context.Context, cluster ClusterConfig, feePayer solana.PrivateKey) (*Client, error) {
	wsURL := cluster.WSURL
	if wsURL == "" {
		derived, err := deriveWebsocketURL(cluster.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("svm: derive websocket url: %w", err)
		}
		wsURL = derived
	}
	wsClient, err := ws.Connect(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("svm: connect websocket: %w", err)
	}
	return &Client{
		RPC:      rpc.New(cluster.RPCURL),
		WS:       wsClient,
		FeePayer: feePayer,
		cluster:  cluster,
	}, nil
}

// Close releases the underlying websocket connection.
func (c *Client) Close() {
	if c.WS != nil {
		c.WS.Close()
	}
}

// Clients resolves a Client by network, shared by Verifier/Settler/Builder
// callers wiring up the facilitator's configured clusters.
type Clients func(network x402.Network) (*Client, error)
