package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the RPC surface the verifier/settler need from an EVM chain.
// An interface so tests can substitute a fake without dialing a real node.
type Client interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	CodeAt(ctx context.Context, address common.Address) ([]byte, error)
	IsValidERC1271Signature(ctx context.Context, wallet common.Address, digest [32]byte, signature []byte) (bool, error)
	// SendTransferWithAuthorization submits using the chain's current
	// pending nonce. nonce < 0 means "resolve the pending nonce now";
	// batch submission passes an explicit pre-assigned nonce instead so
	// concurrent items in the same batch don't race for the same nonce.
	SendTransferWithAuthorization(ctx context.Context, asset common.Address, auth TransferAuthorization, signature [65]byte, nonce int64) (common.Hash, error)
	SendRawTransaction(ctx context.Context, to common.Address, data []byte, nonce int64) (common.Hash, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash, confirmations uint64) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// TransferAuthorization is the decoded form of an EvmAuthorization, used at
// the RPC boundary where big.Int/[32]byte types are needed.
type TransferAuthorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

var erc20ABI = mustParseABI(`[
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"name":"transferWithAuthorization","outputs":[],"type":"function"},
  {"constant":true,"inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"name":"isValidSignature","outputs":[{"name":"","type":"bytes4"}],"type":"function"}
]`)

// erc1271MagicValue is the 4-byte selector an EIP-1271 wallet must return
// from isValidSignature to indicate a valid signature.
var erc1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("evm: invalid embedded ABI: %v", err))
	}
	return parsed
}

// waitMined polls TransactionReceipt until the transaction is mined or ctx
// is canceled, the same poll-based pattern pkg/x402/svm/confirmation.go uses
// for Solana confirmation, rather than pulling in the bind package's
// event-subscription machinery for a single receipt.
func waitMined(ctx context.Context, rpc *ethclient.Client, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := rpc.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ethClient is the production Client backed by go-ethereum's ethclient,
// paired with a signer key authorized to submit settlement transactions.
type ethClient struct {
	rpc     *ethclient.Client
	chainID *big.Int
	signTx  TxSigner
}

// TxSigner signs and returns a raw EVM transaction ready for submission.
// Implementations typically wrap an in-memory facilitator hot wallet key
// via go-ethereum's bind.NewKeyedTransactorWithChainID machinery.
type TxSigner interface {
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	From() common.Address
}

// NewClient dials an EVM JSON-RPC endpoint and returns a production Client.
func NewClient(ctx context.Context, rpcURL string, chainID *big.Int, signer TxSigner) (Client, error) {
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}
	return &ethClient{rpc: rpc, chainID: chainID, signTx: signer}, nil
}

func (c *ethClient) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&balance, "balanceOf", out); err != nil {
		return nil, err
	}
	return balance, nil
}

func (c *ethClient) CodeAt(ctx context.Context, address common.Address) ([]byte, error) {
	return c.rpc.CodeAt(ctx, address, nil)
}

func (c *ethClient) IsValidERC1271Signature(ctx context.Context, wallet common.Address, digest [32]byte, signature []byte) (bool, error) {
	data, err := erc20ABI.Pack("isValidSignature", digest, signature)
	if err != nil {
		return false, err
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &wallet, Data: data}, nil)
	if err != nil {
		return false, err
	}
	if len(out) < 4 {
		return false, nil
	}
	var got [4]byte
	copy(got[:], out[:4])
	return got == erc1271MagicValue, nil
}

func (c *ethClient) SendTransferWithAuthorization(ctx context.Context, asset common.Address, auth TransferAuthorization, signature [65]byte, nonce int64) (common.Hash, error) {
	r := [32]byte(signature[0:32])
	s := [32]byte(signature[32:64])
	v := signature[64]

	data, err := erc20ABI.Pack("transferWithAuthorization",
		auth.From, auth.To, auth.Value, auth.ValidAfter, auth.ValidBefore, auth.Nonce, v, r, s)
	if err != nil {
		return common.Hash{}, err
	}
	return c.SendRawTransaction(ctx, asset, data, nonce)
}

func (c *ethClient) SendRawTransaction(ctx context.Context, to common.Address, data []byte, nonce int64) (common.Hash, error) {
	from := c.signTx.From()
	txNonce := uint64(nonce)
	if nonce < 0 {
		pending, err := c.rpc.PendingNonceAt(ctx, from)
		if err != nil {
			return common.Hash{}, fmt.Errorf("evm: pending nonce: %w", err)
		}
		txNonce = pending
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: suggest gas price: %w", err)
	}
	msg := ethereum.CallMsg{From: from, To: &to, Data: data}
	gasLimit, err := c.rpc.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    txNonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := c.signTx.SignTx(tx, c.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: sign transaction: %w", err)
	}
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("evm: send transaction: %w", err)
	}
	return signed.Hash(), nil
}

func (c *ethClient) WaitForReceipt(ctx context.Context, txHash common.Hash, confirmations uint64) (*types.Receipt, error) {
	receipt, err := waitMined(ctx, c.rpc, txHash)
	if err != nil {
		return nil, err
	}
	if confirmations == 0 {
		return receipt, nil
	}
	head, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return receipt, nil
	}
	for head < receipt.BlockNumber.Uint64()+confirmations {
		head, err = c.rpc.BlockNumber(ctx)
		if err != nil {
			return receipt, nil
		}
	}
	return receipt, nil
}

func (c *ethClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.rpc.PendingNonceAt(ctx, account)
}

// signerForDigest recovers the EOA address that produced signature over
// digest, used as the first step of verification before falling back to
// EIP-1271/ERC-6492 checks for smart-contract wallets.
func signerForDigest(digest [32]byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("evm: signature must be 65 bytes, got %d", len(signature))
	}
	// crypto.Ecrecover expects v in {0, 1}; EIP-3009 signatures carry the
	// Ethereum 27/28 convention, so normalize before recovery.
	normalized := make([]byte, 65)
	copy(normalized, signature)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("evm: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
