package evm

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/x402kit/facilitator/pkg/x402"
)

// Signer builds and signs EIP-3009 transferWithAuthorization payloads on
// behalf of a paying wallet. Used by internal/client's interceptor.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner wraps a raw secp256k1 private key.
func NewSigner(privateKey *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Address returns the wallet address this signer authorizes transfers from.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign builds a TransferWithAuthorization message for the given requirements
// and signs it, returning a ready-to-encode EvmPayload. A fresh 32-byte
// nonce is drawn from crypto/rand on every call, so concurrent callers
// never collide.
func (s *Signer) Sign(ctx context.Context, req x402.PaymentRequirements) (x402.EvmPayload, error) {
	if !req.Network.IsEVM() {
		return x402.EvmPayload{}, fmt.Errorf("evm: requirements network %q is not an EVM network", req.Network)
	}
	chain, err := GetChain(req.Network)
	if err != nil {
		return x402.EvmPayload{}, err
	}
	asset, err := AssetInfoFromRequirements(req)
	if err != nil {
		return x402.EvmPayload{}, err
	}
	value, err := req.AtomicAmount()
	if err != nil {
		return x402.EvmPayload{}, err
	}

	nonce, err := generateNonce()
	if err != nil {
		return x402.EvmPayload{}, fmt.Errorf("evm: generate nonce: %w", err)
	}

	timeout := req.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = x402.DefaultEIP3009TimeoutSeconds
	}
	now := time.Now().Unix()
	validAfter := big.NewInt(now - int64(x402.EIP3009ValidAfterSkew.Seconds()))
	validBefore := big.NewInt(now + int64(timeout))

	payTo := common.HexToAddress(req.PayTo)

	sig, err := signTransferAuthorization(s.privateKey, asset.Address, chain.ChainID,
		s.address, payTo, value, validAfter, validBefore, nonce, asset.Name, asset.Version)
	if err != nil {
		return x402.EvmPayload{}, fmt.Errorf("evm: sign authorization: %w", err)
	}

	return x402.EvmPayload{
		Signature: sig,
		Authorization: x402.EvmAuthorization{
			From:        s.address.Hex(),
			To:          payTo.Hex(),
			Value:       value.String(),
			ValidAfter:  validAfter.String(),
			ValidBefore: validBefore.String(),
			Nonce:       "0x" + common.Bytes2Hex(nonce[:]),
		},
	}, nil
}

func generateNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, err
	}
	return nonce, nil
}

// signTransferAuthorization reproduces the EIP-712 digest for
// TransferWithAuthorization and signs it, normalizing v to the 27/28
// Ethereum convention.
func signTransferAuthorization(
	privateKey *ecdsa.PrivateKey,
	tokenAddress common.Address,
	chainID *big.Int,
	from, to common.Address,
	value, validAfter, validBefore *big.Int,
	nonce [32]byte,
	name, version string,
) (string, error) {
	typedData := transferAuthorizationTypedData(tokenAddress, chainID, from, to, value, validAfter, validBefore, nonce, name, version)

	digest, err := transferAuthorizationDigest(typedData)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("sign authorization: %w", err)
	}
	signature[64] += 27

	return "0x" + common.Bytes2Hex(signature), nil
}

func transferAuthorizationTypedData(
	tokenAddress common.Address,
	chainID *big.Int,
	from, to common.Address,
	value, validAfter, validBefore *big.Int,
	nonce [32]byte,
	name, version string,
) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*ethmath.HexOrDecimal256)(chainID),
			VerifyingContract: tokenAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        from.Hex(),
			"to":          to.Hex(),
			"value":       (*ethmath.HexOrDecimal256)(value),
			"validAfter":  (*ethmath.HexOrDecimal256)(validAfter),
			"validBefore": (*ethmath.HexOrDecimal256)(validBefore),
			"nonce":       common.BytesToHash(nonce[:]).Hex(),
		},
	}
}

// transferAuthorizationDigest computes "\x19\x01" || domainSeparator || structHash,
// the digest both the signer and the verifier must reproduce exactly.
func transferAuthorizationDigest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}
	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}
