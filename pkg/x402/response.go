package x402

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// RequestHash derives the idempotency key internal/ledger uses to dedupe
// settlement attempts: a sha256 over the payload and the matched
// requirements it was verified against, hex-encoded. Two
// /settle calls for the same signed payload and requirements always hash
// identically; a different payload or a different accepted requirement
// (e.g. a different asset) hashes differently.
func RequestHash(payload PaymentPayload, req PaymentRequirements) (string, error) {
	data, err := json.Marshal(struct {
		Payload      PaymentPayload      `json:"payload"`
		Requirements PaymentRequirements `json:"requirements"`
	}{payload, req})
	if err != nil {
		return "", fmt.Errorf("x402: marshal for request hash: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SettlementResponse is the JSON shape base64-encoded into the
// X-Payment-Response header.
type SettlementResponse struct {
	Success bool    `json:"success"`
	TxHash  string  `json:"txHash,omitempty"`
	Network Network `json:"network,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// EncodeSettlementResponse encodes a successful SettlementResult.
func EncodeSettlementResponse(result SettlementResult) (string, error) {
	return encodeSettlementResponse(SettlementResponse{
		Success: true,
		TxHash:  result.TxHash,
		Network: result.Network,
	})
}

// EncodeFailedSettlementResponse encodes a failed settlement: the response
// header is always set (success:false) so a client can distinguish "the
// resource was served but payment never settled" from a network error that
// swallowed the header entirely.
func EncodeFailedSettlementResponse(settleErr error) (string, error) {
	return encodeSettlementResponse(SettlementResponse{
		Success: false,
		Error:   settleErr.Error(),
	})
}

func encodeSettlementResponse(resp SettlementResponse) (string, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("x402: marshal settlement response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettlementResponse parses the X-Payment-Response header a server
// set via EncodeSettlementResponse/EncodeFailedSettlementResponse. Accepts
// standard or raw-unpadded base64, mirroring decodeHeaderBytes's tolerance
// for the X-Payment request header.
func DecodeSettlementResponse(header string) (SettlementResponse, error) {
	var resp SettlementResponse
	data, err := decodeHeaderBytes(header)
	if err != nil {
		return resp, fmt.Errorf("x402: decode settlement response: %w", err)
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("x402: unmarshal settlement response: %w", err)
	}
	return resp, nil
}
