package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodePayload base64-encodes a PaymentPayload for the X-Payment header.
func EncodePayload(payload PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("x402: marshal payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePayload decodes the X-Payment header into a PaymentPayload, with
// the scheme-specific Payload resolved into an EvmPayload or SvmPayload
// based on Network. Unknown networks, or a network/payload shape mismatch,
// are rejected.
func DecodePayload(header string) (PaymentPayload, error) {
	data, err := decodeHeaderBytes(header)
	if err != nil {
		return PaymentPayload{}, err
	}

	var envelope struct {
		X402Version int             `json:"x402Version"`
		Scheme      Scheme          `json:"scheme"`
		Network     Network         `json:"network"`
		Payload     json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return PaymentPayload{}, fmt.Errorf("x402: parse payment payload: %w", err)
	}

	payload := PaymentPayload{
		X402Version: envelope.X402Version,
		Scheme:      envelope.Scheme,
		Network:     envelope.Network,
	}

	switch {
	case envelope.Network.IsEVM():
		var p EvmPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return payload, fmt.Errorf("x402: parse evm payload: %w", err)
		}
		if p.Signature == "" || p.Authorization.Nonce == "" {
			return payload, fmt.Errorf("x402: evm payload missing signature or nonce")
		}
		payload.Payload = p
	case envelope.Network.IsSVM():
		var p SvmPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return payload, fmt.Errorf("x402: parse svm payload: %w", err)
		}
		if p.Transaction == "" {
			return payload, fmt.Errorf("x402: svm payload missing transaction")
		}
		payload.Payload = p
	default:
		return payload, fmt.Errorf("x402: unsupported network %q", envelope.Network)
	}

	return payload, nil
}

// ReplayRecord pairs a PaymentPayload with the PaymentRequirements it was
// matched against, serialized for ledger storage so a failed settlement can
// be resubmitted later without the original caller resending the request.
type ReplayRecord struct {
	Payload      string              `json:"payload"` // EncodePayload output
	Requirements PaymentRequirements `json:"requirements"`
}

// EncodeReplayRecord serializes a payload/requirements pair for ledger
// storage.
func EncodeReplayRecord(payload PaymentPayload, req PaymentRequirements) (string, error) {
	encodedPayload, err := EncodePayload(payload)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(ReplayRecord{Payload: encodedPayload, Requirements: req})
	if err != nil {
		return "", fmt.Errorf("x402: marshal replay record: %w", err)
	}
	return string(data), nil
}

// DecodeReplayRecord is the inverse of EncodeReplayRecord.
func DecodeReplayRecord(raw string) (PaymentPayload, PaymentRequirements, error) {
	var rec ReplayRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return PaymentPayload{}, PaymentRequirements{}, fmt.Errorf("x402: parse replay record: %w", err)
	}
	payload, err := DecodePayload(rec.Payload)
	if err != nil {
		return PaymentPayload{}, PaymentRequirements{}, err
	}
	return payload, rec.Requirements, nil
}

// EncodeRequirements base64-encodes a PaymentRequirements slice (the same
// JSON array the 402 challenge body carries, unencoded, in its "accepts"
// field), for callers that relay requirements outside the standard JSON
// 402 body (e.g. over a header).
func EncodeRequirements(reqs []PaymentRequirements) (string, error) {
	data, err := json.Marshal(reqs)
	if err != nil {
		return "", fmt.Errorf("x402: marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeRequirements is the inverse of EncodeRequirements.
func DecodeRequirements(encoded string) ([]PaymentRequirements, error) {
	data, err := decodeHeaderBytes(encoded)
	if err != nil {
		return nil, err
	}
	var reqs []PaymentRequirements
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("x402: parse requirements: %w", err)
	}
	return reqs, nil
}

// decodeHeaderBytes accepts standard base64, raw (no padding) base64, or a
// raw JSON object/array — the latter purely to keep manual curl/test
// reproduction convenient.
func decodeHeaderBytes(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("x402: empty payment header")
	}
	if raw[0] == '{' || raw[0] == '[' {
		return []byte(raw), nil
	}
	if data, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return data, nil
	}
	data, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("x402: decode base64: %w", err)
	}
	return data, nil
}
