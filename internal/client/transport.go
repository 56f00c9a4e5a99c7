// Package client implements the payer side of the x402 HTTP flow: an
// http.RoundTripper that pays a 402 challenge automatically and retries the
// request once, so callers can keep using net/http as if the resource were
// free.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/x402kit/facilitator/pkg/x402"
	"github.com/x402kit/facilitator/pkg/x402/evm"
	"github.com/x402kit/facilitator/pkg/x402/svm"
)

// PaymentEventType identifies which stage of a payment attempt a
// PaymentEvent reports.
type PaymentEventType string

const (
	PaymentEventAttempt PaymentEventType = "attempt"
	PaymentEventSuccess PaymentEventType = "success"
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent describes one stage of an intercepted payment, passed to
// Transport's optional callbacks.
type PaymentEvent struct {
	Type      PaymentEventType
	Timestamp time.Time
	URL       string
	Network   x402.Network
	Scheme    x402.Scheme
	Amount    string
	Asset     string
	TxHash    string
	Duration  time.Duration
	Err       error
}

// PaymentCallback receives PaymentEvents from a Transport. Nil callbacks
// are skipped.
type PaymentCallback func(PaymentEvent)

// ErrNoSigner is returned when a 402 challenge's accepted requirements
// contain no network the Transport has a signer configured for.
var ErrNoSigner = errors.New("x402client: no signer configured for any accepted requirement")

// Transport is an http.RoundTripper that intercepts 402 Payment Required
// responses, signs a payment against the first accepted requirement it has
// a signer for, and retries the request once with X-Payment set. A
// response that never 402s, or whose retry still fails, passes through
// unmodified. At most one EVM signer and one SVM payer/builder pair are
// supported per Transport; wrap several Transports for multi-wallet
// selection.
type Transport struct {
	// Base is the underlying RoundTripper. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	// EVMSigner signs EIP-3009 authorizations. Nil disables EVM payment.
	EVMSigner *evm.Signer

	// SVMBuilder assembles SPL TransferChecked transactions. SVMPayer is
	// the wallet the transaction draws funds from. Either nil disables
	// SVM payment.
	SVMBuilder *svm.Builder
	SVMPayer   solana.PrivateKey

	OnPaymentAttempt PaymentCallback
	OnPaymentSuccess PaymentCallback
	OnPaymentFailure PaymentCallback
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base()

	first := req.Clone(req.Context())
	resp, err := base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusPaymentRequired {
		return resp, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("x402client: read challenge body: %w", err)
	}

	var challenge struct {
		Accepts []x402.PaymentRequirements `json:"accepts"`
	}
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, fmt.Errorf("x402client: parse challenge: %w", err)
	}

	matched, err := t.selectRequirement(challenge.Accepts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	t.emit(t.OnPaymentAttempt, PaymentEvent{
		Type:      PaymentEventAttempt,
		Timestamp: start,
		URL:       req.URL.String(),
		Network:   matched.Network,
		Scheme:    matched.Scheme,
		Amount:    matched.MaxAmountRequired,
		Asset:     matched.Asset,
	})

	payload, err := t.pay(req.Context(), matched)
	if err != nil {
		t.fail(req, start, err)
		return nil, fmt.Errorf("x402client: sign payment: %w", err)
	}

	header, err := x402.EncodePayload(payload)
	if err != nil {
		t.fail(req, start, err)
		return nil, fmt.Errorf("x402client: encode payment: %w", err)
	}

	retryReq := req.Clone(req.Context())
	retryReq.Header.Set("X-Payment", header)

	retryResp, err := base.RoundTrip(retryReq)
	duration := time.Since(start)
	if err != nil {
		t.fail(req, start, err)
		return nil, err
	}

	t.reportSettlement(req, matched, retryResp, duration)
	return retryResp, nil
}

func (t *Transport) selectRequirement(reqs []x402.PaymentRequirements) (x402.PaymentRequirements, error) {
	for _, r := range reqs {
		if r.Network.IsEVM() && t.EVMSigner != nil {
			return r, nil
		}
		if r.Network.IsSVM() && t.SVMBuilder != nil && len(t.SVMPayer) > 0 {
			return r, nil
		}
	}
	return x402.PaymentRequirements{}, ErrNoSigner
}

func (t *Transport) pay(ctx context.Context, req x402.PaymentRequirements) (x402.PaymentPayload, error) {
	switch {
	case req.Network.IsEVM():
		evmPayload, err := t.EVMSigner.Sign(ctx, req)
		if err != nil {
			return x402.PaymentPayload{}, err
		}
		return x402.PaymentPayload{X402Version: 1, Scheme: req.Scheme, Network: req.Network, Payload: evmPayload}, nil

	case req.Network.IsSVM():
		feePayer, err := solana.PublicKeyFromBase58(req.Extra["feePayer"])
		if err != nil {
			return x402.PaymentPayload{}, fmt.Errorf("requirement has no valid feePayer: %w", err)
		}
		svmPayload, err := t.SVMBuilder.Build(ctx, req, t.SVMPayer, feePayer)
		if err != nil {
			return x402.PaymentPayload{}, err
		}
		return x402.PaymentPayload{X402Version: 1, Scheme: req.Scheme, Network: req.Network, Payload: svmPayload}, nil

	default:
		return x402.PaymentPayload{}, fmt.Errorf("unsupported network %q", req.Network)
	}
}

func (t *Transport) fail(req *http.Request, start time.Time, err error) {
	log.Debug().Err(err).Str("url", req.URL.String()).Msg("x402client.payment_failed")
	t.emit(t.OnPaymentFailure, PaymentEvent{
		Type:      PaymentEventFailure,
		Timestamp: time.Now(),
		URL:       req.URL.String(),
		Duration:  time.Since(start),
		Err:       err,
	})
}

func (t *Transport) reportSettlement(req *http.Request, matched x402.PaymentRequirements, resp *http.Response, duration time.Duration) {
	header := resp.Header.Get("X-Payment-Response")
	if header == "" {
		return
	}
	settlement, err := x402.DecodeSettlementResponse(header)
	if err != nil {
		log.Debug().Err(err).Msg("x402client.settlement_response_undecodable")
		return
	}

	event := PaymentEvent{
		Timestamp: time.Now(),
		URL:       req.URL.String(),
		Network:   matched.Network,
		Scheme:    matched.Scheme,
		Amount:    matched.MaxAmountRequired,
		Asset:     matched.Asset,
		TxHash:    settlement.TxHash,
		Duration:  duration,
	}
	if settlement.Success {
		event.Type = PaymentEventSuccess
		t.emit(t.OnPaymentSuccess, event)
	} else {
		event.Type = PaymentEventFailure
		event.Err = errors.New(settlement.Error)
		t.emit(t.OnPaymentFailure, event)
	}
}

func (t *Transport) emit(cb PaymentCallback, ev PaymentEvent) {
	if cb != nil {
		cb(ev)
	}
}
