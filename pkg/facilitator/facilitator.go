// Package facilitator dispatches x402 verify/settle/supported operations to
// the scheme implementation (pkg/x402/evm or pkg/x402/svm) matching a
// requirement's network, and fronts the EVM batch-settlement engine.
package facilitator

import (
	"context"
	"fmt"

	apierrors "github.com/x402kit/facilitator/internal/errors"
	"github.com/x402kit/facilitator/pkg/x402"
	"github.com/x402kit/facilitator/pkg/x402/evm"
)

// SchemeVerifier is satisfied by both pkg/x402/evm.Verifier (paired with
// evm.Settler) and pkg/x402/svm.Verifier (paired with svm.Settler).
type SchemeVerifier interface {
	Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerificationResult, error)
}

// SchemeSettler is satisfied by evm.Settler and svm.Settler.
type SchemeSettler interface {
	Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettlementResult, error)
}

// Scheme bundles a network's verifier and settler. EVM batch settlement
// additionally requires the concrete *evm.Settler, so BatchSettler is set
// only for EVM-backed scheme entries.
type Scheme struct {
	Verifier     SchemeVerifier
	Settler      SchemeSettler
	BatchSettler *evm.Settler // nil for SVM networks
}

// Facilitator dispatches to the Scheme registered for a requirement's
// network, and exposes the discovery surface describing which (scheme,
// network) kinds it supports.
type Facilitator struct {
	schemes map[x402.Network]Scheme
	kinds   []x402.SupportedKind
}

// New builds a Facilitator over a pre-populated network registry.
func New(schemes map[x402.Network]Scheme, kinds []x402.SupportedKind) *Facilitator {
	return &Facilitator{schemes: schemes, kinds: kinds}
}

func (f *Facilitator) lookup(network x402.Network) (Scheme, error) {
	scheme, ok := f.schemes[network]
	if !ok {
		return Scheme{}, x402.NewVerificationError(apierrors.ErrCodeUnsupportedNetwork,
			fmt.Errorf("facilitator: no scheme registered for network %q", network))
	}
	return scheme, nil
}

// Verify dispatches to the scheme verifier for req.Network.
func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.VerificationResult, error) {
	if req.Scheme != x402.SchemeExact {
		return x402.VerificationResult{}, x402.NewVerificationError(apierrors.ErrCodeUnsupportedScheme,
			fmt.Errorf("facilitator: unsupported scheme %q", req.Scheme))
	}
	scheme, err := f.lookup(req.Network)
	if err != nil {
		return x402.VerificationResult{}, err
	}
	return scheme.Verifier.Verify(ctx, payload, req)
}

// Settle dispatches to the scheme settler for req.Network. Idempotency
// (consulting internal/ledger for req's request hash before submitting) is
// the caller's responsibility — internal/httpserver's /settle handler does
// the ledger check before calling this, so a Facilitator can also be used
// directly in tests without a ledger dependency.
func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettlementResult, error) {
	if req.Scheme != x402.SchemeExact {
		return x402.SettlementResult{}, x402.NewVerificationError(apierrors.ErrCodeUnsupportedScheme,
			fmt.Errorf("facilitator: unsupported scheme %q", req.Scheme))
	}
	scheme, err := f.lookup(req.Network)
	if err != nil {
		return x402.SettlementResult{}, err
	}
	return scheme.Settler.Settle(ctx, payload, req)
}

// SettleBatch submits a batch of EVM items sharing one nonce allocation.
// Every item must target the same EVM network; SVM networks have no
// per-account sequential nonce to pre-allocate and are rejected.
func (f *Facilitator) SettleBatch(ctx context.Context, network x402.Network, items []evm.BatchItem) (evm.BatchResult, error) {
	scheme, err := f.lookup(network)
	if err != nil {
		return evm.BatchResult{}, err
	}
	if scheme.BatchSettler == nil {
		return evm.BatchResult{}, x402.NewVerificationError(apierrors.ErrCodeUnsupportedNetwork,
			fmt.Errorf("facilitator: network %q has no batch settlement engine", network))
	}
	return scheme.BatchSettler.SubmitBatch(ctx, network, items)
}

// Supported returns the (scheme, network) combinations this
// facilitator can verify and settle, for GET /supported.
func (f *Facilitator) Supported() []x402.SupportedKind {
	return f.kinds
}
