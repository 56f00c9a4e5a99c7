package auth

import (
	"encoding/base64"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func signedHeaders(t *testing.T, wallet solana.PrivateKey, message string) VerificationHeaders {
	t.Helper()
	sig, err := wallet.Sign([]byte(message))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return VerificationHeaders{
		Signature: base64.StdEncoding.EncodeToString(sig[:]),
		Message:   message,
		Signer:    wallet.PublicKey().String(),
	}
}

func TestExtractHeaders_RequiresAllThree(t *testing.T) {
	sv := NewSignatureVerifier()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Signature", "sig")
	r.Header.Set("X-Message", "msg")

	if _, err := sv.ExtractHeaders(r); err == nil {
		t.Fatal("expected error when X-Signer is missing")
	}
}

func TestExtractHeaders_Success(t *testing.T) {
	sv := NewSignatureVerifier()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Signature", "sig")
	r.Header.Set("X-Message", "msg")
	r.Header.Set("X-Signer", "signer")

	headers, err := sv.ExtractHeaders(r)
	if err != nil {
		t.Fatalf("extract headers: %v", err)
	}
	if headers.Signature != "sig" || headers.Message != "msg" || headers.Signer != "signer" {
		t.Errorf("unexpected headers: %+v", headers)
	}
}

func TestVerifySignature_Valid(t *testing.T) {
	sv := NewSignatureVerifier()
	wallet := solana.NewWallet().PrivateKey
	headers := signedHeaders(t, wallet, "hello world")

	if err := sv.VerifySignature(headers); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifySignature_WrongMessage(t *testing.T) {
	sv := NewSignatureVerifier()
	wallet := solana.NewWallet().PrivateKey
	headers := signedHeaders(t, wallet, "hello world")
	headers.Message = "tampered message"

	if err := sv.VerifySignature(headers); err == nil {
		t.Fatal("expected signature verification to fail for tampered message")
	}
}

func TestVerifySignature_InvalidEncoding(t *testing.T) {
	sv := NewSignatureVerifier()
	headers := VerificationHeaders{Signature: "not-base64!!!", Message: "m", Signer: "s"}

	if err := sv.VerifySignature(headers); err == nil {
		t.Fatal("expected error for invalid base64 signature")
	}
}

func TestVerifySignature_InvalidSigner(t *testing.T) {
	sv := NewSignatureVerifier()
	wallet := solana.NewWallet().PrivateKey
	headers := signedHeaders(t, wallet, "hello world")
	headers.Signer = "not-a-valid-pubkey"

	if err := sv.VerifySignature(headers); err == nil {
		t.Fatal("expected error for invalid signer address")
	}
}

func TestVerifyAdminRequest_Success(t *testing.T) {
	sv := NewSignatureVerifier()
	wallet := solana.NewWallet().PrivateKey
	message := "authorize admin action"
	headers := signedHeaders(t, wallet, message)

	r := httptest.NewRequest("POST", "/admin", nil)
	r.Header.Set("X-Signature", headers.Signature)
	r.Header.Set("X-Message", headers.Message)
	r.Header.Set("X-Signer", headers.Signer)

	if err := sv.VerifyAdminRequest(r, wallet.PublicKey().String(), message); err != nil {
		t.Fatalf("expected admin request to verify, got %v", err)
	}
}

func TestVerifyAdminRequest_WrongSigner(t *testing.T) {
	sv := NewSignatureVerifier()
	wallet := solana.NewWallet().PrivateKey
	other := solana.NewWallet().PrivateKey
	message := "authorize admin action"
	headers := signedHeaders(t, wallet, message)

	r := httptest.NewRequest("POST", "/admin", nil)
	r.Header.Set("X-Signature", headers.Signature)
	r.Header.Set("X-Message", headers.Message)
	r.Header.Set("X-Signer", headers.Signer)

	if err := sv.VerifyAdminRequest(r, other.PublicKey().String(), message); err == nil {
		t.Fatal("expected error for signer not matching expected admin")
	}
}

func TestVerifyUserRequest_AllowedSigner(t *testing.T) {
	sv := NewSignatureVerifier()
	wallet := solana.NewWallet().PrivateKey
	other := solana.NewWallet().PrivateKey
	message := "authorize user action"
	headers := signedHeaders(t, wallet, message)

	r := httptest.NewRequest("POST", "/action", nil)
	r.Header.Set("X-Signature", headers.Signature)
	r.Header.Set("X-Message", headers.Message)
	r.Header.Set("X-Signer", headers.Signer)

	allowed := []string{other.PublicKey().String(), wallet.PublicKey().String()}
	if err := sv.VerifyUserRequest(r, allowed, message); err != nil {
		t.Fatalf("expected user request to verify, got %v", err)
	}
}

func TestVerifyUserRequest_DisallowedSigner(t *testing.T) {
	sv := NewSignatureVerifier()
	wallet := solana.NewWallet().PrivateKey
	other := solana.NewWallet().PrivateKey
	message := "authorize user action"
	headers := signedHeaders(t, wallet, message)

	r := httptest.NewRequest("POST", "/action", nil)
	r.Header.Set("X-Signature", headers.Signature)
	r.Header.Set("X-Message", headers.Message)
	r.Header.Set("X-Signer", headers.Signer)

	if err := sv.VerifyUserRequest(r, []string{other.PublicKey().String()}, message); err == nil {
		t.Fatal("expected error for signer not in allowed list")
	}
}
