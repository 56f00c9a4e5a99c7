package httputil

import (
	"net/http"
	"testing"
	"time"
)

func TestNewClient_AppliesTimeoutAndTransport(t *testing.T) {
	client := NewClient(5 * time.Second)

	if client.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %s", client.Timeout)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.MaxIdleConns != 100 {
		t.Errorf("expected MaxIdleConns 100, got %d", transport.MaxIdleConns)
	}
	if transport.MaxIdleConnsPerHost != 10 {
		t.Errorf("expected MaxIdleConnsPerHost 10, got %d", transport.MaxIdleConnsPerHost)
	}
	if transport.IdleConnTimeout != 90*time.Second {
		t.Errorf("expected IdleConnTimeout 90s, got %s", transport.IdleConnTimeout)
	}
}
