package cacheutil

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWriteThrough_InvalidatesOnSuccess(t *testing.T) {
	invalidated := false
	err := WriteThrough(func() { invalidated = true }, func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !invalidated {
		t.Error("expected cache to be invalidated after a successful write")
	}
}

func TestWriteThrough_SkipsInvalidateOnError(t *testing.T) {
	invalidated := false
	wantErr := errors.New("write failed")
	err := WriteThrough(func() { invalidated = true }, func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if invalidated {
		t.Error("expected cache invalidation to be skipped on write failure")
	}
}

func TestReadThrough_ReturnsCachedValue(t *testing.T) {
	var mu sync.RWMutex
	fetches := 0

	checkCache := func(now time.Time) (string, bool) { return "cached", true }
	fetchAndCache := func(now time.Time) (string, error) {
		fetches++
		return "fetched", nil
	}

	value, err := ReadThrough(&mu, checkCache, fetchAndCache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "cached" {
		t.Errorf("expected cached value, got %q", value)
	}
	if fetches != 0 {
		t.Errorf("expected no fetch on cache hit, got %d", fetches)
	}
}

func TestReadThrough_FetchesOnMiss(t *testing.T) {
	var mu sync.RWMutex
	fetches := 0

	checkCache := func(now time.Time) (string, bool) { return "", false }
	fetchAndCache := func(now time.Time) (string, error) {
		fetches++
		return "fetched", nil
	}

	value, err := ReadThrough(&mu, checkCache, fetchAndCache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "fetched" {
		t.Errorf("expected fetched value, got %q", value)
	}
	if fetches != 1 {
		t.Errorf("expected exactly one fetch, got %d", fetches)
	}
}

func TestReadThrough_PropagatesFetchError(t *testing.T) {
	var mu sync.RWMutex
	wantErr := errors.New("fetch failed")

	_, err := ReadThrough(&mu,
		func(now time.Time) (string, bool) { return "", false },
		func(now time.Time) (string, error) { return "", wantErr },
	)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}
