package httpserver

import (
	"net/http/httptest"
	"testing"

	"github.com/x402kit/facilitator/internal/money"
	"github.com/x402kit/facilitator/pkg/x402"
)

func testPriceSpec(resourceID string) x402.PriceSpec {
	return x402.PriceSpec{
		ResourceID: resourceID,
		USD:        money.New(money.MustGetAsset("USD"), 100),
		Accepts: []x402.AssetQuote{
			{
				Network:       x402.NetworkBaseSepolia,
				Asset:         "0xasset",
				AssetDecimals: 6,
				PayTo:         "0xpayto",
				UnitsPerUSD:   1_000_000,
				EIP712Name:    "USD Coin",
				EIP712Version: "2",
			},
		},
	}
}

func TestPriceTable_RegisterStampsSVMFeePayer(t *testing.T) {
	table := NewPriceTable("fee-payer-pubkey")
	spec := testPriceSpec("/premium")
	spec.Accepts = append(spec.Accepts, x402.AssetQuote{Network: x402.NetworkSolana, Asset: "mint", AssetDecimals: 6, PayTo: "owner", UnitsPerUSD: 1_000_000})

	table.Register("/premium", spec)

	listing, err := table.Listing()
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(listing) != 1 {
		t.Fatalf("expected 1 listing, got %d", len(listing))
	}
	stamped := false
	for _, req := range listing[0].Requirements {
		if req.Network == x402.NetworkSolana && req.Extra["feePayer"] == "fee-payer-pubkey" {
			stamped = true
		}
	}
	if !stamped {
		t.Errorf("expected SVM requirement to carry the table's fee payer, got %+v", listing[0].Requirements)
	}
}

func TestPriceTable_ResolverReturnsNotPricedForUnknownPath(t *testing.T) {
	table := NewPriceTable("")
	resolver := table.Resolver()

	r := httptest.NewRequest("GET", "/unknown", nil)
	if _, err := resolver(r); err != ErrResourceNotPriced {
		t.Fatalf("expected ErrResourceNotPriced, got %v", err)
	}
}

func TestPriceTable_ResolverReturnsRegisteredSpec(t *testing.T) {
	table := NewPriceTable("")
	table.Register("/premium", testPriceSpec("/premium"))
	resolver := table.Resolver()

	r := httptest.NewRequest("GET", "/premium", nil)
	spec, err := resolver(r)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if spec.ResourceID != "/premium" {
		t.Errorf("expected resource /premium, got %q", spec.ResourceID)
	}
}

func TestPriceTable_ResolverTrimsTrailingSlash(t *testing.T) {
	table := NewPriceTable("")
	table.Register("/premium", testPriceSpec("/premium"))
	resolver := table.Resolver()

	r := httptest.NewRequest("GET", "/premium/", nil)
	if _, err := resolver(r); err != nil {
		t.Fatalf("expected trailing slash to resolve to registered path, got %v", err)
	}
}

func TestPriceTable_ListingBuildsRequirementsPerResource(t *testing.T) {
	table := NewPriceTable("")
	table.Register("/a", testPriceSpec("/a"))
	table.Register("/b", testPriceSpec("/b"))

	listing, err := table.Listing()
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(listing) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listing))
	}
	for _, item := range listing {
		if len(item.Requirements) != 1 {
			t.Errorf("expected 1 requirement for %s, got %d", item.Resource, len(item.Requirements))
		}
	}
}
