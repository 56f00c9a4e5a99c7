package httpserver

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/x402kit/facilitator/pkg/x402"
)

// PriceTable maps resource paths to their PriceSpec, backing both the
// resource-serving Middleware and the GET /discovery/resources listing.
type PriceTable struct {
	mu          sync.RWMutex
	specs       map[string]x402.PriceSpec
	registered  map[string]time.Time
	svmFeePayer string
}

// NewPriceTable builds an empty table. svmFeePayer is the facilitator's
// Solana fee payer public key (base58), stamped onto every registered
// spec's SVMFeePayer field so SVM requirements always carry it in Extra
// without every call site having to know the wallet. Pass "" when the
// facilitator has no SVM side configured.
func NewPriceTable(svmFeePayer string) *PriceTable {
	return &PriceTable{
		specs:       make(map[string]x402.PriceSpec),
		registered:  make(map[string]time.Time),
		svmFeePayer: svmFeePayer,
	}
}

// Register adds or replaces the price spec for a resource path.
func (t *PriceTable) Register(path string, spec x402.PriceSpec) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if spec.SVMFeePayer == "" {
		spec.SVMFeePayer = t.svmFeePayer
	}
	t.specs[path] = spec
	t.registered[path] = time.Now()
}

// Resolver returns a ResourceResolver reading from this table, keyed on
// request path.
func (t *PriceTable) Resolver() ResourceResolver {
	return func(r *http.Request) (x402.PriceSpec, error) {
		path := strings.TrimSuffix(r.URL.Path, "/")
		t.mu.RLock()
		defer t.mu.RUnlock()
		spec, ok := t.specs[path]
		if !ok {
			return x402.PriceSpec{}, ErrResourceNotPriced
		}
		return spec, nil
	}
}

// Listing returns every registered resource's discovery entry, sorted by
// resource path so repeated calls paginate consistently.
func (t *PriceTable) Listing() ([]x402.DiscoveryListing, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	paths := make([]string, 0, len(t.specs))
	for path := range t.specs {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	out := make([]x402.DiscoveryListing, 0, len(paths))
	for _, path := range paths {
		reqs, err := x402.BuildRequirements(t.specs[path])
		if err != nil {
			return nil, err
		}
		out = append(out, x402.DiscoveryListing{
			Type:         "http",
			Resource:     path,
			Requirements: reqs,
			LastUpdated:  t.registered[path],
		})
	}
	return out, nil
}
