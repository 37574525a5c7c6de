package registry

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/baicaiyihao/quant/internal/domain"
	apperrors "github.com/baicaiyihao/quant/internal/errors"
	"github.com/baicaiyihao/quant/pkg/logger"
)

// maxDescriptorWeight bounds the weight suffix of a descriptor. A numeric
// suffix is ambiguous with a port number; anything above this bound is taken
// to be a port and left on the URL.
const maxDescriptorWeight = 100

// Descriptor is one configured endpoint entry: the source key it was read
// from (ordering is lexical by key) and its value, either "url" or
// "url:weight".
type Descriptor struct {
	Key   string
	Value string
}

// Registry holds the endpoint pool. The set is fixed at startup; endpoint
// state mutates continuously but endpoints are never added or removed during
// the process lifetime, so the registry itself needs no locking.
type Registry struct {
	endpoints []*domain.Endpoint
	byURL     map[string]*domain.Endpoint
	log       *logger.Logger
}

// Load parses the configured descriptors into live endpoint records. Order of
// enumeration is stable, lexical by source key. Fails when the resulting list
// is empty or a URL appears twice.
func Load(descriptors []Descriptor, policy domain.TrackerPolicy, log *logger.Logger) (*Registry, error) {
	sorted := make([]Descriptor, len(descriptors))
	copy(sorted, descriptors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	r := &Registry{
		byURL: make(map[string]*domain.Endpoint),
		log:   log.RegistryLogger(),
	}

	for _, d := range sorted {
		rawURL, weight, err := parseDescriptor(d.Value)
		if err != nil {
			return nil, apperrors.NewConfigurationError(
				fmt.Sprintf("invalid endpoint descriptor %s: %v", d.Key, err))
		}
		if _, exists := r.byURL[rawURL]; exists {
			return nil, apperrors.NewConfigurationError(
				fmt.Sprintf("duplicate endpoint URL %s (key %s)", rawURL, d.Key))
		}

		endpoint := domain.NewEndpoint(rawURL, weight, policy)
		r.endpoints = append(r.endpoints, endpoint)
		r.byURL[rawURL] = endpoint

		r.log.WithField("key", d.Key).
			WithField("url", rawURL).
			WithField("weight", weight).
			Debug("Registered endpoint")
	}

	if len(r.endpoints) == 0 {
		return nil, apperrors.NewConfigurationError("no RPC endpoints configured")
	}

	r.log.Infof("Loaded %d endpoints", len(r.endpoints))
	return r, nil
}

// parseDescriptor splits "url" or "url:weight". Weight defaults to 1 and is
// floored at 1.
func parseDescriptor(value string) (string, float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", 0, fmt.Errorf("empty descriptor")
	}

	if i := strings.LastIndex(value, ":"); i > 0 {
		if w, err := strconv.Atoi(value[i+1:]); err == nil && w <= maxDescriptorWeight {
			raw := value[:i]
			if validEndpointURL(raw) {
				if w < 1 {
					w = 1
				}
				return raw, float64(w), nil
			}
		}
	}

	if !validEndpointURL(value) {
		return "", 0, fmt.Errorf("not a valid URL: %q", value)
	}
	return value, 1, nil
}

func validEndpointURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// All returns every endpoint in stable configuration order
func (r *Registry) All() []*domain.Endpoint {
	out := make([]*domain.Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

// Candidates returns the endpoints currently eligible for selection, in
// stable configuration order
func (r *Registry) Candidates() []*domain.Endpoint {
	var out []*domain.Endpoint
	for _, e := range r.endpoints {
		if e.IsCandidate() {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the endpoint for a URL
func (r *Registry) Lookup(url string) (*domain.Endpoint, bool) {
	e, ok := r.byURL[url]
	return e, ok
}

// Len returns the total number of endpoints
func (r *Registry) Len() int {
	return len(r.endpoints)
}

// ActiveCount returns the number of endpoints in rotation
func (r *Registry) ActiveCount() int {
	n := 0
	for _, e := range r.endpoints {
		if e.IsActive() {
			n++
		}
	}
	return n
}

// HealthyCount returns the number of endpoints with a passing health state
func (r *Registry) HealthyCount() int {
	n := 0
	for _, e := range r.endpoints {
		if e.IsHealthy() {
			n++
		}
	}
	return n
}
