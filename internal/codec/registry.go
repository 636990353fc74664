package codec

import (
	"fmt"
	"slices"
	"sync"
)

// Registry holds codec backends.
type Registry struct {
	mu       sync.RWMutex
	backends []Backend
}

// NewRegistry creates a registry with the given backends.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds a backend. Registering a name twice replaces the first.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.backends {
		if existing.Name() == b.Name() {
			r.backends[i] = b
			return
		}
	}
	r.backends = append(r.backends, b)
}

// Find returns the backend with the given name.
func (r *Registry) Find(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.backends {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// All returns every registered backend in registration order.
func (r *Registry) All() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.backends)
}

// Available returns usable backends, hardware before software, otherwise in
// registration order.
func (r *Registry) Available() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	available := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		if b.Available() {
			available = append(available, b)
		}
	}
	slices.SortStableFunc(available, func(a, b Backend) int {
		switch {
		case a.Hardware() == b.Hardware():
			return 0
		case a.Hardware():
			return -1
		default:
			return 1
		}
	})
	return available
}

// decoderCandidates returns the backends to try for decoding codec.
func (r *Registry) decoderCandidates(codec string) []Backend {
	var out []Backend
	for _, b := range r.Available() {
		if b.Decodes(codec) {
			out = append(out, b)
		}
	}
	return out
}

// CanDecode reports whether any available backend decodes codec.
func (r *Registry) CanDecode(codec string) bool {
	return len(r.decoderCandidates(codec)) > 0
}

// encoderCandidates returns the backends to try for encoding codec. A named
// override restricts the list to that backend.
func (r *Registry) encoderCandidates(codec, override string) ([]Backend, error) {
	if override != "" {
		b, ok := r.Find(override)
		if !ok {
			return nil, fmt.Errorf("%w: no backend named %q", ErrUnsupportedCodec, override)
		}
		if !b.Encodes(codec) {
			return nil, fmt.Errorf("%w: backend %s cannot encode %s", ErrUnsupportedCodec, override, codec)
		}
		return []Backend{b}, nil
	}

	var out []Backend
	for _, b := range r.Available() {
		if b.Encodes(codec) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Codecs lists the codecs each available backend can decode and encode.
type Codecs struct {
	Backend  string   `json:"backend"`
	Hardware bool     `json:"hardware"`
	Decode   []string `json:"decode"`
	Encode   []string `json:"encode"`
}

// Describe reports decode and encode support for the given codec ids.
func (r *Registry) Describe(codecs []string) []Codecs {
	var out []Codecs
	for _, b := range r.Available() {
		c := Codecs{Backend: b.Name(), Hardware: b.Hardware()}
		for _, id := range codecs {
			if b.Decodes(id) {
				c.Decode = append(c.Decode, id)
			}
			if b.Encodes(id) {
				c.Encode = append(c.Encode, id)
			}
		}
		out = append(out, c)
	}
	return out
}
