package primitive

import (
	"fmt"
	"sort"
	"sync"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// Registry maps AlgorithmIDs to implementations. It is built once at
// startup and only read while handshakes run.
type Registry struct {
	mu          sync.RWMutex
	entries     map[AlgorithmID]Primitive
	unavailable map[AlgorithmID]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:     make(map[AlgorithmID]Primitive),
		unavailable: make(map[AlgorithmID]string),
	}
}

// Register adds p. Registering an id twice is an error; registering an id
// previously marked unavailable makes it available.
func (r *Registry) Register(p Primitive) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[p.ID()]; ok {
		return fmt.Errorf("%s: %w", p.ID(), qerrors.ErrDuplicateAlgorithm)
	}
	r.entries[p.ID()] = p
	delete(r.unavailable, p.ID())
	return nil
}

// MarkUnavailable records an algorithm that is known but has no
// implementation in this build.
func (r *Registry) MarkUnavailable(id AlgorithmID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		r.unavailable[id] = reason
	}
}

// Lookup resolves id to its implementation.
func (r *Registry) Lookup(id AlgorithmID) (Primitive, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.entries[id]; ok {
		return p, nil
	}
	if reason, ok := r.unavailable[id]; ok {
		return nil, fmt.Errorf("%s: %s: %w", id, reason, qerrors.ErrUnsupportedAlgorithm)
	}
	return nil, fmt.Errorf("%s: %w", id, qerrors.ErrUnsupportedAlgorithm)
}

// Has reports whether id resolves to an implementation.
func (r *Registry) Has(id AlgorithmID) bool {
	_, err := r.Lookup(id)
	return err == nil
}

// KEM resolves id and requires the KEM capability.
func (r *Registry) KEM(id AlgorithmID) (KEM, error) {
	p, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	k, ok := p.(KEM)
	if !ok {
		return nil, fmt.Errorf("%s is not a KEM: %w", id, qerrors.ErrWrongCapability)
	}
	return k, nil
}

// KeyAgreement resolves id and requires the key agreement capability.
func (r *Registry) KeyAgreement(id AlgorithmID) (KeyAgreement, error) {
	p, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	ka, ok := p.(KeyAgreement)
	if !ok {
		return nil, fmt.Errorf("%s is not a key agreement: %w", id, qerrors.ErrWrongCapability)
	}
	return ka, nil
}

// Signer resolves id and requires the signature capability.
func (r *Registry) Signer(id AlgorithmID) (Signer, error) {
	p, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	s, ok := p.(Signer)
	if !ok {
		return nil, fmt.Errorf("%s is not a signature scheme: %w", id, qerrors.ErrWrongCapability)
	}
	return s, nil
}

// IDs returns the available algorithm ids in sorted order.
func (r *Registry) IDs() []AlgorithmID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]AlgorithmID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Info describes one registry entry.
type Info struct {
	ID         AlgorithmID
	Class      Class
	Capability Capability
	Sizes      KeySizes
	Available  bool
	Reason     string
}

// Describe lists every available and known-unavailable algorithm, sorted by
// capability and then id.
func (r *Registry) Describe() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.entries)+len(r.unavailable))
	for id, p := range r.entries {
		infos = append(infos, Info{ID: id, Class: p.Class(), Capability: CapabilityOf(p), Sizes: p.Sizes(), Available: true})
	}
	for id, reason := range r.unavailable {
		info := Info{ID: id, Reason: reason}
		if known, ok := unavailableCatalog[id]; ok {
			info.Class, info.Capability, info.Sizes = known.class, known.capability, known.sizes
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Capability != infos[j].Capability {
			return infos[i].Capability < infos[j].Capability
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

type catalogEntry struct {
	class      Class
	capability Capability
	sizes      KeySizes
	reason     string
}

// unavailableCatalog lists algorithms that peers may advertise but this
// build cannot run. Sizes are the published parameter sizes.
var unavailableCatalog = map[AlgorithmID]catalogEntry{
	RSA2048:        {Classical, CapabilityKEM, KeySizes{Public: 256, Private: 1192, CiphertextOrSignature: 256}, "RSA key transport is not offered"},
	NTRUHPS2048509: {PostQuantum, CapabilityKEM, KeySizes{Public: 699, Private: 935, CiphertextOrSignature: 699, SharedSecret: 32}, "no NTRU implementation linked"},
	NTRUHPS2048677: {PostQuantum, CapabilityKEM, KeySizes{Public: 930, Private: 1234, CiphertextOrSignature: 930, SharedSecret: 32}, "no NTRU implementation linked"},
	LightSaberKEM:  {PostQuantum, CapabilityKEM, KeySizes{Public: 672, Private: 1568, CiphertextOrSignature: 736, SharedSecret: 32}, "no Saber implementation linked"},
	SaberKEM:       {PostQuantum, CapabilityKEM, KeySizes{Public: 992, Private: 2304, CiphertextOrSignature: 1088, SharedSecret: 32}, "no Saber implementation linked"},
	FireSaberKEM:   {PostQuantum, CapabilityKEM, KeySizes{Public: 1312, Private: 3040, CiphertextOrSignature: 1472, SharedSecret: 32}, "no Saber implementation linked"},
}

// NewDefaultRegistry builds a fresh registry with every primitive this
// build can run.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	var all []Primitive
	all = append(all, NewX25519(), NewX448(), NewECDHP256(), NewECDHP384())
	for _, k := range circlKEMs() {
		all = append(all, k)
	}
	for _, s := range circlSigners() {
		all = append(all, s)
	}
	for _, p := range all {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	for id, entry := range unavailableCatalog {
		r.MarkUnavailable(id, entry.reason)
	}
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry, built on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewDefaultRegistry()
	})
	return defaultRegistry
}
