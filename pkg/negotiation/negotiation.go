package negotiation

import (
	"fmt"
	"strings"

	"github.com/sara-star-quant/hybrid-kex/internal/constants"
	"github.com/sara-star-quant/hybrid-kex/pkg/primitive"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// Policy is one peer's local configuration.
type Policy struct {
	Mode      Mode
	Classical primitive.AlgorithmID
	PQ1       primitive.AlgorithmID
	PQ2       primitive.AlgorithmID
}

func (p Policy) slot(r Role) primitive.AlgorithmID {
	switch r {
	case RoleClassical:
		return p.Classical
	case RolePrimaryPQ:
		return p.PQ1
	case RoleSecondaryPQ:
		return p.PQ2
	default:
		return ""
	}
}

// Selection is one negotiated primitive and the slot it fills.
type Selection struct {
	Algorithm primitive.AlgorithmID
	Role      Role
}

// Required returns the selections the policy's mode needs, in key schedule
// order. It does not check that the slots are filled; see Validate.
func (p Policy) Required() []Selection {
	roles := p.Mode.roles()
	out := make([]Selection, 0, len(roles))
	for _, r := range roles {
		out = append(out, Selection{Algorithm: p.slot(r), Role: r})
	}
	return out
}

// Validate checks the policy against reg: required slots are filled and
// resolvable, slots the mode does not use are empty, classes match their
// slots, and the two post-quantum slots differ.
func (p Policy) Validate(reg *primitive.Registry) error {
	if !p.Mode.Valid() {
		return fmt.Errorf("mode %v: %w", p.Mode, qerrors.ErrInvalidPolicy)
	}

	used := make(map[Role]bool)
	for _, sel := range p.Required() {
		used[sel.Role] = true
		if sel.Algorithm == "" {
			return fmt.Errorf("%v requires a %v algorithm: %w", p.Mode, sel.Role, qerrors.ErrInvalidPolicy)
		}
		prim, err := reg.Lookup(sel.Algorithm)
		if err != nil {
			return err
		}
		if err := checkSlot(sel, prim); err != nil {
			return err
		}
	}
	for _, r := range []Role{RoleClassical, RolePrimaryPQ, RoleSecondaryPQ} {
		if !used[r] && p.slot(r) != "" {
			return fmt.Errorf("%v does not use a %v algorithm (got %s): %w", p.Mode, r, p.slot(r), qerrors.ErrInvalidPolicy)
		}
	}
	if p.Mode == TripleHybrid && p.PQ1 == p.PQ2 {
		return fmt.Errorf("pq1 and pq2 are both %s: %w", p.PQ1, qerrors.ErrInvalidPolicy)
	}
	return nil
}

func checkSlot(sel Selection, prim primitive.Primitive) error {
	capability := primitive.CapabilityOf(prim)
	switch sel.Role {
	case RoleClassical:
		if prim.Class() != primitive.Classical || capability == primitive.CapabilitySignature {
			return fmt.Errorf("%s cannot fill the classical slot: %w", sel.Algorithm, qerrors.ErrInvalidPolicy)
		}
	default:
		if prim.Class() != primitive.PostQuantum || capability != primitive.CapabilityKEM {
			return fmt.Errorf("%s cannot fill the %v slot: %w", sel.Algorithm, sel.Role, qerrors.ErrInvalidPolicy)
		}
	}
	return nil
}

// Offer returns the algorithms this policy advertises: its own selections
// first, then extra, skipping duplicates and anything reg cannot run.
func (p Policy) Offer(reg *primitive.Registry, extra ...primitive.AlgorithmID) []primitive.AlgorithmID {
	seen := make(map[primitive.AlgorithmID]bool)
	var out []primitive.AlgorithmID
	add := func(id primitive.AlgorithmID) {
		if id == "" || seen[id] || !reg.Has(id) {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, sel := range p.Required() {
		add(sel.Algorithm)
	}
	for _, id := range extra {
		add(id)
	}
	return out
}

// Configuration is a negotiated outcome.
type Configuration struct {
	Mode       Mode
	Selections []Selection
}

// Negotiate selects the configuration for policy given the peer's offer.
// Every algorithm the policy requires must be offered.
func Negotiate(policy Policy, peerOffered []primitive.AlgorithmID) (*Configuration, error) {
	required := policy.Required()
	if len(required) == 0 {
		return nil, fmt.Errorf("mode %v: %w", policy.Mode, qerrors.ErrInvalidPolicy)
	}

	offered := make(map[primitive.AlgorithmID]bool, len(peerOffered))
	for _, id := range peerOffered {
		offered[id] = true
	}

	var missing []string
	for _, sel := range required {
		if sel.Algorithm == "" || !offered[sel.Algorithm] {
			missing = append(missing, fmt.Sprintf("%v=%s", sel.Role, sel.Algorithm))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%v requires %s which the peer did not offer: %w",
			policy.Mode, strings.Join(missing, ", "), qerrors.ErrNoCompatibleConfiguration)
	}

	return &Configuration{Mode: policy.Mode, Selections: required}, nil
}

// Algorithms returns the selected ids in key schedule order.
func (c *Configuration) Algorithms() []primitive.AlgorithmID {
	out := make([]primitive.AlgorithmID, len(c.Selections))
	for i, sel := range c.Selections {
		out[i] = sel.Algorithm
	}
	return out
}

// AlgorithmNames is Algorithms as plain strings.
func (c *Configuration) AlgorithmNames() []string {
	out := make([]string, len(c.Selections))
	for i, sel := range c.Selections {
		out[i] = string(sel.Algorithm)
	}
	return out
}

// GroupName renders the selected group: a bare algorithm for single-primitive
// modes, hybrid_<c>_<pq1> and triple_hybrid_<c>_<pq1>_<pq2> otherwise.
func (c *Configuration) GroupName() string {
	names := c.AlgorithmNames()
	switch c.Mode {
	case DualHybrid:
		return "hybrid_" + strings.Join(names, "_")
	case TripleHybrid:
		return "triple_hybrid_" + strings.Join(names, "_")
	default:
		return strings.Join(names, "_")
	}
}

// Verify is the initiator's check of a configuration chosen by the peer:
// the mode is known, the slots are exactly the mode's slots in order, and
// every algorithm was in our offer.
func (c *Configuration) Verify(offered []primitive.AlgorithmID) error {
	roles := c.Mode.roles()
	if roles == nil || len(roles) != len(c.Selections) {
		return fmt.Errorf("%d selections for mode %v: %w", len(c.Selections), c.Mode, qerrors.ErrMalformedMessage)
	}

	ours := make(map[primitive.AlgorithmID]bool, len(offered))
	for _, id := range offered {
		ours[id] = true
	}
	seen := make(map[primitive.AlgorithmID]bool)
	for i, sel := range c.Selections {
		if sel.Role != roles[i] {
			return fmt.Errorf("selection %d has role %v, want %v: %w", i, sel.Role, roles[i], qerrors.ErrMalformedMessage)
		}
		if !ours[sel.Algorithm] {
			return fmt.Errorf("peer selected %s which was not offered: %w", sel.Algorithm, qerrors.ErrNoCompatibleConfiguration)
		}
		if seen[sel.Algorithm] {
			return fmt.Errorf("%s selected twice: %w", sel.Algorithm, qerrors.ErrMalformedMessage)
		}
		seen[sel.Algorithm] = true
	}
	return nil
}

// FromAlgorithms rebuilds a configuration from a mode and an ordered id
// list, assigning roles by position.
func FromAlgorithms(mode Mode, ids []primitive.AlgorithmID) (*Configuration, error) {
	roles := mode.roles()
	if roles == nil || len(roles) != len(ids) {
		return nil, fmt.Errorf("%d algorithms for mode %v: %w", len(ids), mode, qerrors.ErrMalformedMessage)
	}
	sel := make([]Selection, len(ids))
	for i, id := range ids {
		sel[i] = Selection{Algorithm: id, Role: roles[i]}
	}
	return &Configuration{Mode: mode, Selections: sel}, nil
}

// SelectCipherSuite returns the first suite in serverPrefs the client also
// offered.
func SelectCipherSuite(serverPrefs, clientOffered []constants.CipherSuite) (constants.CipherSuite, error) {
	offered := make(map[constants.CipherSuite]bool, len(clientOffered))
	for _, cs := range clientOffered {
		offered[cs] = true
	}
	for _, cs := range serverPrefs {
		if cs.IsSupported() && offered[cs] {
			return cs, nil
		}
	}
	return 0, fmt.Errorf("no shared cipher suite: %w", qerrors.ErrNoCompatibleConfiguration)
}
