package turbopng

import (
	"fmt"
	"sort"
	"strings"
)

// A PolicyKind selects how a MetadataPolicy treats
// ancillary chunks.
type PolicyKind int

const (
	// PolicyNone strips nothing.
	PolicyNone PolicyKind = iota

	// PolicySafe keeps only SafeChunks.
	PolicySafe

	// PolicyKeep keeps only the named chunks.
	PolicyKeep

	// PolicyStrip strips only the named chunks.
	PolicyStrip

	// PolicyAll strips every ancillary chunk.
	PolicyAll
)

// SafeChunks lists the ancillary chunks that affect how an
// image is displayed and are therefore kept by PolicySafe.
//
// Both the chunk parser and the Optimizer consult this list
// through MetadataPolicy.Allows. It mirrors the display
// chunk list of oxipng's "safe" strip mode; if it changes,
// TestSafeChunksMatchOptimizer must still pass.
var SafeChunks = [...][4]byte{
	{'c', 'I', 'C', 'P'},
	{'i', 'C', 'C', 'P'},
	{'s', 'R', 'G', 'B'},
	{'p', 'H', 'Y', 's'},
	{'a', 'c', 'T', 'L'},
	{'f', 'c', 'T', 'L'},
	{'f', 'd', 'A', 'T'},
}

// A MetadataPolicy decides which ancillary chunks survive
// a rewrite. Names is only consulted for PolicyKeep and
// PolicyStrip.
type MetadataPolicy struct {
	Kind  PolicyKind
	Names map[[4]byte]struct{}
}

// PolicyFor returns the default policy for the given
// -keep-metadata setting.
func PolicyFor(keepMetadata bool) MetadataPolicy {
	if keepMetadata {
		return MetadataPolicy{Kind: PolicyNone}
	}
	return MetadataPolicy{Kind: PolicySafe}
}

// KeepPolicy creates a policy that keeps only the named
// chunks.
func KeepPolicy(names ...string) MetadataPolicy {
	return MetadataPolicy{Kind: PolicyKeep, Names: nameSet(names)}
}

// StripPolicy creates a policy that strips only the named
// chunks.
func StripPolicy(names ...string) MetadataPolicy {
	return MetadataPolicy{Kind: PolicyStrip, Names: nameSet(names)}
}

// ParsePolicy parses a policy of the form "none", "safe",
// "all", "keep:NAME,NAME" or "strip:NAME,NAME".
func ParsePolicy(s string) (MetadataPolicy, error) {
	kind, list := s, ""
	if i := strings.IndexByte(s, ':'); i >= 0 {
		kind, list = s[:i], s[i+1:]
	}
	var names []string
	for _, n := range strings.Split(list, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if len(n) != 4 {
			return MetadataPolicy{}, fmt.Errorf("parse policy %q: chunk name %q is not 4 bytes", s, n)
		}
		names = append(names, n)
	}
	switch strings.ToLower(kind) {
	case "none":
		return MetadataPolicy{Kind: PolicyNone}, nil
	case "safe":
		return MetadataPolicy{Kind: PolicySafe}, nil
	case "all":
		return MetadataPolicy{Kind: PolicyAll}, nil
	case "keep":
		return KeepPolicy(names...), nil
	case "strip":
		return StripPolicy(names...), nil
	}
	return MetadataPolicy{}, fmt.Errorf("parse policy %q: unknown kind %q", s, kind)
}

// Allows reports whether an ancillary chunk with the given
// name is retained. The result depends only on the policy
// and the name.
func (m MetadataPolicy) Allows(name [4]byte) bool {
	switch m.Kind {
	case PolicyNone:
		return true
	case PolicySafe:
		for _, n := range SafeChunks {
			if n == name {
				return true
			}
		}
		return false
	case PolicyKeep:
		_, ok := m.Names[name]
		return ok
	case PolicyStrip:
		_, ok := m.Names[name]
		return !ok
	case PolicyAll:
		return false
	}
	panic(fmt.Sprintf("unknown policy kind: %d", m.Kind))
}

func (m MetadataPolicy) String() string {
	switch m.Kind {
	case PolicyNone:
		return "none"
	case PolicySafe:
		return "safe"
	case PolicyAll:
		return "all"
	}
	names := make([]string, 0, len(m.Names))
	for n := range m.Names {
		names = append(names, string(n[:]))
	}
	sort.Strings(names)
	if m.Kind == PolicyKeep {
		return "keep:" + strings.Join(names, ",")
	}
	return "strip:" + strings.Join(names, ",")
}

func nameSet(names []string) map[[4]byte]struct{} {
	res := make(map[[4]byte]struct{}, len(names))
	for _, n := range names {
		res[chunkName(n)] = struct{}{}
	}
	return res
}
