package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownNamespace            = errors.New("unknown namespace")
	ErrUnknownSpecificationVersion = errors.New("unknown specification version")
)

// Namespace is the wire schema generation a peer speaks.
type Namespace uint8

const (
	// NamespaceA is the legacy Kura based payload format.
	NamespaceA Namespace = iota + 1
	// NamespaceB is the current Sparkplug B payload format.
	NamespaceB
)

const (
	TokenA = "spAv1.0"
	TokenB = "spBv1.0"
)

// Token is the first topic segment for the namespace.
func (n Namespace) Token() string {
	switch n {
	case NamespaceA:
		return TokenA
	case NamespaceB:
		return TokenB
	default:
		return ""
	}
}

func (n Namespace) String() string {
	switch n {
	case NamespaceA:
		return "A"
	case NamespaceB:
		return "B"
	default:
		return fmt.Sprintf("Namespace(%d)", uint8(n))
	}
}

func (n Namespace) Valid() bool {
	return n == NamespaceA || n == NamespaceB
}

// ParseNamespace accepts either the short name ("A", "B") or the topic token.
func ParseNamespace(s string) (Namespace, error) {
	switch strings.ToUpper(s) {
	case "A", strings.ToUpper(TokenA):
		return NamespaceA, nil
	case "B", strings.ToUpper(TokenB):
		return NamespaceB, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, ErrUnknownNamespace)
	}
}

func namespaceFromToken(token string) (Namespace, bool) {
	switch token {
	case TokenA:
		return NamespaceA, true
	case TokenB:
		return NamespaceB, true
	default:
		return 0, false
	}
}

// SpecificationVersion is the Sparkplug specification release an entity
// follows. It decides the shape of STATE messages.
type SpecificationVersion uint8

const (
	Version22 SpecificationVersion = iota + 1
	Version30
)

func (v SpecificationVersion) String() string {
	switch v {
	case Version22:
		return "2.2"
	case Version30:
		return "3.0"
	default:
		return fmt.Sprintf("SpecificationVersion(%d)", uint8(v))
	}
}

func ParseSpecificationVersion(s string) (SpecificationVersion, error) {
	switch s {
	case "2.2", "V22":
		return Version22, nil
	case "3.0", "V30":
		return Version30, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, ErrUnknownSpecificationVersion)
	}
}
