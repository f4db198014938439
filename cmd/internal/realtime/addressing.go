package realtime

import (
	"fmt"
	"strings"

	v1 "bondy/shared/contracts/chat/v1"
)

// AddressingKind discriminates the four mutually exclusive addressing modes.
type AddressingKind uint8

const (
	AddressDirect AddressingKind = iota + 1
	AddressProject
	AddressGroup
	AddressSharedLink
)

func (k AddressingKind) String() string {
	switch k {
	case AddressDirect:
		return "direct"
	case AddressProject:
		return "project"
	case AddressGroup:
		return "group"
	case AddressSharedLink:
		return "bond_link"
	default:
		return "unknown"
	}
}

// Addressing is the closed tagged variant built once at the boundary, so the
// "exactly one of four optional fields" rule is not re-checked deeper in.
type Addressing struct {
	Kind AddressingKind

	// ID is the receiver user id for AddressDirect and the context id
	// otherwise.
	ID string
}

// ContextKind maps a context addressing mode to its storage kind.
// It is meaningless for AddressDirect.
func (a Addressing) ContextKind() ContextKind {
	switch a.Kind {
	case AddressProject:
		return ContextProject
	case AddressGroup:
		return ContextGroup
	case AddressSharedLink:
		return ContextSharedLink
	default:
		return ""
	}
}

// ParseAddressing validates that exactly one of the four addressing fields is
// present and returns the corresponding variant.
func ParseAddressing(p v1.SendMessagePayload) (Addressing, error) {
	var out Addressing
	set := 0

	if id := strings.TrimSpace(p.Receiver); id != "" {
		out = Addressing{Kind: AddressDirect, ID: id}
		set++
	}
	if id := strings.TrimSpace(p.ProjectID); id != "" {
		out = Addressing{Kind: AddressProject, ID: id}
		set++
	}
	if id := strings.TrimSpace(p.GroupID); id != "" {
		out = Addressing{Kind: AddressGroup, ID: id}
		set++
	}
	if id := strings.TrimSpace(p.BondLinkID); id != "" {
		out = Addressing{Kind: AddressSharedLink, ID: id}
		set++
	}

	switch set {
	case 1:
		return out, nil
	case 0:
		return Addressing{}, fmt.Errorf("%w: provide receiver, projectId, groupId, or bondLinkId", ErrInvalidAddressing)
	default:
		return Addressing{}, fmt.Errorf("%w: %d addressing fields set, want exactly one", ErrInvalidAddressing, set)
	}
}
