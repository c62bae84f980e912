package snapshot

import "fmt"

// DefaultEphemeralThreshold separates durable row ids from client tokens.
// Clients mint temporary ids from millisecond clocks, which always exceed it.
const DefaultEphemeralThreshold int64 = 1_000_000_000_000

// RefKind tags a RowRef.
type RefKind int

const (
	// RefNone means the row carries no identifier at all.
	RefNone RefKind = iota
	// RefDurable is a store-assigned row id.
	RefDurable
	// RefEphemeral is a client-generated token for a row not yet stored.
	RefEphemeral
)

func (k RefKind) String() string {
	switch k {
	case RefDurable:
		return "durable"
	case RefEphemeral:
		return "ephemeral"
	default:
		return "none"
	}
}

// RowRef is a classified row identifier. Only durable refs may be matched
// against stored rows; ephemeral refs are resolved by signature.
type RowRef struct {
	Kind RefKind
	ID   int64
}

// Durable returns a durable ref.
func Durable(id int64) RowRef { return RowRef{Kind: RefDurable, ID: id} }

// Ephemeral returns an ephemeral ref.
func Ephemeral(token int64) RowRef { return RowRef{Kind: RefEphemeral, ID: token} }

// Classify turns a raw wire id into a RowRef. A threshold <= 0 selects
// DefaultEphemeralThreshold.
func Classify(id, threshold int64) RowRef {
	if threshold <= 0 {
		threshold = DefaultEphemeralThreshold
	}
	switch {
	case id <= 0:
		return RowRef{}
	case id > threshold:
		return Ephemeral(id)
	default:
		return Durable(id)
	}
}

// IsDurable reports whether r names a stored row.
func (r RowRef) IsDurable() bool { return r.Kind == RefDurable }

// IsEphemeral reports whether r is a client token.
func (r RowRef) IsEphemeral() bool { return r.Kind == RefEphemeral }

func (r RowRef) String() string {
	if r.Kind == RefNone {
		return "none"
	}
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Ref classifies the row's identifier.
func (r Row) Ref(threshold int64) RowRef {
	return Classify(r.ID, threshold)
}
