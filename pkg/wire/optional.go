package wire

import "github.com/n2n-go/supernode/pkg/optional"

// Optional wraps pkg/optional for wire message fields that may be absent
// on the wire (the socket field on PACKET/REGISTER is only present when
// the sender set FlagSocket); all of optional.Optional's methods are
// promoted through the embedded field.
type Optional[T any] struct {
	optional.Optional[T]
}

func Of[T any](v T) Optional[T] {
	return Optional[T]{optional.Of(v)}
}

func None[T any]() Optional[T] {
	return Optional[T]{optional.None[T]()}
}
