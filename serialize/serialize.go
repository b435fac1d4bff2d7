// Package serialize is the payload (de)serializer spec.md assumes as an
// external collaborator (spec.md §1): something that turns any value into
// bytes for storage/spill/wire transfer and back. It is intentionally
// swappable; Pool depends only on the Serializer interface.
package serialize

import "github.com/fxamacker/cbor/v2"

// Serializer turns values into bytes and back. Implementations must be
// safe for concurrent use — Pool shares one across every put/get.
type Serializer interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

// CBOR is the default Serializer: no codegen, handles arbitrary Go values
// including nested DRefs (whose UnmarshalCBOR hook re-registers them at
// the new site, see ref.SetActiveRegistry).
type CBOR struct{}

func NewCBOR() CBOR { return CBOR{} }

func (CBOR) Encode(v any) ([]byte, error) { return cbor.Marshal(v) }

func (CBOR) Decode(data []byte, out any) error { return cbor.Unmarshal(data, out) }
