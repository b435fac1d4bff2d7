// Package transport provides the concrete peer-to-peer collaborator
// spec.md leaves out of scope: a blocking HTTP/2-cleartext RPC client and
// server for dereferences and spill forwarders, and a fire-and-forget
// websocket channel for ref/unref owner notifications.
package transport

import (
	"github.com/fxamacker/cbor/v2"

	pooledio "xiaoshiai.cn/mempool/io"
	"xiaoshiai.cn/mempool/poolerrors"
	"xiaoshiai.cn/mempool/ref"
)

// encodeBufPool reuses the scratch buffers every request/response encode
// writes into — every RPC on the hot path allocates one of these.
var encodeBufPool = pooledio.NewBufferPool(256)

func encode(v any) ([]byte, error) {
	buf := encodeBufPool.Get()
	defer encodeBufPool.Put(buf)
	if err := cbor.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decode(data []byte, out any) error { return cbor.Unmarshal(data, out) }

// statusOf turns a Go error into the wire Status, nil on success.
func statusOf(err error) *poolerrors.Status {
	if err == nil {
		return nil
	}
	if s, ok := err.(*poolerrors.Status); ok {
		return s
	}
	return poolerrors.NewTransportError(err)
}

func errorOf(s *poolerrors.Status) error {
	if s == nil {
		return nil
	}
	return s
}

type getLocalRequest struct {
	Owner  ref.WorkerID
	ID     ref.LocalID
	Remote bool
}

type getLocalResponse struct {
	Data   []byte
	IsFile bool
	FRef   ref.FRef
	Err    *poolerrors.Status
}

type putRequest struct {
	Data           []byte
	File           string
	Size           int64
	DestroyOnEvict bool
}

// rawDRef carries a DRef's identity as plain fields, not a ref.DRef — a
// ref.DRef decoded straight off the wire runs its UnmarshalCBOR hook, which
// fans the ref out to the active registry as though it had just been
// materialized. That fan-out is exactly right for a DRef embedded inside a
// caller's own payload, but control frames like putResponse and
// refNotifyFrame only ever carry a DRef's identity for bookkeeping the
// caller decides how to apply — they must not trigger the hook as a side
// effect of decoding the wire response. See getLocalRequest above for the
// same reasoning applied to a DRef's constituent fields.
type rawDRef struct {
	Owner ref.WorkerID
	ID    ref.LocalID
	Size  int64
}

func (r rawDRef) dref() ref.DRef { return ref.DRef{Owner: r.Owner, ID: r.ID, Size: r.Size} }

func rawOf(d ref.DRef) rawDRef { return rawDRef{Owner: d.Owner, ID: d.ID, Size: d.Size} }

type putResponse struct {
	DRef rawDRef
	Err  *poolerrors.Status
}

type setDestroyOnEvictRequest struct {
	ID   ref.LocalID
	Flag bool
}

type statusOnlyResponse struct {
	Err *poolerrors.Status
}

type diskPathRequest struct {
	ID           ref.LocalID
	Path         string
	KeepInMemory bool
}

type frefResponse struct {
	FRef ref.FRef
	Err  *poolerrors.Status
}

type deleteFromDiskRequest struct {
	Path string
}

type deleteRequest struct {
	ID ref.LocalID
}

type wrkrIPsResponse struct {
	Topology map[string][]ref.WorkerID
	Err      *poolerrors.Status
}

type externalIPRequest struct {
	Worker ref.WorkerID
}

type externalIPResponse struct {
	IP  string
	Err *poolerrors.Status
}

type refNotifyFrame struct {
	Kind string // "ref", "unref", or "whohasread"
	DRef rawDRef
	From ref.WorkerID
	File string // set only for "whohasread"
}

type fetchFileRequest struct {
	Path string
}

type fetchFileResponse struct {
	Data []byte
	Err  *poolerrors.Status
}
