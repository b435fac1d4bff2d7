package mempool

import (
	"context"

	"xiaoshiai.cn/mempool/log"
	"xiaoshiai.cn/mempool/transport"
)

// Serve builds a Pool from opts and blocks serving its peer RPC and
// notification endpoints until ctx is cancelled, mirroring the teacher's
// own blocking listen-and-serve entry points. There is no cmd/ wrapping
// this — a caller that wants a standalone process calls Serve from its
// own main.
func Serve(ctx context.Context, opts *Options) error {
	p, err := New(opts)
	if err != nil {
		return err
	}
	defer p.Close()
	log.Info("mempool worker starting", "self", p.self, "listen", opts.Listen, "selfHost", p.selfHost, "session", p.session)
	return transport.ServeContext(ctx, opts.Listen, p)
}

// Dial builds a Pool that talks to the cluster described by opts without
// accepting any peer RPCs of its own — for a short-lived caller that only
// needs to Put/Get against a cluster already running elsewhere. Close the
// returned Pool when done to tear down its cached peer connections.
func Dial(opts *Options) (*Pool, error) {
	return New(opts)
}
