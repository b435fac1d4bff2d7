package mempool

import (
	reflectutil "xiaoshiai.cn/mempool/reflect"
)

// GetOption reads a field of this worker's live Options by JSON path, e.g.
// "maxMemsize" or "peers[0]" — the same path-addressed introspection an
// admin endpoint would expose read-only config under.
func (p *Pool) GetOption(jsonpath string) (any, error) {
	return reflectutil.GetFiledValue(p.opts, jsonpath)
}

// SetOption updates a field of this worker's live Options by JSON path.
// Only fields read fresh from p.opts on every use take effect immediately
// (EnableWhoHasRead is checked this way in RecordWhoHasRead); fields
// baked into a collaborator at construction time (Listen, SpillDir,
// Peers, EnableRandomFRefServe) accept the write but require a restart
// to actually change behavior.
func (p *Pool) SetOption(jsonpath string, value any) error {
	return reflectutil.SetFiledValue(p.opts, jsonpath, value)
}

// DescribeOptions flattens the live Options into dotted JSON-path keys,
// e.g. for a diagnostics dump alongside Stats.
func (p *Pool) DescribeOptions() []reflectutil.KV {
	node := reflectutil.ParseStruct(*p.opts)
	return reflectutil.ToJsonPathes("", node.Fields)
}
