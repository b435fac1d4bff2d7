package mempool

import "xiaoshiai.cn/mempool/units"

// Options configures a Pool. Register onto a pflag.FlagSet with
// config.RegisterFlags(fs, "", &options) and load with config.Parse(fs).
type Options struct {
	// Listen is the address this worker's peer RPC server binds.
	Listen string `json:"listen,omitempty" description:"address to serve peer RPC and notifications on, e.g. :7070"`
	// SelfHost is this worker's externally reachable IP, used as FRef.Host
	// for payloads spilled here and to detect the self-host fast path in
	// deref.Engine. Left empty, it is derived from Listen.
	SelfHost string `json:"selfHost,omitempty" description:"externally reachable IP for this worker, derived from listen if empty"`
	// Session is the process-stable identifier used in the spill
	// directory name .mempool/<session>-<worker>. Left empty, a UUID is
	// generated at startup.
	Session string `json:"session,omitempty" description:"stable session id used in the spill directory name, generated if empty"`
	// SpillDir is the root directory spilled files are written under.
	SpillDir string `json:"spillDir,omitempty" description:"root directory for spilled payloads"`
	// MaxMemSize bounds the destroy_on_evict working set tracked by the
	// LRU eviction policy; 0 disables the bound.
	MaxMemSize int64 `json:"maxMemsize,omitempty" description:"advisory byte cap for the destroy-on-evict LRU eviction policy, 0 disables it"`
	// SpillToDisk makes the LRU eviction policy move an evicted
	// destroy_on_evict entry to disk instead of destroying it. Entries
	// without destroy_on_evict are not tracked by the policy and are never
	// spilled under memory pressure.
	SpillToDisk bool `json:"spillToDisk,omitempty" description:"move evicted destroy-on-evict refs to disk instead of destroying them"`
	// EnableWhoHasRead turns on the advisory who_has_read registry update
	// after materializing a DRef from an FRef's file.
	EnableWhoHasRead bool `json:"enableWhoHasRead,omitempty" description:"report file-to-dref materializations to the coordinator's who_has_read registry"`
	// EnableRandomFRefServe controls LocalityResolver's candidate
	// selection: all co-located workers vs. only the lowest worker id.
	EnableRandomFRefServe bool `json:"enableRandomFRefServe,omitempty" description:"serve FRef file reads from any co-located worker at random, not just the lowest id"`
	// Peers lists every worker in the cluster as "id=host:port", including
	// this worker. Worker id 1 is the coordinator by convention.
	Peers []string `json:"peers,omitempty" description:"cluster peers as id=host:port, e.g. 1=10.0.0.1:7070"`
	// Self is this worker's own id, must appear in Peers. uint16 (not
	// ref.WorkerID's uint32) so config.RegisterFlags's reflect-driven
	// pflag registration recognizes the field's Go type directly.
	Self uint16 `json:"self,omitempty" description:"this worker's id, must be a key in peers"`
}

// NewOptions returns the documented defaults.
func NewOptions() *Options {
	return &Options{
		Listen:                ":7070",
		SpillDir:              ".mempool",
		MaxMemSize:            512 * units.MB,
		SpillToDisk:           false,
		EnableWhoHasRead:      true,
		EnableRandomFRefServe: true,
		Self:                  1,
	}
}
