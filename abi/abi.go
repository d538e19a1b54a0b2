package abi

// Version is the contract version this runtime speaks.
const Version uint32 = 2

// Supported version range. A module whose abi-version probe returns a value
// outside this range is rejected at load time.
const (
	MinSupportedVersion uint32 = 1
	MaxSupportedVersion uint32 = Version
)

// StateBlobVersion tags serialized state blobs so deserialize-state can
// reject layouts it does not understand.
const StateBlobVersion uint32 = 1

// Status is the scalar result every boundary call returns.
type Status uint32

const (
	StatusOK Status = iota
	StatusError
	StatusInvalidArgument
	StatusStaleTarget
	StatusWarning
	StatusTimeout
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusInvalidArgument:
		return "invalid_argument"
	case StatusStaleTarget:
		return "stale_target"
	case StatusWarning:
		return "warning"
	case StatusTimeout:
		return "timeout"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// OK reports whether the status is a success (warnings count as success).
func (s Status) OK() bool {
	return s == StatusOK || s == StatusWarning
}

// Exports every script module must provide.
const (
	ExportAbiVersion = "abi-version"
	ExportInit       = "script-init"
	ExportUpdate     = "script-update"
	ExportShutdown   = "script-shutdown"
)

// Optional exports. SerializeState, DeserializeState, and StateAlloc form a
// group: state transfer is available only when all three resolve, otherwise
// migration falls back to the host-persisted store.
const (
	ExportSerializeState   = "serialize-state"
	ExportDeserializeState = "deserialize-state"
	ExportStateAlloc       = "state-alloc"
	ExportHealthCheck      = "health-check"
	ExportOnSignal         = "on-signal"
)

// RequiredExports lists exports whose absence fails the whole load.
var RequiredExports = []string{
	ExportAbiVersion,
	ExportInit,
	ExportUpdate,
	ExportShutdown,
}

// OptionalExports lists exports resolved individually; absence is not an
// error and callers must check for nil.
var OptionalExports = []string{
	ExportSerializeState,
	ExportDeserializeState,
	ExportStateAlloc,
	ExportHealthCheck,
	ExportOnSignal,
}

// HostModule is the import module name under which the host jump table is
// linked into every script.
const HostModule = "hotscript:host"

// Host jump table function names, one enqueue call per event kind plus
// time queries and logging.
const (
	HostSpawn           = "spawn"
	HostDespawn         = "despawn"
	HostSetTransform    = "set-transform"
	HostTranslate       = "translate"
	HostAddComponent    = "add-component"
	HostRemoveComponent = "remove-component"
	HostEmitSignal      = "emit-signal"
	HostConnectSignal   = "connect-signal"
	HostLog             = "log"
	HostGetDeltaTime    = "get-delta-time"
	HostGetTime         = "get-time"
	HostStateSet        = "state-set"
	HostStateGet        = "state-get"
)

// ContractWIT is the signature text for every script export. The loader
// flattens these to core-wasm signatures and validates resolved exports
// against them. Instance ids and entity handles travel as u64; blobs as
// (ptr: u32, len: u32) into the module's linear memory.
const ContractWIT = `
abi-version: func() -> u32;
script-init: func(instance: u64) -> u32;
script-update: func(instance: u64, dt: f32);
script-shutdown: func(instance: u64);
serialize-state: func(instance: u64) -> u64;
deserialize-state: func(instance: u64, ptr: u32, len: u32) -> u32;
state-alloc: func(len: u32) -> u32;
health-check: func() -> u32;
on-signal: func(instance: u64, signal: u32);
`
