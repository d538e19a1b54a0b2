package abi

// EventKind identifies the type of a queued mutation request.
type EventKind uint8

const (
	EventSpawn EventKind = iota
	EventDespawn
	EventSetTransform
	EventTranslate
	EventAddComponent
	EventRemoveComponent
	EventEmitSignal
	EventLog
)

func (k EventKind) String() string {
	switch k {
	case EventSpawn:
		return "spawn"
	case EventDespawn:
		return "despawn"
	case EventSetTransform:
		return "set_transform"
	case EventTranslate:
		return "translate"
	case EventAddComponent:
		return "add_component"
	case EventRemoveComponent:
		return "remove_component"
	case EventEmitSignal:
		return "emit_signal"
	case EventLog:
		return "log"
	default:
		return "unknown"
	}
}

// MaxComponentData bounds the per-event component payload. Larger blobs are
// rejected at enqueue with StatusInvalidArgument.
const MaxComponentData = 256

// SpawnPayload carries the provisional handle assigned at enqueue time.
// The handle resolves to a real entity when the event is applied.
type SpawnPayload struct {
	Provisional uint64
}

// TransformPayload is a full transform write: last-writer-wins within a
// drain batch.
type TransformPayload struct {
	Position [3]float32
	Rotation [3]float32
	Scale    [3]float32
}

// TranslatePayload is a relative position delta.
type TranslatePayload struct {
	Delta [3]float32
}

// ComponentPayload carries an add-component or remove-component request.
// Data is copied out of script memory at enqueue time; it never aliases
// the module's linear memory after the host call returns.
type ComponentPayload struct {
	Data   []byte
	TypeID uint32
}

// SignalPayload names a signal to fan out at the next phase boundary.
type SignalPayload struct {
	Name string
}

// LogLevel mirrors the host logger's levels across the boundary.
type LogLevel uint32

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

// LogPayload carries a script log line. Message is copied at enqueue.
type LogPayload struct {
	Message string
	Level   LogLevel
}
