package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jangala-dev/inu/errcode"
)

// Settings is the common surface every device-type-specific settings
// record carries (spec.md §3): every variant inherits these, plus
// type-specific fields of its own.
type Settings interface {
	// Base returns the fields common to every variant.
	Base() BaseSettings
	// Validate rejects an invalid record rather than silently coercing
	// it (spec.md §3: "invalid records are rejected, not silently
	// coerced").
	Validate() error
}

// BaseSettings is embedded by every concrete settings type.
type BaseSettings struct {
	HeartbeatIntervalSeconds int    `json:"heartbeat_interval"`
	ListenSubjects           string `json:"listen_subjects"`
	CooldownTimeMs           int    `json:"cooldown_time_ms,omitempty"`
}

// Validate checks the fields every settings variant inherits.
func (b BaseSettings) Validate() error {
	if b.HeartbeatIntervalSeconds < 1 || b.HeartbeatIntervalSeconds > 60 {
		return &errcode.E{C: errcode.Malformed, Op: "settings.Validate", Msg: "heartbeat_interval must be in 1..60"}
	}
	if b.CooldownTimeMs < 0 {
		return &errcode.E{C: errcode.Malformed, Op: "settings.Validate", Msg: "cooldown_time_ms must be >= 0"}
	}
	return nil
}

// ListenSubjectList splits the space-delimited listen_subjects field.
func (b BaseSettings) ListenSubjectList() []string {
	if strings.TrimSpace(b.ListenSubjects) == "" {
		return nil
	}
	return strings.Fields(b.ListenSubjects)
}

// Decoder decodes and validates a raw settings payload for one device
// type. Registered constructors return a typed Settings or an error;
// decode failures are Malformed, never silently coerced.
type Decoder func(raw []byte) (Settings, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Decoder{}
)

// Register installs the decoder used for settings.<device_id> payloads
// where device type == typ. Mirrors the teacher's capability-builder
// registry: one constructor per discriminant, panics on duplicate
// registration (a programming error, not a runtime one).
func Register(typ string, d Decoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[typ]; exists {
		panic(fmt.Sprintf("device: duplicate settings decoder for type %q", typ))
	}
	registry[typ] = d
}

// Decode looks up the decoder for deviceType and runs it over raw,
// validating the result. An unregistered type is UnsupportedDeviceType.
func Decode(deviceType string, raw []byte) (Settings, error) {
	registryMu.RLock()
	d, ok := registry[deviceType]
	registryMu.RUnlock()
	if !ok {
		return nil, &errcode.E{C: errcode.UnsupportedDeviceType, Op: "device.Decode", Msg: deviceType}
	}
	s, err := d(raw)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// DecodeJSON is a small helper concrete Decoders use to unmarshal into T
// and wrap decode errors as Malformed.
func DecodeJSON[T any](raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &errcode.E{C: errcode.Malformed, Op: "device.DecodeJSON", Err: err}
	}
	return &v, nil
}
