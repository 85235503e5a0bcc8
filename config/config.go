// Package config loads the local bootstrap configuration (spec.md §6): a
// JSON document on device storage consulted only during bootstrap, never
// again once the runtime has entered LINKING.
package config

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/jangala-dev/inu/errcode"
)

// WiFi carries the device's link credentials.
type WiFi struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// NATS carries the bus server address.
type NATS struct {
	Server string `json:"server"`
}

// Local is the bootstrap document itself: device_id, nats.server,
// wifi.ssid/password, log_level, and a free-form hardware pin map whose
// shape is device-type-specific (spec.md §6), so it is left as raw JSON
// for the device-type's own settings/capability layer to decode.
type Local struct {
	DeviceID string          `json:"device_id"`
	NATS     NATS            `json:"nats"`
	WiFi     WiFi            `json:"wifi"`
	LogLevel string          `json:"log_level"`
	Hardware json.RawMessage `json:"hardware"`
}

// Load reads and validates the bootstrap document at path. Unlike the
// embedded-at-build-time lookup this is grounded on, a host binary reads
// its config from the filesystem, so encoding/json on an os.ReadFile is
// the whole loader — no code generation step stands between the document
// on disk and the struct.
func Load(path string) (*Local, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &errcode.E{C: errcode.NoConnection, Op: "config.Load", Err: err}
	}
	return Parse(raw)
}

// Parse decodes and validates raw JSON directly, for callers that already
// have the bytes (e.g. tests, or a config fetched over a provisioning
// channel rather than read from disk).
func Parse(raw []byte) (*Local, error) {
	var l Local
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, &errcode.E{C: errcode.Malformed, Op: "config.Parse", Err: err}
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Validate checks the minimum fields spec.md §6 requires are present.
func (l *Local) Validate() error {
	var missing []string
	if l.DeviceID == "" {
		missing = append(missing, "device_id")
	}
	if l.NATS.Server == "" {
		missing = append(missing, "nats.server")
	}
	if l.WiFi.SSID == "" {
		missing = append(missing, "wifi.ssid")
	}
	if l.LogLevel == "" {
		missing = append(missing, "log_level")
	}
	if len(missing) > 0 {
		return &errcode.E{C: errcode.Malformed, Op: "config.Validate", Msg: "missing required field(s): " + strings.Join(missing, ", ")}
	}
	return nil
}
