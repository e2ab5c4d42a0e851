// Package buildinfo reports the version stamped into penf-chat binaries.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// These vars are set at build time via ldflags:
// -X github.com/otherjamesbrown/penf-chat/pkg/buildinfo.Version=v0.3.0
// -X github.com/otherjamesbrown/penf-chat/pkg/buildinfo.Commit=4e1c9a2
// -X github.com/otherjamesbrown/penf-chat/pkg/buildinfo.BuildTime=2026-10-01T09:00:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// ServiceName identifies the mention service in version payloads.
const ServiceName = "penf-chat"

// Info holds build information for a service.
type Info struct {
	ServiceName string `json:"service_name" yaml:"service_name"`
	Version     string `json:"version" yaml:"version"`
	Commit      string `json:"commit" yaml:"commit"`
	BuildTime   string `json:"build_time" yaml:"build_time"`
	GoVersion   string `json:"go_version" yaml:"go_version"`
}

// Get returns build info for the named service.
func Get(serviceName string) Info {
	return Info{
		ServiceName: serviceName,
		Version:     Version,
		Commit:      Commit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
	}
}

// String returns a one-liner like "v0.3.0 (4e1c9a2, 2026-10-01T09:00:00Z)".
func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}

// Handler serves build info as JSON.
func Handler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Get(serviceName))
	}
}
