package httpapi

import "time"

// maxBodyBytes bounds JSON request bodies. Generate requests carry base64
// images, so the default is larger than a plain JSON API would need.
var maxBodyBytes int64 = 16 << 20

// SetMaxBodyBytes sets the request body limit. Non-positive values restore
// the default.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 16 << 20
		return
	}
	maxBodyBytes = n
}

// generateTimeout bounds how long a generate request waits for its call.
// Zero means wait until the client or server goes away.
var generateTimeout time.Duration

// SetGenerateTimeoutSeconds sets the generate timeout in seconds (0 disables).
func SetGenerateTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	generateTimeout = time.Duration(sec) * time.Second
}

// eventBuffer is the per-connection event queue length on /v1/events. A
// client that falls this far behind is disconnected.
var eventBuffer = 256

// SetEventBuffer sets the per-connection event queue length.
func SetEventBuffer(n int) {
	if n <= 0 {
		n = 256
	}
	eventBuffer = n
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
