package middleware

import (
	"net"
	"net/http"

	goRotate "github.com/MrEthical07/goRotate"
)

// DeviceIDHeader carries the client's stable device identifier.
const DeviceIDHeader = "X-Device-ID"

// DeviceFromRequest builds the device binding input from the User-Agent and
// [DeviceIDHeader] headers.
func DeviceFromRequest(r *http.Request) goRotate.DeviceInfo {
	return goRotate.DeviceInfo{
		UserAgent: r.UserAgent(),
		DeviceID:  r.Header.Get(DeviceIDHeader),
	}
}

// ClientIP stores the peer address in the request context so audit events
// carry it. Proxy headers are not trusted; put a real-IP middleware in front
// when running behind a proxy.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(goRotate.WithClientIP(r.Context(), ip)))
	})
}
