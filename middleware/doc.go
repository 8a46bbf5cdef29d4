// Package middleware adapts a goRotate Engine to net/http.
//
//   - [Guard] validates the bearer access token and stores the
//     [goRotate.AuthResult] in the request context.
//   - [ClientIP] records the peer address for audit events.
//   - [DeviceFromRequest] reads the device binding input for Issue and Refresh.
//
// All token decisions are delegated to the Engine; this package only maps
// HTTP in and errors out.
package middleware
