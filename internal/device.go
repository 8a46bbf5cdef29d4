package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// FingerprintSize is the number of hash bytes kept in a device fingerprint.
const FingerprintSize = 16

// Fingerprint derives the device binding value from the client user agent and
// device id. Absent values are passed as empty strings. The result is the hex
// encoding of the first 16 bytes of SHA-256(userAgent + "|" + deviceID).
func Fingerprint(userAgent, deviceID string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + deviceID))
	return hex.EncodeToString(sum[:FingerprintSize])
}
