// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"encoding/hex"
)

// BytesToHex converts bytes to a hex string with 0x prefix.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
