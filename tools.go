//go:build tools
// +build tools

// Package tools pins Go-based tools invoked via `go generate` (mockgen)
// as module dependencies.
package chat_relay

import (
	_ "go.uber.org/mock/mockgen"
)
