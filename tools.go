//go:build tools

package tools

// Keeps the swagger generator pinned in go.mod; run `swag init -g
// internal/api/router.go` to regenerate the API docs.
import (
	_ "github.com/swaggo/swag"
)
