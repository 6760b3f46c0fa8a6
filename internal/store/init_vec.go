//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension with the go-sqlite3 driver so the
	// vec0 virtual table module is available to every new connection.
	vec.Auto()
}
