//go:build !nocgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName is the database/sql driver registered for this build. The cgo
// build uses mattn/go-sqlite3; the nocgo build (driver_nocgo.go) swaps in
// modernc.org/sqlite for cross-compiled/CGO-disabled environments.
const driverName = "sqlite3"
