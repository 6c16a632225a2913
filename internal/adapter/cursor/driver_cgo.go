//go:build !nocgo

package cursor

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName mirrors the store package's own cgo/nocgo driver selection -
// state.vscdb is opened read-only through the same database/sql machinery.
const driverName = "sqlite3"
