//go:build nocgo

package store

import (
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
