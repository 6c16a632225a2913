//go:build nocgo

package cursor

import (
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
