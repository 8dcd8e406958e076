// Package storage opens the database and cache connections shared by the
// grant, authorization-code and token repositories and applies their schema.
package storage

import (
	"embed"
	"time"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Driver names accepted by configuration.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

// ToMillis converts a time to the integer representation used by SQLite tables.
func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis is the inverse of ToMillis
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
