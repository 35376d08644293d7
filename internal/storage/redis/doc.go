// Package redis provides the shared Redis client used by the bridge and a
// hash-backed store for persisted extension settings.
package redis
