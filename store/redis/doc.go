// Package redis implements store.Store on Redis. Jobs are Hashes, every
// status of every type has a Sorted Set index, and state changes run as
// Lua scripts so claims and compare-and-set transitions are atomic.
// Map-valued fields are msgpack encoded. Changes are published on a
// Pub/Sub channel per job type.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Migrate(ctx); err != nil { ... }
package redis
