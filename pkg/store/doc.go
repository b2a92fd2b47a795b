// Package store provides expiring key-value storage for authentication
// token records.
//
// # Overview
//
// Token records are stored under their token value with a time-to-live and
// indexed by owning email so that all records for a principal can be revoked
// in one call. Two backends are provided:
//
//   - RedisStore: Redis-backed storage using go-redis, suitable for
//     multi-instance deployments. Expiry events are derived from Redis
//     keyspace notifications using a phantom-copy key that outlives the
//     live record.
//   - MemoryStore: mutex-guarded in-process storage with timer-based
//     eviction, used in tests and single-node setups.
//
// Both backends emit an ExpiredRecord to registered subscribers when a
// record's TTL elapses. ExpiredRecord is a tagged union over the record
// kinds the store holds; consumers dispatch on its Kind field.
//
// Store unavailability (network failure, timeout) is reported as
// ErrUnavailable and is never conflated with ErrNotFound: callers must be
// able to distinguish "token revoked or expired" from "storage unreachable".
package store
