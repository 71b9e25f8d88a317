// Package store defines the persistence contracts of the service: the import
// progress tracker and the read-only repositories behind the HTTP API.
// Implementations live under internal/storage; this package must not import
// database drivers or concrete clients.
package store
