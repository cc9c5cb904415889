// Package stores provides the persistence layer for uvfleet. It includes
// SQLite-based storage with WAL mode, connection pooling, and CRUD
// operations for reconciliation runs, per-machine tool states, and the
// grain cache.
package stores
