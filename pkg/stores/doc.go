// Package stores provides the schedule store for pcesched.
// Schedules, check runs and the audit trail live in SQLite (WAL mode,
// embedded migrations). A store-wide lock serializes writers against
// readers so a concurrent put or delete never tears a GetAll iteration.
package stores
