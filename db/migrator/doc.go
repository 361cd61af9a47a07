// Package migrator manages database schema migrations.
//
// Features:
//   - Migrations are identified by UUIDs and declare the migrations they
//     depend on, forming a directed acyclic graph
//   - Deterministic execution order: dependencies first, ties broken by
//     registration order
//   - Supports both forward (`up`) and rollback (`down`) migrations, and
//     migrations that explicitly refuse to be reverted
//   - Every migration runs in its own transaction, together with the update of
//     the migration history table
//   - Loads SQL migration files from a filesystem with structured naming
//     (`{uuid}-{name}.{up|down}.sql`)
//   - Executes migration plans to a target set of migrations or to the latest
//     state
package migrator
