// Package context holds the objects shared by the app and cli packages while
// a command runs: I/O streams, filesystem, clock, configuration, and the
// database and migrations, which commands initialize lazily.
package context
