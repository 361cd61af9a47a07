package context

// Environment is the interface to the process environment. CLI flags missing
// from the command line are looked up in it.
type Environment interface {
	// Lookup returns the value of the variable key, and whether it's set.
	Lookup(key string) (string, bool)
	Set(key, val string) error
}
