//go:build !linux

package tuner

// RaiseFileLimit is a no-op where process rlimits are not adjustable.
func RaiseFileLimit(n uint64) error {
	return nil
}
