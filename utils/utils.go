// Package utils contains small generic helpers.
package utils

// Must panics if err is non-nil. Reserved for startup-time invariants.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
