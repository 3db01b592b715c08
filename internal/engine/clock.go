package engine

import "time"

// Clock supplies the timestamps written by the engine (createAt, updateAt,
// audit and run-log times).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
