package testutil

import (
	"fmt"
	"sync"
)

// SeqStrings returns a generator of "<prefix>-0001", "<prefix>-0002", ...
// Safe for concurrent use.
func SeqStrings(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%04d", prefix, n)
	}
}
