// Package kassert implements the invariant-checking assertions the kernel
// core relies on. A failed assertion is a programming error, not a user
// error, so it panics rather than returning one of kernel.Errno.
package kassert

import "fmt"

// True panics with the formatted message if cond is false.
func True(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
