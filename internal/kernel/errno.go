package kernel

import "github.com/sandia-minimega/minimega/internal/kerrno"

// Errno re-exports the kernel core's error domain so callers outside the
// core only need to import one package for syscall error handling.
type Errno = kerrno.Errno

const (
	EBADF        = kerrno.EBADF
	EINVAL       = kerrno.EINVAL
	EMFILE       = kerrno.EMFILE
	ENOMEM       = kerrno.ENOMEM
	ENAMETOOLONG = kerrno.ENAMETOOLONG
	ENOENT       = kerrno.ENOENT
	EEXIST       = kerrno.EEXIST
	ENOTDIR      = kerrno.ENOTDIR
	EISDIR       = kerrno.EISDIR
	ENOTEMPTY    = kerrno.ENOTEMPTY
	ENXIO        = kerrno.ENXIO
	EFAULT       = kerrno.EFAULT
	ECHILD       = kerrno.ECHILD
	EINTR        = kerrno.EINTR
)
