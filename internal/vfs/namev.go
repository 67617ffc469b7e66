package vfs

import (
	"strings"

	"github.com/sandia-minimega/minimega/internal/kerrno"
)

const (
	MaxPathLen = 4096
	NameLen    = 255
)

// Lookup implements spec.md §4.E's lookup: delegates to the filesystem,
// returning ENOTDIR if dir isn't a directory or has no lookup op. On
// success result carries one extra reference; on error none is
// transferred. "." and ".." are the filesystem's own responsibility.
func Lookup(dir *Vnode, name string, out **Vnode) error {
	if dir == nil || !dir.IsDir() || dir.Ops == nil {
		return kerrno.ENOTDIR
	}

	v, err := dir.Ops.Lookup(dir, name)
	if err != nil {
		return err
	}
	*out = v
	return nil
}

func splitComponents(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DirNamev resolves path to its parent directory vnode (with refcount
// bumped) plus the final path component, per spec.md §4.E. base, if
// non-nil, is the starting vnode for a relative path; otherwise cwd is
// used. root anchors absolute paths and the all-slashes sentinel case.
func DirNamev(path string, base, cwd, root *Vnode) (parent *Vnode, name string, err error) {
	if path == "" {
		return nil, "", kerrno.EINVAL
	}
	if len(path) > MaxPathLen {
		return nil, "", kerrno.ENAMETOOLONG
	}

	var start *Vnode
	if path[0] == '/' {
		start = root
	} else if base != nil {
		start = base
	} else {
		start = cwd
	}

	comps := splitComponents(path)
	if len(comps) == 0 {
		root.Ref()
		return root, "", nil
	}

	dir := start
	dir.Ref()

	for i := 0; i < len(comps)-1; i++ {
		c := comps[i]
		if len(c) > NameLen {
			dir.Put()
			return nil, "", kerrno.ENAMETOOLONG
		}

		var next *Vnode
		if err := Lookup(dir, c, &next); err != nil {
			dir.Put()
			return nil, "", err
		}
		dir.Put()
		dir = next
	}

	last := comps[len(comps)-1]
	if len(last) > NameLen {
		dir.Put()
		return nil, "", kerrno.ENAMETOOLONG
	}

	return dir, last, nil
}

// OpenNamev resolves path to a target vnode, honoring O_CREAT when the
// final component doesn't exist. base anchors relative lookups (e.g. for
// nested *at-style syscalls); pass nil to resolve against cwd.
func OpenNamev(path string, flags int, base, cwd, root *Vnode) (*Vnode, error) {
	parent, name, err := DirNamev(path, base, cwd, root)
	if err != nil {
		return nil, err
	}

	if name == "" {
		// path was all slashes: parent already *is* root, with the extra
		// reference DirNamev produced.
		return parent, nil
	}

	var result *Vnode
	err = Lookup(parent, name, &result)
	if err == kerrno.ENOENT && flags&OCreat != 0 {
		result, err = parent.Ops.Create(parent, name)
	}
	parent.Put()

	if err != nil {
		return nil, err
	}
	return result, nil
}
