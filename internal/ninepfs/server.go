// Package ninepfs is the second concrete vnode driver spec.md §1 leaves as
// an external collaborator: a 9P-shaped filesystem built on
// github.com/Harvey-OS/ninep's protocol package: its NineServer interface,
// its FID/QID/Dir/Mode/Perm vocabulary, and protocol.NewServer. The raw
// wire marshal/dispatch layer (SrvRwalk and friends) is not used. Server
// below implements
// protocol.NineServer directly against an in-memory file tree and is
// driven in-process by FS (ninepfs.go) rather than over a real socket --
// still a genuine 9P server in the sense that matters here: fid-addressed
// attach/walk/open/create/read/write/clunk/remove/stat semantics.
package ninepfs

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/Harvey-OS/ninep/protocol"

	"github.com/sandia-minimega/minimega/internal/kerrno"
)

// node is one entry in the in-memory tree: a directory (children) or a
// regular file (data).
type node struct {
	mu       sync.Mutex
	name     string
	dir      bool
	children map[string]*node
	data     []byte
	qidPath  uint64
}

var nextQIDPath uint64
var qidMu sync.Mutex

func allocQIDPath() uint64 {
	qidMu.Lock()
	defer qidMu.Unlock()
	nextQIDPath++
	return nextQIDPath
}

func newDir(name string) *node {
	return &node{name: name, dir: true, children: map[string]*node{}, qidPath: allocQIDPath()}
}

func newFile(name string) *node {
	return &node{name: name, qidPath: allocQIDPath()}
}

func (n *node) qid() protocol.QID {
	var typ uint8
	if n.dir {
		typ = protocol.QTDIR
	}
	return protocol.QID{Type: typ, Path: n.qidPath}
}

// Server implements protocol.NineServer over the in-memory tree rooted at
// root. Every attach/walk/create/remove call is guarded by a single
// mutex: spec.md's "one kernel thread runs at a time" model means there
// is never real concurrent access from this core's own callers, but the
// lock keeps the server correct if ever driven by more than one.
type Server struct {
	mu   sync.Mutex
	root *node
	fids map[protocol.FID]*node
}

// NewServer creates a ninep server with a single empty root directory.
func NewServer() *Server {
	return &Server{root: newDir(""), fids: map[protocol.FID]*node{}}
}

func (s *Server) Rversion(msize protocol.MaxSize, version string) (protocol.MaxSize, string, error) {
	return msize, version, nil
}

func (s *Server) Rattach(fid, afid protocol.FID, uname, aname string) (protocol.QID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fids[fid] = s.root
	return s.root.qid(), nil
}

func (s *Server) Rwalk(fid, newfid protocol.FID, names []string) ([]protocol.QID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.fids[fid]
	if !ok {
		return nil, kerrno.EBADF
	}

	qids := make([]protocol.QID, 0, len(names))
	for _, name := range names {
		if !cur.dir {
			return qids, kerrno.ENOTDIR
		}
		next, ok := cur.children[name]
		if !ok {
			return qids, kerrno.ENOENT
		}
		cur = next
		qids = append(qids, cur.qid())
	}

	s.fids[newfid] = cur
	return qids, nil
}

func (s *Server) Ropen(fid protocol.FID, mode protocol.Mode) (protocol.QID, protocol.MaxSize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.fids[fid]
	if !ok {
		return protocol.QID{}, 0, kerrno.EBADF
	}
	return n.qid(), protocol.MaxSize(protocol.MSIZE), nil
}

func (s *Server) Rcreate(fid protocol.FID, name string, perm protocol.Perm, mode protocol.Mode) (protocol.QID, protocol.MaxSize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, ok := s.fids[fid]
	if !ok {
		return protocol.QID{}, 0, kerrno.EBADF
	}
	if !dir.dir {
		return protocol.QID{}, 0, kerrno.ENOTDIR
	}
	if _, exists := dir.children[name]; exists {
		return protocol.QID{}, 0, kerrno.EEXIST
	}

	var n *node
	if perm&protocol.Perm(protocol.DMDIR) != 0 {
		n = newDir(name)
	} else {
		n = newFile(name)
	}
	dir.children[name] = n
	s.fids[fid] = n
	return n.qid(), protocol.MaxSize(protocol.MSIZE), nil
}

func (s *Server) Rclunk(fid protocol.FID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fids, fid)
	return nil
}

func (s *Server) Rremove(fid protocol.FID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.fids[fid]
	delete(s.fids, fid)
	if !ok {
		return kerrno.EBADF
	}
	if n.dir && len(n.children) > 0 {
		return kerrno.ENOTEMPTY
	}

	// detach n from whichever directory holds it
	stack := []*node{s.root}
	for len(stack) > 0 {
		d := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for name, c := range d.children {
			if c == n {
				delete(d.children, name)
				return nil
			}
			if c.dir {
				stack = append(stack, c)
			}
		}
	}
	return nil
}

func (s *Server) Rread(fid protocol.FID, offset protocol.Offset, count protocol.Count) ([]byte, error) {
	s.mu.Lock()
	n, ok := s.fids[fid]
	s.mu.Unlock()
	if !ok {
		return nil, kerrno.EBADF
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.dir {
		return s.readdirEntry(n, int(offset))
	}

	off := int(offset)
	if off >= len(n.data) {
		return nil, nil
	}
	end := off + int(count)
	if end > len(n.data) {
		end = len(n.data)
	}
	return n.data[off:end], nil
}

// readdirEntry implements directory reads as one gob-encoded Dirent per
// call, indexed by offset -- a deliberate simplification of 9P's real
// concatenated-stat-blob directory format, which this vendored snapshot
// has no generated marshal code to produce (see the package doc comment).
func (s *Server) readdirEntry(n *node, idx int) ([]byte, error) {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}

	if idx >= len(names) {
		return nil, nil
	}

	child := n.children[names[idx]]
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(Dirent{Name: child.name, QID: child.qid(), Dir: child.dir}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Dirent is the gob-encoded payload Rread returns for a directory offset.
type Dirent struct {
	Name string
	QID  protocol.QID
	Dir  bool
}

func (s *Server) Rwrite(fid protocol.FID, offset protocol.Offset, data []byte) (protocol.Count, error) {
	s.mu.Lock()
	n, ok := s.fids[fid]
	s.mu.Unlock()
	if !ok {
		return 0, kerrno.EBADF
	}
	if n.dir {
		return 0, kerrno.EISDIR
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	end := int(offset) + len(data)
	if end > len(n.data) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[offset:end], data)
	return protocol.Count(len(data)), nil
}

// StatBlob is the gob-encoded payload Rstat/Rwstat exchange, standing in
// for the wire-format stat(3) blob the generated marshal code would
// otherwise produce (see package doc comment).
type StatBlob struct {
	Dir protocol.Dir
}

func (s *Server) Rstat(fid protocol.FID) ([]byte, error) {
	s.mu.Lock()
	n, ok := s.fids[fid]
	s.mu.Unlock()
	if !ok {
		return nil, kerrno.EBADF
	}

	n.mu.Lock()
	d := protocol.Dir{
		QID:    n.qid(),
		Name:   n.name,
		Length: uint64(len(n.data)),
	}
	if n.dir {
		d.Mode = protocol.DMDIR
	}
	n.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(StatBlob{Dir: d}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) Rwstat(fid protocol.FID, data []byte) error {
	s.mu.Lock()
	n, ok := s.fids[fid]
	s.mu.Unlock()
	if !ok {
		return kerrno.EBADF
	}

	var blob StatBlob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blob); err != nil {
		return kerrno.EINVAL
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.dir {
		if int(blob.Dir.Length) < len(n.data) {
			n.data = n.data[:blob.Dir.Length]
		} else if int(blob.Dir.Length) > len(n.data) {
			grown := make([]byte, blob.Dir.Length)
			copy(grown, n.data)
			n.data = grown
		}
	}
	return nil
}

func (s *Server) Rflush(otag protocol.Tag) error { return nil }

func decodeDirent(raw []byte, out *Dirent) error {
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(out)
}

func decodeStat(raw []byte, out *StatBlob) error {
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(out)
}
