package vm

import (
	"sync"

	"github.com/sandia-minimega/minimega/internal/hal"
	"github.com/sandia-minimega/minimega/internal/kerrno"
)

// MMObj is the memory-object vtable from spec.md §3/§4.D: a
// reference-counted source of page contents, one of Anon (zero-fill),
// File (filesystem-backed), or Shadow (copy-on-write).
type MMObj interface {
	Ref()
	Put()
	LookupPage(pagenum int, forwrite bool) (*hal.Frame, error)
	FillPage(pagenum int) (*hal.Frame, error)
	DirtyPage(pagenum int)
	CleanPage(pagenum int)

	Refcount() int
	ResidentPages() int

	// BottomObj returns the terminal (non-shadow) object of the chain
	// this object belongs to -- itself, for Anon and File.
	BottomObj() MMObj
}

// FileBacking is implemented by a vnode (internal/vfs) to supply the
// backing of a file-mapped Vmarea. It is the "mmap" entry of spec.md's
// vnode vtable, expressed without vm importing vfs.
type FileBacking interface {
	// Mmap produces (or returns the cached) mmobj backing this vnode.
	Mmap() (MMObj, error)
}

// PageReader/PageWriter let a File mmobj pull/push page contents through
// the owning vnode without vm depending on vfs.
type PageReader func(pagenum int, buf []byte) (n int, err error)
type PageWriter func(pagenum int, buf []byte) error

type baseObj struct {
	mu       sync.Mutex
	refcount int
	resident map[int]*hal.Frame
	// vmas is the weak back-index of PRIVATE vmareas transitively
	// shadowing this object. Only meaningful when this object serves as
	// a chain's bottom object (spec.md §9 "Cyclic ownership").
	vmas  map[interface{}]struct{}
	alloc hal.FrameAllocator
}

func newBase(alloc hal.FrameAllocator) baseObj {
	return baseObj{
		resident: map[int]*hal.Frame{},
		vmas:     map[interface{}]struct{}{},
		alloc:    alloc,
	}
}

func (b *baseObj) Ref() {
	b.mu.Lock()
	b.refcount++
	b.mu.Unlock()
}

func (b *baseObj) Refcount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refcount
}

func (b *baseObj) ResidentPages() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.resident)
}

func (b *baseObj) residentFrame(pagenum int) (*hal.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.resident[pagenum]
	return f, ok
}

// pframeGet is the generic "get or fill" primitive every mmobj's
// LookupPage ultimately calls: return the resident frame for pagenum, or
// call fill to produce (and cache) one. Each cached page adds one to the
// object's refcount.
func (b *baseObj) pframeGet(pagenum int, fill func(int) (*hal.Frame, error)) (*hal.Frame, error) {
	if f, ok := b.residentFrame(pagenum); ok {
		return f, nil
	}

	f, err := fill(pagenum)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if existing, ok := b.resident[pagenum]; ok {
		b.mu.Unlock()
		return existing, nil
	}
	b.resident[pagenum] = f
	b.refcount++
	b.mu.Unlock()

	return f, nil
}

func (b *baseObj) dirty(pagenum int) {
	if f, ok := b.residentFrame(pagenum); ok {
		f.Lock()
		f.Dirty = true
		f.Unlock()
	}
}

func (b *baseObj) clean(pagenum int) {
	if f, ok := b.residentFrame(pagenum); ok {
		f.Lock()
		f.Dirty = false
		f.Unlock()
	}
}

// unreachable implements the termination rule of spec.md §4.D/§8:
// refcount == resident_pages means every remaining reference is a
// self-reference from a cached page, so the object can be torn down.
func (b *baseObj) unreachable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refcount == len(b.resident)
}

func (b *baseObj) freeAllResident() {
	b.mu.Lock()
	frames := b.resident
	b.resident = map[int]*hal.Frame{}
	b.refcount -= len(frames)
	b.mu.Unlock()

	for _, f := range frames {
		b.alloc.FreePage(f)
	}
}

func (b *baseObj) addVMA(v interface{}) {
	b.mu.Lock()
	b.vmas[v] = struct{}{}
	b.mu.Unlock()
}

func (b *baseObj) removeVMA(v interface{}) {
	b.mu.Lock()
	delete(b.vmas, v)
	b.mu.Unlock()
}

// --- Anon ---------------------------------------------------------------

// AnonObj fills new pages with zero; it is always terminal in a chain.
type AnonObj struct {
	baseObj
}

func NewAnon(alloc hal.FrameAllocator) *AnonObj {
	return &AnonObj{baseObj: newBase(alloc)}
}

func (a *AnonObj) Put() {
	a.mu.Lock()
	a.refcount--
	a.mu.Unlock()

	if a.unreachable() {
		a.freeAllResident()
	}
}

func (a *AnonObj) BottomObj() MMObj { return a }

func (a *AnonObj) FillPage(pagenum int) (*hal.Frame, error) {
	f, err := a.alloc.AllocPage()
	if err != nil {
		return nil, kerrno.ENOMEM
	}
	return f, nil
}

func (a *AnonObj) LookupPage(pagenum int, forwrite bool) (*hal.Frame, error) {
	return a.pframeGet(pagenum, a.FillPage)
}

func (a *AnonObj) DirtyPage(pagenum int) { a.dirty(pagenum) }
func (a *AnonObj) CleanPage(pagenum int) { a.clean(pagenum) }

// --- File-backed ----------------------------------------------------------

// FileObj is supplied by a filesystem (internal/vfs vnode); it is terminal.
type FileObj struct {
	baseObj
	read  PageReader
	write PageWriter
}

func NewFile(alloc hal.FrameAllocator, read PageReader, write PageWriter) *FileObj {
	return &FileObj{baseObj: newBase(alloc), read: read, write: write}
}

func (f *FileObj) Put() {
	f.mu.Lock()
	f.refcount--
	f.mu.Unlock()

	if f.unreachable() {
		f.freeAllResident()
	}
}

func (f *FileObj) BottomObj() MMObj { return f }

func (f *FileObj) FillPage(pagenum int) (*hal.Frame, error) {
	frame, err := f.alloc.AllocPage()
	if err != nil {
		return nil, kerrno.ENOMEM
	}
	if f.read != nil {
		if _, err := f.read(pagenum, frame.Data); err != nil {
			f.alloc.FreePage(frame)
			return nil, err
		}
	}
	return frame, nil
}

func (f *FileObj) LookupPage(pagenum int, forwrite bool) (*hal.Frame, error) {
	return f.pframeGet(pagenum, f.FillPage)
}

func (f *FileObj) DirtyPage(pagenum int) {
	f.dirty(pagenum)
	if f.write == nil {
		return
	}
	if frame, ok := f.residentFrame(pagenum); ok {
		_ = f.write(pagenum, frame.Data)
	}
}

func (f *FileObj) CleanPage(pagenum int) { f.clean(pagenum) }

// --- Shadow (copy-on-write) ------------------------------------------------

// ShadowObj has a `shadowed` pointer to another mmobj, forming a COW chain
// that terminates at `bottom`.
type ShadowObj struct {
	baseObj
	shadowed MMObj
	bottom   MMObj
}

func NewShadow(alloc hal.FrameAllocator, shadowed MMObj) *ShadowObj {
	return &ShadowObj{
		baseObj:  newBase(alloc),
		shadowed: shadowed,
		bottom:   shadowed.BottomObj(),
	}
}

func (s *ShadowObj) BottomObj() MMObj { return s.bottom }

func (s *ShadowObj) Put() {
	s.mu.Lock()
	s.refcount--
	s.mu.Unlock()

	if s.unreachable() {
		s.freeAllResident()
		s.shadowed.Put()
	}
}

// LookupPage implements the shadow contract of spec.md §4.D: reads walk
// the chain for the nearest resident frame (or delegate to the bottom
// object); writes materialize a private copy at this level via FillPage.
func (s *ShadowObj) LookupPage(pagenum int, forwrite bool) (*hal.Frame, error) {
	if !forwrite {
		var cur MMObj = s
		for {
			sh, ok := cur.(*ShadowObj)
			if !ok {
				break
			}
			if f, ok := sh.residentFrame(pagenum); ok {
				return f, nil
			}
			cur = sh.shadowed
		}
		return s.bottom.LookupPage(pagenum, false)
	}

	return s.pframeGet(pagenum, s.FillPage)
}

func (s *ShadowObj) FillPage(pagenum int) (*hal.Frame, error) {
	src, err := s.shadowed.LookupPage(pagenum, false)
	if err != nil {
		return nil, err
	}

	dst, err := s.alloc.AllocPage()
	if err != nil {
		return nil, kerrno.ENOMEM
	}
	copy(dst.Data, src.Data)
	return dst, nil
}

func (s *ShadowObj) DirtyPage(pagenum int) { s.dirty(pagenum) }
func (s *ShadowObj) CleanPage(pagenum int) { s.clean(pagenum) }

// AddVMA/RemoveVMA maintain the weak back-index of PRIVATE vmareas that
// transitively shadow this object (meaningful only when it is a bottom
// object). v is typically a *Vmarea; it is passed as interface{} to keep
// mmobj.go independent of vmarea.go's concrete type for easy testing.
func (b *baseObj) AddVMA(v interface{})    { b.addVMA(v) }
func (b *baseObj) RemoveVMA(v interface{}) { b.removeVMA(v) }
