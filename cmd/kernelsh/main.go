// Command kernelsh is an interactive shell over the kernel core: each
// line is a command dispatched through internal/kcli. Process commands call
// the internal/kernel methods and file commands call the vfs.Namespace
// methods a forked child thread would use, exercising the core end to end;
// mount9p links the 9P root into the tree with the directory's own Link op.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/sandia-minimega/minimega/internal/hal"
	"github.com/sandia-minimega/minimega/internal/hostmem"
	"github.com/sandia-minimega/minimega/internal/kcli"
	"github.com/sandia-minimega/minimega/internal/kernel"
	"github.com/sandia-minimega/minimega/internal/klog"
	"github.com/sandia-minimega/minimega/internal/ninepfs"
	"github.com/sandia-minimega/minimega/internal/tmpfs"
	"github.com/sandia-minimega/minimega/internal/vfs"
)

var (
	logLevel   = flag.String("level", "info", "log level: debug, info, warn, error, fatal")
	memFraction = flag.Float64("mem", 0.1, "fraction of host memory to simulate as physical frames")
)

// shell binds a Registry to the kernel process/thread the command loop
// itself runs as, so commands can call kernel syscalls directly.
type shell struct {
	k       *kernel.Kernel
	proc    *kernel.Process
	thr     *kernel.Thread
	ninep   *ninepfs.FS
	reg     *kcli.Registry
	curPath string
}

func main() {
	flag.Parse()

	level, err := klog.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	klog.AddLogger("stderr", os.Stderr, level)

	frames := hostmem.FramesAvailable(hal.PageSize, *memFraction)
	if frames == 0 {
		frames = hostmem.DefaultFrames
	}
	alloc := hal.NewSimFrameAllocator(int(frames))

	rootFS := tmpfs.New(alloc)
	root := rootFS.NewRoot()

	ninepFS, err := ninepfs.New(alloc)
	if err != nil {
		klog.Fatal("kernelsh: mounting 9p filesystem: %v", err)
	}

	sh := &shell{ninep: ninepFS, curPath: "/"}

	// The shell's own command loop becomes init's thread body: commands
	// run as kernel code on behalf of pid 1, exactly like any other
	// syscall caller. Boot's init goroutine runs repl() to completion, so
	// main() blocks on done rather than racing its own exit against it.
	done := make(chan struct{})
	_, _, err = kernel.Boot(alloc, root, func(k *kernel.Kernel, t *kernel.Thread, a, b interface{}) {
		sh.k = k
		sh.proc = t.Proc
		sh.thr = t
		sh.reg = newRegistry(sh)
		sh.repl()
		close(done)
	})
	if err != nil {
		klog.Fatal("kernelsh: boot: %v", err)
	}

	<-done
}

func (sh *shell) repl() {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("kernelsh -- type 'help' for a command list, 'exit' to quit")

	for {
		input, err := line.Prompt(fmt.Sprintf("kernel:%s$ ", sh.curPath))
		if err == io.EOF || err == liner.ErrPromptAborted {
			break
		}
		if err != nil {
			klog.Error("kernelsh: reading input: %v", err)
			break
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.TrimSpace(input) == "exit" || strings.TrimSpace(input) == "quit" {
			break
		}

		out, err := sh.reg.Dispatch(input)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if out != "" {
			fmt.Print(out)
		}
	}
}

func newRegistry(sh *shell) *kcli.Registry {
	r := kcli.New()

	must := func(h *kcli.Handler) {
		if err := r.Register(h); err != nil {
			klog.Fatal("kernelsh: registering %q: %v", h.Pattern, err)
		}
	}

	must(&kcli.Handler{Pattern: "help", HelpShort: "list commands", Call: func(a kcli.ArgMap) (string, error) {
		return r.Help(), nil
	}})

	must(&kcli.Handler{Pattern: "ps", HelpShort: "list processes", Call: sh.cmdPs})
	must(&kcli.Handler{Pattern: "ls [path]", HelpShort: "list a directory", Call: sh.cmdLs})
	must(&kcli.Handler{Pattern: "cat <path>", HelpShort: "print a file", Call: sh.cmdCat})
	must(&kcli.Handler{Pattern: "write <path>", HelpShort: "write stdin-less placeholder text to a file", Call: sh.cmdWrite})
	must(&kcli.Handler{Pattern: "mkdir <path>", HelpShort: "create a directory", Call: sh.cmdMkdir})
	must(&kcli.Handler{Pattern: "rm <path>", HelpShort: "unlink a file", Call: sh.cmdRm})
	must(&kcli.Handler{Pattern: "cd <path>", HelpShort: "change directory", Call: sh.cmdCd})
	must(&kcli.Handler{Pattern: "mount9p <path>", HelpShort: "mount the 9p filesystem at path", Call: sh.cmdMount9p})
	must(&kcli.Handler{Pattern: "fork", HelpShort: "fork the shell process", Call: sh.cmdFork})
	must(&kcli.Handler{Pattern: "kill <pid>", HelpShort: "kill a process by pid", Call: sh.cmdKill})
	must(&kcli.Handler{Pattern: "wait [pid]", HelpShort: "wait for a child to exit", Call: sh.cmdWait})
	must(&kcli.Handler{Pattern: "brk <addr>", HelpShort: "grow or shrink the heap", Call: sh.cmdBrk})

	return r
}

func (sh *shell) cmdPs(a kcli.ArgMap) (string, error) {
	var b strings.Builder
	for _, p := range sh.k.Snapshot() {
		fmt.Fprintf(&b, "%5d %-8s %s\n", p.Pid, p.State, p.Name)
	}
	return b.String(), nil
}

func (sh *shell) resolve(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	if sh.curPath == "/" {
		return "/" + path
	}
	return sh.curPath + "/" + path
}

func (sh *shell) cmdLs(a kcli.ArgMap) (string, error) {
	path := a["path"]
	if path == "" {
		path = sh.curPath
	}
	path = sh.resolve(path)

	fd, err := sh.proc.NS.Open(path, vfs.ORdOnly)
	if err != nil {
		return "", err
	}
	defer sh.proc.NS.Close(fd)

	var b strings.Builder
	var d vfs.Dirent
	for {
		n, err := sh.proc.NS.Getdent(fd, &d)
		if err != nil {
			return "", err
		}
		if n == 0 {
			break
		}
		fmt.Fprintln(&b, d.Name)
	}
	return b.String(), nil
}

func (sh *shell) cmdCat(a kcli.ArgMap) (string, error) {
	path := sh.resolve(a["path"])
	fd, err := sh.proc.NS.Open(path, vfs.ORdOnly)
	if err != nil {
		return "", err
	}
	defer sh.proc.NS.Close(fd)

	buf := make([]byte, 4096)
	var b strings.Builder
	for {
		n, err := sh.proc.NS.Read(fd, buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			break
		}
		b.Write(buf[:n])
	}
	return b.String(), nil
}

func (sh *shell) cmdWrite(a kcli.ArgMap) (string, error) {
	path := sh.resolve(a["path"])
	fd, err := sh.proc.NS.Open(path, vfs.OWrOnly|vfs.OCreat)
	if err != nil {
		return "", err
	}
	defer sh.proc.NS.Close(fd)

	_, err = sh.proc.NS.Write(fd, []byte("hello from kernelsh\n"))
	return "", err
}

func (sh *shell) cmdMkdir(a kcli.ArgMap) (string, error) {
	return "", sh.proc.NS.Mkdir(sh.resolve(a["path"]))
}

func (sh *shell) cmdRm(a kcli.ArgMap) (string, error) {
	return "", sh.proc.NS.Unlink(sh.resolve(a["path"]))
}

func (sh *shell) cmdCd(a kcli.ArgMap) (string, error) {
	path := sh.resolve(a["path"])
	if err := sh.proc.NS.Chdir(path); err != nil {
		return "", err
	}
	sh.curPath = path
	return "", nil
}

func (sh *shell) cmdMount9p(a kcli.ArgMap) (string, error) {
	path := sh.resolve(a["path"])
	parent, name, err := vfs.DirNamev(path, nil, sh.proc.NS.Cwd, sh.proc.NS.Root)
	if err != nil {
		return "", err
	}
	defer parent.Put()

	root := sh.ninep.NewRoot()
	if err := parent.Ops.Link(parent, name, root); err != nil {
		return "", err
	}
	return fmt.Sprintf("mounted 9p at %s\n", path), nil
}

func (sh *shell) cmdFork(a kcli.ArgMap) (string, error) {
	regs := &kernel.Regs{Eip: 0, Esp: 0}
	pid, err := sh.k.Fork(sh.proc, sh.thr, regs, func(k *kernel.Kernel, t *kernel.Thread, regs *kernel.Regs) {
		klog.Info("kernelsh: child pid %d running", t.Proc.Pid)
		k.Exit(t.Proc, t, 0)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("forked child pid %d\n", pid), nil
}

func (sh *shell) cmdKill(a kcli.ArgMap) (string, error) {
	pid, err := strconv.Atoi(a["pid"])
	if err != nil {
		return "", err
	}
	p := sh.k.Lookup(pid)
	if p == nil {
		return "", kernel.ECHILD
	}
	sh.k.Kill(p, 0, sh.proc, sh.thr)
	return "", nil
}

func (sh *shell) cmdWait(a kcli.ArgMap) (string, error) {
	pid := kernel.WaitAny
	if a["pid"] != "" {
		p, err := strconv.Atoi(a["pid"])
		if err != nil {
			return "", err
		}
		pid = p
	}
	childPid, status, err := sh.k.Waitpid(sh.proc, sh.thr, pid)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("pid %d exited with status %d\n", childPid, status), nil
}

func (sh *shell) cmdBrk(a kcli.ArgMap) (string, error) {
	addr, err := strconv.ParseUint(a["addr"], 0, 64)
	if err != nil {
		return "", err
	}
	newBrk, err := sh.k.DoBrk(sh.proc, uintptr(addr))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("brk now 0x%x\n", newBrk), nil
}
