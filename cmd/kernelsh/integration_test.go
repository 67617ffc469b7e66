package main

import (
	"bufio"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kr/pty"
)

// buildKernelsh compiles the kernelsh binary once per test run into a
// temp dir, the same "build the real binary, drive it over a pty"
// approach the launched-container shim uses for its child process.
func buildKernelsh(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "kernelsh")

	cmd := exec.Command("go", "build", "-o", bin, ".")
	cmd.Dir = "."
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("building kernelsh: %v\n%s", err, out)
	}
	return bin
}

// expect reads from r until it sees want or the deadline passes.
func expect(t *testing.T, r *bufio.Reader, want string, deadline time.Time) {
	t.Helper()
	var seen strings.Builder
	for time.Now().Before(deadline) {
		line, err := r.ReadString('\n')
		seen.WriteString(line)
		if strings.Contains(seen.String(), want) {
			return
		}
		if err != nil {
			break
		}
	}
	t.Fatalf("did not see %q in output; got %q", want, seen.String())
}

func TestKernelshSessionOverPty(t *testing.T) {
	bin := buildKernelsh(t)

	cmd := exec.Command(bin, "-level", "error")
	tty, err := pty.Start(cmd)
	if err != nil {
		t.Fatalf("starting kernelsh under a pty: %v", err)
	}
	defer tty.Close()
	defer cmd.Process.Kill()

	r := bufio.NewReader(tty)
	deadline := time.Now().Add(10 * time.Second)

	expect(t, r, "kernel:/$", deadline)

	if _, err := tty.Write([]byte("mkdir /greet\n")); err != nil {
		t.Fatal(err)
	}
	expect(t, r, "kernel:/$", deadline)

	if _, err := tty.Write([]byte("cd /greet\n")); err != nil {
		t.Fatal(err)
	}
	expect(t, r, "kernel:/greet$", deadline)

	if _, err := tty.Write([]byte("write note\n")); err != nil {
		t.Fatal(err)
	}
	expect(t, r, "kernel:/greet$", deadline)

	if _, err := tty.Write([]byte("cat note\n")); err != nil {
		t.Fatal(err)
	}
	expect(t, r, "hello from kernelsh", deadline)

	if _, err := tty.Write([]byte("fork\n")); err != nil {
		t.Fatal(err)
	}
	expect(t, r, "forked child pid", deadline)

	if _, err := tty.Write([]byte("wait\n")); err != nil {
		t.Fatal(err)
	}
	expect(t, r, "exited with status", deadline)

	if _, err := tty.Write([]byte("exit\n")); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("kernelsh did not exit after 'exit'")
	}
}
