package process

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startGroup starts a command in its own process group and registers it.
// The returned channel closes once the process has been reaped.
func startGroup(t *testing.T, r *Registry, sessionID string, name string, args ...string) (string, *exec.Cmd, <-chan struct{}) {
	t.Helper()

	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	runID := r.Register(Info{PID: cmd.Process.Pid, SessionID: sessionID, ProjectPath: "/tmp"})

	// Wait for the child to report readiness when it prints anything.
	ready := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(stdout)
		first := true
		for scanner.Scan() {
			if first {
				close(ready)
				first = false
			}
		}
		if first {
			close(ready)
		}
	}()

	reaped := make(chan struct{})
	go func() {
		<-ready
		_ = cmd.Wait()
		r.Finish(runID)
		close(reaped)
	}()

	t.Cleanup(func() {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	})

	<-ready
	return runID, cmd, reaped
}

func TestRegistry_RegisterAndBind(t *testing.T) {
	r := NewRegistry(0)

	runID := r.Register(Info{PID: 4242, ProjectPath: "/tmp/p", Prompt: "fix bug", Model: "sonnet"})
	require.NotEmpty(t, runID)

	info, ok := r.Get(runID)
	require.True(t, ok)
	assert.Equal(t, "fix bug", info.Prompt)
	assert.False(t, info.StartedAt.IsZero())

	_, ok = r.BySession("abc")
	assert.False(t, ok)

	r.BindSession(runID, "abc")
	info, ok = r.BySession("abc")
	require.True(t, ok)
	assert.Equal(t, runID, info.RunID)

	// Rebinding moves the session index.
	r.BindSession(runID, "def")
	_, ok = r.BySession("abc")
	assert.False(t, ok)
	_, ok = r.BySession("def")
	assert.True(t, ok)

	r.Finish(runID)
	_, ok = r.Get(runID)
	assert.False(t, ok)
	_, ok = r.BySession("def")
	assert.False(t, ok)

	// Finishing twice is harmless.
	r.Finish(runID)
}

func TestRegistry_RunningOrder(t *testing.T) {
	r := NewRegistry(0)
	now := time.Now()

	second := r.Register(Info{PID: 2, StartedAt: now.Add(time.Second)})
	first := r.Register(Info{PID: 1, StartedAt: now})

	running := r.Running()
	require.Len(t, running, 2)
	assert.Equal(t, first, running[0].RunID)
	assert.Equal(t, second, running[1].RunID)
}

func TestRegistry_OutputLimit(t *testing.T) {
	r := NewRegistry(10)
	runID := r.Register(Info{PID: 1})

	r.AppendOutput(runID, "12345")
	assert.Equal(t, "12345\n", r.Output(runID))

	r.AppendOutput(runID, "abcdef")
	out := r.Output(runID)
	assert.Len(t, out, 10)
	assert.True(t, strings.HasSuffix(out, "abcdef\n"))

	assert.Equal(t, "", r.Output("unknown"))
	r.AppendOutput("unknown", "ignored")
}

func TestRegistry_KillUnknown(t *testing.T) {
	r := NewRegistry(0)

	killed, err := r.Kill(context.Background(), "missing", time.Second)
	assert.NoError(t, err)
	assert.False(t, killed)

	killed, err = r.KillSession(context.Background(), "missing", time.Second)
	assert.NoError(t, err)
	assert.False(t, killed)
}

func TestRegistry_KillSIGTERM(t *testing.T) {
	r := NewRegistry(0)
	_, _, reaped := startGroup(t, r, "abc", "sh", "-c", "echo ready; sleep 30")

	start := time.Now()
	killed, err := r.KillSession(context.Background(), "abc", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, killed)
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-reaped:
	case <-time.After(5 * time.Second):
		t.Fatal("process was not reaped")
	}
}

func TestRegistry_KillEscalates(t *testing.T) {
	r := NewRegistry(0)
	runID, _, reaped := startGroup(t, r, "", "sh", "-c", `trap "" TERM; echo ready; sleep 30`)

	killed, err := r.Kill(context.Background(), runID, 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, killed)

	select {
	case <-reaped:
	case <-time.After(5 * time.Second):
		t.Fatal("SIGKILL escalation did not stop the process")
	}
}

func TestRegistry_Cleanup(t *testing.T) {
	r := NewRegistry(0)

	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	dead := r.Register(Info{PID: cmd.Process.Pid})
	live := r.Register(Info{PID: syscall.Getpid()})

	removed := r.Cleanup()
	assert.Equal(t, []string{dead}, removed)

	_, ok := r.Get(live)
	assert.True(t, ok)
}
