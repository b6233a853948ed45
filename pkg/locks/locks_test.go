package locks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	m := NewManager()
	m.Acquire(Git)
	m.Release(Git)
	m.Acquire(Git) // would deadlock if Release above didn't take effect
	m.Release(Git)
}

func TestEmptyNameIsNoOp(t *testing.T) {
	m := NewManager()
	m.Acquire("")
	m.Release("")
}

func TestLockSerialisesConcurrentHolders(t *testing.T) {
	m := NewManager()
	started := make(chan struct{})
	done := make(chan struct{})

	m.Acquire(Build)
	go func() {
		close(started)
		m.Acquire(Build)
		close(done)
		m.Release(Build)
	}()

	<-started
	select {
	case <-done:
		t.Fatal("second acquire should have blocked while held")
	case <-time.After(50 * time.Millisecond):
	}
	m.Release(Build)
	<-done
}

func TestResolveInstallDependencies(t *testing.T) {
	require.Equal(t, NPMInstall, ResolveInstallDependencies("npm"))
	require.Equal(t, PipInstall, ResolveInstallDependencies("pip"))
	require.Equal(t, PipInstall, ResolveInstallDependencies(""))
}

func TestActionLockName(t *testing.T) {
	require.Equal(t, Git, ActionLockName("git_commit", nil))
	require.Equal(t, NPMInstall, ActionLockName("install_dependencies", map[string]any{"manager": "npm"}))
	require.Equal(t, "", ActionLockName("file_read", nil))
}
