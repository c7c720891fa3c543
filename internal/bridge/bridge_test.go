package bridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeMonitor writes a tiny unbuffered Python script that mimics the
// real monitor's control-line acknowledgments, so Bridge's spawn/emit/
// wait logic can be exercised without a built monitor binary. Returns
// the python3 interpreter path and the script path.
func fakeMonitor(t *testing.T) (python, script string) {
	t.Helper()
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available to stand in for the monitor subprocess")
	}

	script = filepath.Join(t.TempDir(), "fake_monitor.py")
	const body = `#!/usr/bin/env python3
import sys
for line in sys.stdin:
    line = line.rstrip("\n")
    if line == "__END_SESSION__":
        print("VIOLATION_DETECTED:1", flush=True)
    elif line.startswith("__SAVE_STATE__"):
        print("STATE_SAVED:" + line.split()[1], flush=True)
    elif line.startswith("__RESTORE_STATE__"):
        print("STATE_RESTORED:" + line.split()[1], flush=True)
`
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	return python, script
}

func spawnFake(t *testing.T) *Bridge {
	t.Helper()
	python, script := fakeMonitor(t)
	b, err := Spawn(context.Background(), python, script, "tag")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestEndSessionReportsViolation(t *testing.T) {
	b := spawnFake(t)
	ok, err := b.EndSession()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSaveAcknowledged(t *testing.T) {
	b := spawnFake(t)
	ok, err := b.Save(42)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRestoreAcknowledged(t *testing.T) {
	b := spawnFake(t)
	ok, err := b.Restore(7)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCloseWaitsForExit(t *testing.T) {
	b := spawnFake(t)
	require.NoError(t, b.Close())
}

func TestEmitEventWritesLineToChildStdin(t *testing.T) {
	b := spawnFake(t)
	// An event line isn't one of the script's recognized markers, so it
	// produces no reply; EmitEvent itself must still succeed.
	require.NoError(t, b.EmitEvent("a=true b=false"))
	ok, err := b.EndSession()
	require.NoError(t, err)
	require.True(t, ok)
}
