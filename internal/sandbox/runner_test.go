package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// fakeRuntime writes a docker stand-in that logs every invocation's
// arguments and runs runBody for "run".
func fakeRuntime(t *testing.T, runBody string) (binary, callLog string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script runtime")
	}
	dir := t.TempDir()
	callLog = filepath.Join(dir, "calls.log")
	binary = filepath.Join(dir, "docker")
	script := "#!/bin/sh\n" +
		"echo \"$@\" >> '" + callLog + "'\n" +
		"if [ \"$1\" = run ]; then\n" + runBody + "\nfi\n" +
		"exit 0\n"
	if err := os.WriteFile(binary, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return binary, callLog
}

func readCalls(t *testing.T, callLog string) []string {
	t.Helper()
	data, err := os.ReadFile(callLog)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestDockerRunnerTimeoutStopsContainer(t *testing.T) {
	binary, callLog := fakeRuntime(t, "exec sleep 30")
	r := NewDockerRunner(binary, logger.NewNop())
	inv := &Invocation{Name: "nightshift-task_1-abcd", Image: "img", WorkDir: ContainerWorkDir}

	start := time.Now()
	_, err := r.Run(context.Background(), inv, 200*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("run outlived its timeout")
	}

	calls := readCalls(t, callLog)
	if len(calls) != 3 {
		t.Fatalf("calls = %q", calls)
	}
	if !strings.HasPrefix(calls[0], "run --rm --name nightshift-task_1-abcd ") {
		t.Errorf("run call = %q", calls[0])
	}
	if calls[1] != "kill nightshift-task_1-abcd" {
		t.Errorf("kill call = %q", calls[1])
	}
	if calls[2] != "rm -f nightshift-task_1-abcd" {
		t.Errorf("rm call = %q", calls[2])
	}
}

func TestDockerRunnerCancelStopsContainer(t *testing.T) {
	binary, callLog := fakeRuntime(t, "exec sleep 30")
	r := NewDockerRunner(binary, logger.NewNop())
	inv := &Invocation{Name: "nightshift-cancelled", Image: "img", WorkDir: ContainerWorkDir}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	defer cancel()
	if _, err := r.Run(ctx, inv, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	calls := readCalls(t, callLog)
	if len(calls) != 3 || calls[1] != "kill nightshift-cancelled" {
		t.Fatalf("calls = %q", calls)
	}
}

func TestDockerRunnerExitCode(t *testing.T) {
	binary, callLog := fakeRuntime(t, "echo out; echo err >&2; exit 3")
	r := NewDockerRunner(binary, logger.NewNop())
	inv := &Invocation{Name: "nightshift-exit", Image: "img", WorkDir: ContainerWorkDir}

	res, err := r.Run(context.Background(), inv, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 || res.Stdout != "out\n" || res.Stderr != "err\n" {
		t.Fatalf("res = %+v", res)
	}
	if calls := readCalls(t, callLog); len(calls) != 1 {
		t.Fatalf("completed run issued extra calls: %q", calls)
	}
}
