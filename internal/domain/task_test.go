package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()
	cases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusStaged, TaskStatusCommitted, true},
		{TaskStatusStaged, TaskStatusRunning, true},
		{TaskStatusStaged, TaskStatusCancelled, true},
		{TaskStatusStaged, TaskStatusCompleted, false},
		{TaskStatusCommitted, TaskStatusRunning, true},
		{TaskStatusCommitted, TaskStatusStaged, false},
		{TaskStatusRunning, TaskStatusCompleted, true},
		{TaskStatusRunning, TaskStatusFailed, true},
		{TaskStatusRunning, TaskStatusCommitted, false},
		{TaskStatusCompleted, TaskStatusRunning, false},
		{TaskStatusFailed, TaskStatusCancelled, false},
		{TaskStatusCancelled, TaskStatusStaged, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	t.Parallel()
	all := []TaskStatus{TaskStatusStaged, TaskStatusCommitted, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal %s can move to %s", from, to)
			}
		}
	}
}

func TestTransitionSources(t *testing.T) {
	t.Parallel()
	got := TransitionSources(TaskStatusRunning)
	want := map[TaskStatus]bool{TaskStatusStaged: true, TaskStatusCommitted: true}
	if len(got) != len(want) {
		t.Fatalf("sources of running = %v", got)
	}
	for _, s := range got {
		if !want[s] {
			t.Fatalf("unexpected source %s", s)
		}
	}
	if len(TransitionSources(TaskStatusStaged)) != 0 {
		t.Fatal("nothing should transition into staged")
	}
}

func TestJSONBRoundTripUsesEnvelope(t *testing.T) {
	t.Parallel()
	in := JSONB{"os": "linux", "cpus": float64(4)}
	v, err := in.Value()
	if err != nil {
		t.Fatal(err)
	}
	s, ok := v.(string)
	if !ok {
		t.Fatalf("Value returned %T", v)
	}
	if want := `{"_v":1,"data":{"cpus":4,"os":"linux"}}`; s != want {
		t.Fatalf("stored %s, want %s", s, want)
	}

	var out JSONB
	if err := out.Scan([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("scan = %v, want %v", out, in)
	}
}

func TestJSONBScanLegacyAndErrors(t *testing.T) {
	t.Parallel()

	var legacy JSONB
	if err := legacy.Scan(`{"runtime":"docker"}`); err != nil {
		t.Fatal(err)
	}
	if legacy["runtime"] != "docker" {
		t.Fatalf("legacy scan = %v", legacy)
	}

	// An object that merely has a "v" key is still a legacy object.
	var withV JSONB
	if err := withV.Scan(`{"v":"x","other":1}`); err != nil {
		t.Fatal(err)
	}
	if withV["v"] != "x" {
		t.Fatalf("scan = %v", withV)
	}

	// Metadata that happens to carry exactly "v" and "data" is not unwrapped.
	var lookalike JSONB
	if err := lookalike.Scan(`{"v":1,"data":{"k":"x"}}`); err != nil {
		t.Fatal(err)
	}
	want := JSONB{"v": float64(1), "data": map[string]interface{}{"k": "x"}}
	if !reflect.DeepEqual(lookalike, want) {
		t.Fatalf("lookalike scan = %v, want %v", lookalike, want)
	}
	v, err := lookalike.Value()
	if err != nil {
		t.Fatal(err)
	}
	var again JSONB
	if err := again.Scan(v); err != nil || !reflect.DeepEqual(again, want) {
		t.Fatalf("lookalike round trip = %v, %v", again, err)
	}

	var future JSONB
	if err := future.Scan(`{"_v":9,"data":{}}`); !errors.Is(err, ErrJSONBVersion) {
		t.Fatalf("future version err = %v", err)
	}

	var bad JSONB
	if err := bad.Scan(`[1,2]`); err == nil {
		t.Fatal("array accepted as JSONB")
	}
	if err := bad.Scan(42); err == nil {
		t.Fatal("int accepted as JSONB")
	}

	empty := JSONB{"x": 1}
	if err := empty.Scan(nil); err != nil || empty != nil {
		t.Fatalf("nil scan = %v, %v", empty, err)
	}
}

func TestStringListScan(t *testing.T) {
	t.Parallel()
	var s StringList
	if err := s.Scan(`["Read","Bash"]`); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual([]string(s), []string{"Read", "Bash"}) {
		t.Fatalf("scan = %v", s)
	}
	v, _ := StringList(nil).Value()
	if v != nil {
		t.Fatalf("nil list stored as %v", v)
	}
}

func TestPlatformSets(t *testing.T) {
	t.Parallel()
	if !PlatformSlack.Implemented() || !PlatformTelegram.Implemented() {
		t.Fatal("slack and telegram should be implemented")
	}
	if PlatformDiscord.Implemented() || !PlatformDiscord.Known() {
		t.Fatal("discord is known but not implemented")
	}
	if Platform("irc").Known() {
		t.Fatal("irc should be unknown")
	}
}
