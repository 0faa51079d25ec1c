package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nightshift/backend/internal/domain"
)

func webhook(payload map[string]interface{}) WebhookRequest {
	return WebhookRequest{Platform: "slack", Body: []byte("{}"), Payload: payload}
}

func command(text string) WebhookRequest {
	return webhook(map[string]interface{}{"type": "command", "text": text, "user": "U1", "channel": "C1"})
}

func interactive(text string) WebhookRequest {
	return webhook(map[string]interface{}{"type": "interactive", "text": text, "user": "U1", "channel": "C1"})
}

func mustSubmit(t *testing.T, f *fixture) string {
	t.Helper()
	res := f.trigger.HandleWebhook(context.Background(), command("summarize repo X"))
	if !res.Success || res.TaskID == "" {
		t.Fatalf("submit: %+v", res)
	}
	return res.TaskID
}

func TestCommandStagesTask(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()

	res := f.trigger.HandleWebhook(ctx, command("summarize repo X"))
	if !res.Success || res.Action != "created" || res.Status != domain.TaskStatusStaged {
		t.Fatalf("result = %+v", res)
	}
	task, err := f.queue.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != domain.TaskStatusStaged || task.SubmittedBy == nil || *task.SubmittedBy != "user_slack_U1" {
		t.Fatalf("task = %+v", task)
	}

	texts := f.handler.texts()
	if len(texts) != 2 || texts[0] != "Planning your task..." {
		t.Fatalf("replies = %q", texts)
	}
	if !strings.Contains(texts[1], "approve "+res.TaskID) {
		t.Fatalf("submission reply = %q", texts[1])
	}
	if f.exec.callCount() != 0 {
		t.Fatal("command must not execute")
	}

	// The sender was auto-registered with a default quota.
	q, _ := f.users.GetQuota(ctx, "user_slack_U1")
	if q == nil {
		t.Fatal("sender has no quota")
	}
}

func TestEmptyCommandRepliesUsage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	res := f.trigger.HandleWebhook(context.Background(), command("  "))
	if !res.Success || res.TaskID != "" {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(f.handler.last(), "Usage:") {
		t.Fatalf("reply = %q", f.handler.last())
	}
}

func TestPlannerFailureReported(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.planner.err = errors.New("planner down")
	res := f.trigger.HandleWebhook(context.Background(), command("do it"))
	if res.Success || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(f.handler.last(), "planner down") {
		t.Fatalf("reply = %q", f.handler.last())
	}
	tasks, _ := f.queue.ListTasks(context.Background(), "")
	if len(tasks) != 0 {
		t.Fatalf("task stored despite planner failure: %v", tasks)
	}
}

func TestApproveExecutesTask(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	id := mustSubmit(t, f)

	res := f.trigger.HandleWebhook(ctx, interactive("approve_task:"+id))
	if !res.Success || res.Action != "approved" || res.Status != domain.TaskStatusCompleted {
		t.Fatalf("result = %+v", res)
	}
	if f.exec.callCount() != 1 {
		t.Fatalf("executor called %d times", f.exec.callCount())
	}
	task, _ := f.queue.GetTask(ctx, id)
	if task.Status != domain.TaskStatusCompleted {
		t.Fatalf("status = %s", task.Status)
	}
	if !strings.Contains(f.handler.last(), "completed successfully") {
		t.Fatalf("reply = %q", f.handler.last())
	}
}

func TestApproveFailedExecutionReportsFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.exec.success = false
	id := mustSubmit(t, f)

	res := f.trigger.HandleWebhook(context.Background(), interactive("approve_task:"+id))
	if !res.Success || res.Status != domain.TaskStatusFailed {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(f.handler.last(), "failed: boom") {
		t.Fatalf("reply = %q", f.handler.last())
	}
}

func TestApproveNonStagedTaskIsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	id := mustSubmit(t, f)
	if res := f.trigger.HandleWebhook(ctx, interactive("approve_task:"+id)); !res.Success {
		t.Fatalf("first approve: %+v", res)
	}

	res := f.trigger.HandleWebhook(ctx, interactive("approve_task:"+id))
	if res.Success || !errors.Is(res.Err, ErrTaskNotStaged) {
		t.Fatalf("second approve = %+v", res)
	}
	want := "Task " + id + " is not in STAGED state (current: completed)"
	if f.handler.last() != want {
		t.Fatalf("reply = %q, want %q", f.handler.last(), want)
	}
	if f.exec.callCount() != 1 {
		t.Fatalf("executor called %d times", f.exec.callCount())
	}
}

func TestCancelAction(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	id := mustSubmit(t, f)

	res := f.trigger.HandleWebhook(ctx, interactive("cancel_task:"+id))
	if !res.Success || res.Status != domain.TaskStatusCancelled {
		t.Fatalf("cancel = %+v", res)
	}
	res = f.trigger.HandleWebhook(ctx, interactive("cancel_task:"+id))
	if !errors.Is(res.Err, ErrTaskConflict) {
		t.Fatalf("second cancel = %+v", res)
	}
}

func TestInteractiveErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()

	if res := f.trigger.HandleWebhook(ctx, interactive("approve_task")); !errors.Is(res.Err, ErrPayloadInvalid) {
		t.Errorf("no separator = %+v", res)
	}
	if res := f.trigger.HandleWebhook(ctx, interactive("approve_task:task_deadbeef")); !errors.Is(res.Err, ErrTaskNotFound) {
		t.Errorf("unknown task = %+v", res)
	}
	if f.handler.last() != "Task task_deadbeef not found" {
		t.Errorf("reply = %q", f.handler.last())
	}
	id := mustSubmit(t, f)
	if res := f.trigger.HandleWebhook(ctx, interactive("explode:"+id)); !errors.Is(res.Err, ErrPayloadInvalid) {
		t.Errorf("unknown action = %+v", res)
	}
}

func TestStatusRequest(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	id := mustSubmit(t, f)

	req := webhook(map[string]interface{}{"type": "status_request", "text": "status " + id, "user": "U1"})
	res := f.trigger.HandleWebhook(ctx, req)
	if !res.Success || res.Status != domain.TaskStatusStaged {
		t.Fatalf("status = %+v", res)
	}
	reply := f.handler.last()
	if !strings.Contains(reply, "Status: STAGED") || !strings.Contains(reply, "Task Status: "+id) {
		t.Fatalf("reply = %q", reply)
	}

	req = webhook(map[string]interface{}{"type": "status_request", "text": "status", "user": "U1"})
	if res := f.trigger.HandleWebhook(ctx, req); !res.Success || res.Message != "usage" {
		t.Fatalf("bare status = %+v", res)
	}
}

func TestTextRouting(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	text := func(s string) WebhookRequest {
		return webhook(map[string]interface{}{"type": "text", "text": s, "user": "U1"})
	}

	res := f.trigger.HandleWebhook(ctx, text("write a haiku"))
	if res.Action != "created" {
		t.Fatalf("plain text = %+v", res)
	}
	id := res.TaskID

	if res := f.trigger.HandleWebhook(ctx, text("status "+id)); !res.Success || res.TaskID != id {
		t.Fatalf("status text = %+v", res)
	}
	if res := f.trigger.HandleWebhook(ctx, text("cancel "+id)); res.Status != domain.TaskStatusCancelled {
		t.Fatalf("cancel text = %+v", res)
	}

	other := f.trigger.HandleWebhook(ctx, text("another job"))
	if res := f.trigger.HandleWebhook(ctx, text("Approve "+other.TaskID)); res.Action != "approved" {
		t.Fatalf("approve text = %+v", res)
	}
}

func TestDeliveryFailureDoesNotUndoTransition(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()
	id := mustSubmit(t, f)

	f.handler.sendErr = errors.New("slack unavailable")
	res := f.trigger.HandleWebhook(ctx, interactive("approve_task:"+id))
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	task, _ := f.queue.GetTask(ctx, id)
	if task.Status != domain.TaskStatusCompleted {
		t.Fatalf("status = %s", task.Status)
	}
}

func TestWebhookRouting(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()

	cases := []struct {
		platform string
		want     error
	}{
		{"telegram", ErrPlatformNotEnabled},
		{"irc", ErrPlatformNotEnabled},
		{"discord", ErrPlatformNotImplemented},
		{"whatsapp", ErrPlatformNotImplemented},
	}
	for _, tc := range cases {
		res := f.trigger.HandleWebhook(ctx, WebhookRequest{Platform: tc.platform, Payload: map[string]interface{}{}})
		if !errors.Is(res.Err, tc.want) {
			t.Errorf("%s: %+v", tc.platform, res)
		}
		if err := f.trigger.CheckPlatform(tc.platform); !errors.Is(err, tc.want) {
			t.Errorf("%s: CheckPlatform = %v", tc.platform, err)
		}
	}
	if err := f.trigger.CheckPlatform("Slack"); err != nil {
		t.Errorf("enabled platform rejected: %v", err)
	}

	res := f.trigger.HandleWebhook(ctx, webhook(map[string]interface{}{"type": "url_verification", "challenge": "abc"}))
	if !res.Success || res.Challenge != "abc" {
		t.Errorf("challenge = %+v", res)
	}
	res = f.trigger.HandleWebhook(ctx, webhook(map[string]interface{}{"ignore": true}))
	if !res.Success || res.Message != "ignored" {
		t.Errorf("ignored = %+v", res)
	}
	res = f.trigger.HandleWebhook(ctx, webhook(map[string]interface{}{"text": "no type"}))
	if !errors.Is(res.Err, ErrPayloadInvalid) {
		t.Errorf("bad payload = %+v", res)
	}
	res = f.trigger.HandleWebhook(ctx, webhook(map[string]interface{}{"type": "carrier_pigeon", "user": "U1"}))
	if !errors.Is(res.Err, ErrUnknownMessageType) {
		t.Errorf("unknown type = %+v", res)
	}

	f.handler.validateErr = errors.New("bad signature")
	res = f.trigger.HandleWebhook(ctx, command("anything"))
	if !errors.Is(res.Err, ErrWebhookRejected) {
		t.Errorf("rejected = %+v", res)
	}
	if got := f.trigger.Platforms(); len(got) != 1 || got[0] != "slack" {
		t.Errorf("platforms = %v", got)
	}
}

func TestQuotaEnforcement(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	ctx := context.Background()

	first := mustSubmit(t, f)
	one := 1
	if _, err := f.users.SetQuota(ctx, "user_slack_U1", QuotaUpdate{MaxTasksPerDay: &one, MaxConcurrentTasks: &one}); err != nil {
		t.Fatal(err)
	}

	res := f.trigger.HandleWebhook(ctx, command("second task"))
	if !errors.Is(res.Err, ErrQuotaExceeded) {
		t.Fatalf("second submit = %+v", res)
	}
	if !strings.HasPrefix(f.handler.last(), "Cannot create task:") {
		t.Fatalf("reply = %q", f.handler.last())
	}
	if err := f.trigger.CheckSubmissionQuota(ctx, "user_slack_U1"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("direct check = %v", err)
	}

	// With no committed or running tasks the concurrency limit is not hit.
	if res := f.trigger.HandleWebhook(ctx, interactive("approve_task:"+first)); !res.Success {
		t.Fatalf("approve = %+v", res)
	}
}

func TestSubmitAndApproveDirect(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	ctx := context.Background()

	if _, err := f.trigger.SubmitTask(ctx, SubmitInput{Description: ""}); !errors.Is(err, ErrTaskInvalidInput) {
		t.Fatalf("empty submit err = %v", err)
	}
	task, err := f.trigger.SubmitTask(ctx, SubmitInput{Description: "api task", SubmittedBy: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	result, err := f.trigger.ApproveAndExecute(ctx, task.TaskID)
	if err != nil || !result.Success {
		t.Fatalf("execute = %+v, %v", result, err)
	}
	if _, err := f.trigger.ApproveAndExecute(ctx, task.TaskID); !errors.Is(err, ErrTaskNotStaged) {
		t.Fatalf("re-execute err = %v", err)
	}
	if _, err := f.trigger.ApproveAndExecute(ctx, "task_00000000"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("missing task err = %v", err)
	}
}
