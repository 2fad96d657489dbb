package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRemoteError_ClassificationByCode(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		notFound   bool
		conflict   bool
		taskExists bool
	}{
		{"pool not found", NotFound("pools.get", CodePoolNotFound), true, false, false},
		{"job not found", NotFound("jobs.get", CodeJobNotFound), true, false, false},
		{"arm not found", NotFound("apps.delete", CodeResourceNotFound), true, false, false},
		{"job exists", Conflict("jobs.add", CodeJobExists), false, true, false},
		{"task exists", Conflict("tasks.add", CodeTaskExists), false, true, true},
		{"other code", NewRemoteError("pools.resize", "PoolResizeConflict", 409, nil), false, false, false},
		{"wrapped", fmt.Errorf("scaler: %w", NotFound("pools.get", CodePoolNotFound)), true, false, false},
		{"plain error", errors.New("JobNotFound"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.notFound)
			}
			if got := IsConflict(tt.err); got != tt.conflict {
				t.Errorf("IsConflict() = %v, want %v", got, tt.conflict)
			}
			if got := IsTaskExists(tt.err); got != tt.taskExists {
				t.Errorf("IsTaskExists() = %v, want %v", got, tt.taskExists)
			}
		})
	}
}

func TestRemoteError_UnwrapsCause(t *testing.T) {
	cause := context.DeadlineExceeded
	err := NewRemoteError("pools.get", "", 0, cause)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected RemoteError to unwrap to its cause")
	}
}

func TestTimeoutError_IsErrTimeout(t *testing.T) {
	err := fmt.Errorf("wait: %w", &TimeoutError{PoolID: "p1", Polls: 300})
	if !errors.Is(err, ErrTimeout) {
		t.Error("expected TimeoutError to match ErrTimeout")
	}
	if errors.Is(context.Canceled, ErrTimeout) {
		t.Error("cancellation must not match ErrTimeout")
	}
}

func TestValidation(t *testing.T) {
	err := Validation("targetNodes", "must not be negative")
	if !errors.Is(err, ErrValidation) {
		t.Error("expected validation error to match ErrValidation")
	}
	if err.Error() != "invalid targetNodes: must not be negative" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestParseDeallocationPolicy(t *testing.T) {
	p, err := ParseDeallocationPolicy("")
	if err != nil || p != DeallocateRequeue {
		t.Errorf("expected default requeue, got %q (%v)", p, err)
	}
	p, err = ParseDeallocationPolicy("TaskCompletion")
	if err != nil || p != DeallocateTaskCompletion {
		t.Errorf("expected taskcompletion, got %q (%v)", p, err)
	}
	if _, err := ParseDeallocationPolicy("drain"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestParseRebootOption(t *testing.T) {
	tests := []struct {
		in      string
		want    RebootOption
		invalid bool
	}{
		{"", RebootRequeue, false},
		{"Terminate", RebootTerminate, false},
		{"retaineddata", RebootRetainedData, false},
		{"now", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRebootOption(tt.in)
		if tt.invalid {
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ParseRebootOption(%q): expected validation error, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseRebootOption(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestParseNodeState(t *testing.T) {
	if s := ParseNodeState("WaitingForStartTask"); s != NodeWaitingForStartTask || !s.Known() {
		t.Errorf("expected waitingforstarttask, got %q", s)
	}
	s := ParseNodeState("startTaskFailed")
	if s.Known() {
		t.Errorf("expected %q to be unrecognised", s)
	}
	if s == NodeUnknown {
		t.Error("unrecognised states must not fold into unknown")
	}
}

func TestManagedIdentity_ResourceID(t *testing.T) {
	id := ManagedIdentity{SubscriptionID: "sub", ResourceGroup: "rg", Name: "pull"}
	want := "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.ManagedIdentity/userAssignedIdentities/pull"
	if got := id.ResourceID(); got != want {
		t.Errorf("ResourceID() = %q, want %q", got, want)
	}
}

func TestPoolUpdate_Validate(t *testing.T) {
	negative := -1
	if err := (&PoolUpdate{TargetDedicatedNodes: &negative}).Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for negative target, got %v", err)
	}
	u := PoolUpdate{StartTask: &StartTask{CommandLine: "run.sh", ElevationLevel: "Admin", AutoUserScope: "TASK"}}
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if u.StartTask.ElevationLevel != ElevationAdmin || u.StartTask.AutoUserScope != AutoUserScopeTask {
		t.Errorf("start task not normalized: %+v", u.StartTask)
	}
	if (PoolUpdate{Applications: []ApplicationReference{}}).Empty() {
		t.Error("an empty application list clears references and is not an empty update")
	}
}
