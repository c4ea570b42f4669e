package runtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws-samples/agentcore-deploy/common/retry"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/errdefs"
	"github.com/aws-samples/agentcore-deploy/internal/agentctl/runtime"
)

// fakeControl satisfies runtime.ControlPlane with remote-service semantics:
// names resolve to stable IDs, missing instances read as absent.
type fakeControl struct {
	serial  int
	byName  map[string]string
	byID    map[string]runtime.Instance
	creates int
	updates int
	deletes int

	// failLookups makes the first N FindByName calls fail transiently.
	failLookups int
}

func newFakeControl() *fakeControl {
	return &fakeControl{byName: make(map[string]string), byID: make(map[string]runtime.Instance)}
}

func (f *fakeControl) Create(_ context.Context, name, imageURI, roleArn string) (runtime.Instance, error) {
	f.creates++
	f.serial++
	id := fmt.Sprintf("rt-%04d", f.serial)
	inst := runtime.Instance{
		ID: id, ARN: "arn:aws:bedrock-agentcore:us-east-1:123456789012:runtime/" + id,
		Name: name, Status: runtime.StatusReady, RemoteStatus: "READY", ImageURI: imageURI,
	}
	f.byName[name] = id
	f.byID[id] = inst
	return inst, nil
}

func (f *fakeControl) Update(_ context.Context, id, imageURI, roleArn string) (runtime.Instance, error) {
	f.updates++
	inst, ok := f.byID[id]
	if !ok {
		return runtime.Instance{}, fmt.Errorf("update: unknown id %s", id)
	}
	inst.ImageURI = imageURI
	f.byID[id] = inst
	return inst, nil
}

func (f *fakeControl) Get(_ context.Context, id string) (runtime.Instance, error) {
	inst, ok := f.byID[id]
	if !ok {
		return runtime.Instance{ID: id, Status: runtime.StatusAbsent}, nil
	}
	return inst, nil
}

func (f *fakeControl) FindByName(_ context.Context, name string) (runtime.Lookup, error) {
	if f.failLookups > 0 {
		f.failLookups--
		return runtime.Lookup{}, &errdefs.UnavailableError{Err: errors.New("throttled")}
	}
	if id, ok := f.byName[name]; ok {
		return runtime.Lookup{Outcome: runtime.LookupExisting, ID: id, ARN: f.byID[id].ARN}, nil
	}
	return runtime.Lookup{Outcome: runtime.LookupAbsent}, nil
}

func (f *fakeControl) Delete(_ context.Context, id string) error {
	f.deletes++
	if inst, ok := f.byID[id]; ok {
		delete(f.byID, id)
		delete(f.byName, inst.Name)
	}
	// Absent instances delete successfully.
	return nil
}

// fakeData records invocations in order.
type fakeData struct {
	sessions []string
	payloads [][]byte
	reply    []byte
	stopped  []string
}

func (f *fakeData) Invoke(_ context.Context, arn string, payload []byte, sessionID string) ([]byte, error) {
	f.sessions = append(f.sessions, sessionID)
	f.payloads = append(f.payloads, payload)
	if f.reply != nil {
		return f.reply, nil
	}
	return []byte(`{"result":"ok"}`), nil
}

func (f *fakeData) StopSession(_ context.Context, arn, sessionID string) error {
	f.stopped = append(f.stopped, sessionID)
	return nil
}

func newTestManager(cp runtime.ControlPlane, dp runtime.DataPlane) *runtime.Manager {
	return runtime.NewManager(cp, dp, runtime.ManagerConfig{
		PollInterval: time.Second,
		ReadyTimeout: time.Minute,
		Clock:        &fakeClock{},
		Retry:        retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond},
	})
}

func TestDeployTwiceYieldsSameInstance(t *testing.T) {
	cp := newFakeControl()
	m := newTestManager(cp, &fakeData{})
	ctx := context.Background()

	first, err := m.Deploy(ctx, "demo_agent", "img:1", "arn:aws:iam::123456789012:role/r")
	if err != nil {
		t.Fatalf("first Deploy: %v", err)
	}
	second, err := m.Deploy(ctx, "demo_agent", "img:2", "arn:aws:iam::123456789012:role/r")
	if err != nil {
		t.Fatalf("second Deploy: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("instance IDs differ: %s vs %s", first.ID, second.ID)
	}
	if cp.creates != 1 {
		t.Errorf("creates = %d, want 1", cp.creates)
	}
	if cp.updates != 1 {
		t.Errorf("updates = %d, want 1 (second deploy must be an update)", cp.updates)
	}
	if second.ImageURI != "img:2" {
		t.Errorf("update did not take: ImageURI = %q", second.ImageURI)
	}
}

func TestDeployRetriesTransientLookup(t *testing.T) {
	cp := newFakeControl()
	cp.failLookups = 2
	m := newTestManager(cp, &fakeData{})

	if _, err := m.Deploy(context.Background(), "demo_agent", "img:1", "role"); err != nil {
		t.Fatalf("Deploy should survive two transient lookup failures: %v", err)
	}
}

func TestDeployDoesNotRetryPermanentFailure(t *testing.T) {
	cp := &failingControl{err: &errdefs.PermissionError{Op: "agentcore.CreateAgentRuntime", Err: errors.New("denied")}}
	m := newTestManager(cp, &fakeData{})

	_, err := m.Deploy(context.Background(), "demo_agent", "img:1", "role")
	var pe *errdefs.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("got %v, want *PermissionError", err)
	}
	if cp.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permission errors)", cp.calls)
	}
}

// failingControl fails every lookup with a fixed error.
type failingControl struct {
	err   error
	calls int
}

func (f *failingControl) Create(context.Context, string, string, string) (runtime.Instance, error) {
	return runtime.Instance{}, f.err
}
func (f *failingControl) Update(context.Context, string, string, string) (runtime.Instance, error) {
	return runtime.Instance{}, f.err
}
func (f *failingControl) Get(context.Context, string) (runtime.Instance, error) {
	return runtime.Instance{}, f.err
}
func (f *failingControl) FindByName(context.Context, string) (runtime.Lookup, error) {
	f.calls++
	return runtime.Lookup{}, f.err
}
func (f *failingControl) Delete(context.Context, string) error { return f.err }

func TestDeleteAbsentInstanceSucceeds(t *testing.T) {
	cp := newFakeControl()
	m := newTestManager(cp, &fakeData{})

	if err := m.Delete(context.Background(), "rt-never-created", true); err != nil {
		t.Fatalf("Delete of absent instance: %v", err)
	}
	if cp.deletes != 1 {
		t.Errorf("deletes = %d, want 1", cp.deletes)
	}
}

func TestDeleteWaitsUntilGone(t *testing.T) {
	cp := newFakeControl()
	m := newTestManager(cp, &fakeData{})
	ctx := context.Background()

	inst, err := m.Deploy(ctx, "demo_agent", "img:1", "role")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if err := m.Delete(ctx, inst.ID, true); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, _ := cp.Get(ctx, inst.ID)
	if got.Status != runtime.StatusAbsent {
		t.Errorf("instance still present after delete: %s", got.Status)
	}
}

func TestInvokeParsesResultEnvelope(t *testing.T) {
	dp := &fakeData{reply: []byte(`{"result":"hello there"}`)}
	m := newTestManager(newFakeControl(), dp)

	got, err := m.Invoke(context.Background(), "arn:runtime", "hi", "session-a")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "hello there" {
		t.Errorf("result = %q", got)
	}

	var req runtime.InvocationRequest
	if err := json.Unmarshal(dp.payloads[0], &req); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if req.Prompt != "hi" {
		t.Errorf("prompt = %q, want hi", req.Prompt)
	}
}

func TestInvokeReturnsRawBodyWhenNotEnvelope(t *testing.T) {
	dp := &fakeData{reply: []byte("plain text answer")}
	m := newTestManager(newFakeControl(), dp)

	got, err := m.Invoke(context.Background(), "arn:runtime", "hi", "")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "plain text answer" {
		t.Errorf("result = %q", got)
	}
	if dp.sessions[0] != "" {
		t.Errorf("session id should stay empty, got %q", dp.sessions[0])
	}
}
