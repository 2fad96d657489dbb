package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensandbox/batchfleet/internal/batch"
	"github.com/opensandbox/batchfleet/internal/controlplane"
)

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func newTestServer(g *batch.MemoryGateway, keys ...string) *Server {
	waiter := controlplane.NewSteadyWaiter(controlplane.SteadyWaiterConfig{
		Gateway:      g,
		PollInterval: time.Second,
		Timeout:      3 * time.Second,
		After:        immediate,
	})
	return NewServer(Deps{
		Gateway: g,
		Scaler:  controlplane.NewScaler(controlplane.ScalerConfig{Gateway: g}),
		Health:  controlplane.NewHealthMonitor(g, nil),
		Waiter:  waiter,
		Pools:   controlplane.NewPoolManager(g, waiter, nil),
		Jobs:    controlplane.NewJobManager(g, nil),
		Tasks:   controlplane.NewTaskCommitter(g, nil),
		Apps:    controlplane.NewApplicationManager(g, nil),
		Targets: controlplane.NewStaticTargets(nil),
		APIKeys: keys,
	})
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func nodes(states ...batch.NodeState) []batch.ComputeNode {
	out := make([]batch.ComputeNode, len(states))
	for i, st := range states {
		out[i] = batch.ComputeNode{ID: "n" + string(rune('1'+i)), State: st}
	}
	return out
}

func TestHealthAndAuth(t *testing.T) {
	s := newTestServer(batch.NewMemoryGateway(), "secret")

	if rec := do(s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health: expected 200 without key, got %d", rec.Code)
	}
	if rec := do(s, http.MethodGet, "/pools/p1", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("pools: expected 401 without key, got %d", rec.Code)
	}
}

func TestSetPoolTarget_ScalesDown(t *testing.T) {
	g := batch.NewMemoryGateway()
	g.AddPool(batch.Pool{ID: "p1", TargetDedicatedNodes: 3},
		nodes(batch.NodeIdle, batch.NodeRunning, batch.NodeStarting)...)
	s := newTestServer(g)

	rec := do(s, http.MethodPost, "/pools/p1/target", `{"targetNodes":1,"deallocationPolicy":"taskcompletion"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res controlplane.ScaleResult
	decode(t, rec, &res)
	if res.Outcome != controlplane.ScaledDown {
		t.Errorf("expected scaled_down, got %s", res.Outcome)
	}
	if len(res.RemovedNodes) != 2 || res.RemovedNodes[0] != "n3" || res.RemovedNodes[1] != "n1" {
		t.Errorf("expected [n3 n1] removed, got %v", res.RemovedNodes)
	}
}

func TestSetPoolTarget_GuardOutcome(t *testing.T) {
	g := batch.NewMemoryGateway()
	g.AddPool(batch.Pool{ID: "p1", AutoScaleEnabled: true, TargetDedicatedNodes: 2})
	s := newTestServer(g)

	rec := do(s, http.MethodPost, "/pools/p1/target", `{"targetNodes":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for guard outcome, got %d", rec.Code)
	}
	var res controlplane.ScaleResult
	decode(t, rec, &res)
	if res.Outcome != controlplane.ScaleSkippedAutoScale {
		t.Errorf("expected skipped_autoscale, got %s", res.Outcome)
	}
	if len(g.Mutations()) != 0 {
		t.Errorf("expected no mutations, got %v", g.Mutations())
	}
}

func TestSetPoolTarget_BadRequests(t *testing.T) {
	g := batch.NewMemoryGateway()
	g.AddPool(batch.Pool{ID: "p1"})
	s := newTestServer(g)

	tests := []struct {
		name string
		body string
	}{
		{"missing target", `{}`},
		{"negative target", `{"targetNodes":-1}`},
		{"bad policy", `{"targetNodes":1,"deallocationPolicy":"explode"}`},
		{"bad json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(s, http.MethodPost, "/pools/p1/target", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestErrorStatusMapping(t *testing.T) {
	g := batch.NewMemoryGateway()
	g.AddPool(batch.Pool{ID: "p1"})
	g.AddPool(batch.Pool{ID: "p2"})
	g.Fail(batch.OpGetPool, batch.NewRemoteError(batch.OpGetPool, "ServerError", 500, errors.New("boom")), "p2")
	s := newTestServer(g)

	if rec := do(s, http.MethodGet, "/pools/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing pool: expected 404, got %d", rec.Code)
	}
	if rec := do(s, http.MethodGet, "/pools/p2", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("remote failure: expected 502, got %d", rec.Code)
	}
	rec := do(s, http.MethodGet, "/pools/p1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var pool batch.Pool
	decode(t, rec, &pool)
	if pool.ID != "p1" || pool.AllocationState != batch.AllocationSteady {
		t.Errorf("unexpected pool %+v", pool)
	}
}

func TestWaitPool_Timeout(t *testing.T) {
	g := batch.NewMemoryGateway()
	g.AddPool(batch.Pool{ID: "p1", AllocationState: batch.AllocationResizing})
	s := newTestServer(g)

	rec := do(s, http.MethodPost, "/pools/p1/wait", "")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d: %s", rec.Code, rec.Body.String())
	}
	if n := len(g.CallsTo(batch.OpGetPool)); n != 3 {
		t.Errorf("expected 3 polls, got %d", n)
	}
}

func TestRecoverPool(t *testing.T) {
	g := batch.NewMemoryGateway()
	g.AddPool(batch.Pool{ID: "p1"}, nodes(batch.NodeOffline, batch.NodeIdle, batch.NodeUnusable)...)
	s := newTestServer(g)

	rec := do(s, http.MethodPost, "/pools/p1/recover", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Dispatched int `json:"dispatched"`
	}
	decode(t, rec, &body)
	if body.Dispatched != 2 {
		t.Errorf("expected 2 dispatched, got %d", body.Dispatched)
	}
}

func TestRebootPool(t *testing.T) {
	g := batch.NewMemoryGateway()
	g.AddPool(batch.Pool{ID: "p1"}, nodes(batch.NodeIdle, batch.NodeRunning)...)
	s := newTestServer(g)

	rec := do(s, http.MethodPost, "/pools/p1/reboot", `{"rebootOption":"soon"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown reboot option: expected 400, got %d", rec.Code)
	}
	if calls := g.Calls(); len(calls) != 0 {
		t.Errorf("unknown reboot option must not reach the gateway, got %v", calls)
	}

	rec = do(s, http.MethodPost, "/pools/p1/reboot", `{"rebootOption":"TaskCompletion"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Rebooted int `json:"rebooted"`
	}
	decode(t, rec, &body)
	if body.Rebooted != 2 {
		t.Errorf("expected 2 rebooted, got %d", body.Rebooted)
	}
	if calls := g.CallsTo(batch.OpRebootNode); len(calls) != 2 {
		t.Errorf("expected 2 reboot calls, got %v", calls)
	}
}

func TestPoolCreateAndUpdate(t *testing.T) {
	g := batch.NewMemoryGateway()
	s := newTestServer(g)
	body := `{"vmSize":"Standard_D4s_v3",
		"image":{"publisher":"canonical","offer":"ubuntu-22_04-lts","sku":"server"},
		"nodeAgentSkuId":"batch.node.ubuntu 22.04","targetDedicatedNodes":1,
		"applications":[{"applicationId":"renderer","version":"1.0"}],"wait":true}`

	rec := do(s, http.MethodPut, "/pools/render", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(s, http.MethodPut, "/pools/render", body); rec.Code != http.StatusOK {
		t.Errorf("repeat create: expected 200, got %d", rec.Code)
	}
	if n := len(g.CallsTo(batch.OpCreatePool)); n != 1 {
		t.Errorf("expected one create call, got %d", n)
	}
	if rec := do(s, http.MethodPut, "/pools/bare", `{"vmSize":"Standard_D4s_v3"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("create without image: expected 400, got %d", rec.Code)
	}

	rec = do(s, http.MethodPatch, "/pools/render", `{"applications":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Updated bool `json:"updated"`
	}
	decode(t, rec, &res)
	if spec, _ := g.SpecOf("render"); !res.Updated || len(spec.Applications) != 0 {
		t.Errorf("expected applications cleared, got %v %+v", res.Updated, spec.Applications)
	}
	if rec := do(s, http.MethodPatch, "/pools/gone", `{"targetDedicatedNodes":2}`); rec.Code != http.StatusNotFound {
		t.Errorf("update missing pool: expected 404, got %d", rec.Code)
	}
}

func TestTargets(t *testing.T) {
	s := newTestServer(batch.NewMemoryGateway())

	rec := do(s, http.MethodPut, "/targets/p1", `{"targetNodes":4,"enabled":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(s, http.MethodPut, "/targets/p2", `{"targetNodes":-4}`); rec.Code != http.StatusBadRequest {
		t.Errorf("put invalid: expected 400, got %d", rec.Code)
	}

	rec = do(s, http.MethodGet, "/targets", "")
	var targets []controlplane.PoolTarget
	decode(t, rec, &targets)
	if len(targets) != 1 || targets[0].PoolID != "p1" || targets[0].Policy != batch.DeallocateRequeue {
		t.Errorf("unexpected targets %+v", targets)
	}
}

func TestJobLifecycle(t *testing.T) {
	g := batch.NewMemoryGateway()
	g.AddPool(batch.Pool{ID: "p1"})
	s := newTestServer(g)

	rec := do(s, http.MethodPut, "/jobs/j1", `{"poolId":"p1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(s, http.MethodPut, "/jobs/j1", `{"poolId":"p1"}`)
	var created map[string]bool
	decode(t, rec, &created)
	if rec.Code != http.StatusOK || created["created"] {
		t.Errorf("second create: expected 200 created=false, got %d %v", rec.Code, created)
	}

	rec = do(s, http.MethodPost, "/jobs/j1/tasks", `{"tasks":[{"id":"t1","commandLine":"echo 1"},{"id":"t2","commandLine":"echo 2"}],"terminateJobWhenDone":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("commit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := g.Tasks("j1"); len(got) != 2 {
		t.Errorf("expected 2 tasks, got %d", len(got))
	}

	rec = do(s, http.MethodPost, "/jobs/j1/tasks", `{"tasks":[{"id":"t3","commandLine":"x"},{"id":"t1","commandLine":"dup"}]}`)
	var commit struct {
		Committed bool `json:"committed"`
	}
	decode(t, rec, &commit)
	if rec.Code != http.StatusOK || commit.Committed {
		t.Errorf("duplicate commit: expected 200 committed=false, got %d %+v", rec.Code, commit)
	}
	// The rollback removes every task of the batch, the duplicate included.
	if got := g.Tasks("j1"); len(got) != 1 || got[0].ID != "t2" {
		t.Errorf("expected only t2 left after rollback, got %v", got)
	}

	rec = do(s, http.MethodPatch, "/jobs/j1", `{"usesTaskDependencies":true}`)
	var updated map[string]bool
	decode(t, rec, &updated)
	if !updated["updated"] {
		t.Errorf("expected job updated, got %v", updated)
	}

	if rec := do(s, http.MethodDelete, "/jobs/j1", ""); rec.Code != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", rec.Code)
	}
	rec = do(s, http.MethodDelete, "/jobs/j1", "")
	var deleted map[string]bool
	decode(t, rec, &deleted)
	if deleted["deleted"] {
		t.Error("second delete should report deleted=false")
	}
}

func TestCreateJobValidation(t *testing.T) {
	s := newTestServer(batch.NewMemoryGateway())
	if rec := do(s, http.MethodPut, "/jobs/j1", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without pool, got %d", rec.Code)
	}
}

func TestTerminateAndFailed(t *testing.T) {
	g := batch.NewMemoryGateway()
	g.AddJob(batch.Job{ID: "j1", PoolID: "p1"},
		batch.Task{ID: "t1", State: batch.TaskCompleted},
		batch.Task{ID: "t2", State: batch.TaskCompleted, FailureInfo: &batch.FailureInfo{Code: batch.FailureExitCode}},
	)
	s := newTestServer(g)

	rec := do(s, http.MethodGet, "/jobs/j1/failed", "")
	var failed struct {
		Failed bool         `json:"failed"`
		Tasks  []batch.Task `json:"tasks"`
	}
	decode(t, rec, &failed)
	if !failed.Failed || len(failed.Tasks) != 1 || failed.Tasks[0].ID != "t2" {
		t.Errorf("unexpected failed tasks %+v", failed)
	}

	rec = do(s, http.MethodPost, "/jobs/j1/terminate", "")
	var term map[string]bool
	decode(t, rec, &term)
	if !term["terminated"] {
		t.Errorf("expected terminated, got %v", term)
	}
	if len(g.CallsTo(batch.OpTerminateJob)) != 1 {
		t.Error("expected one terminate call")
	}
}

func TestTaskCounts(t *testing.T) {
	g := batch.NewMemoryGateway()
	g.AddJob(batch.Job{ID: "a", PoolID: "p1"}, batch.Task{ID: "t1", State: batch.TaskRunning})
	g.AddJob(batch.Job{ID: "b", PoolID: "p1"})
	s := newTestServer(g)

	rec := do(s, http.MethodGet, "/jobs/taskcounts?ids=b,a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var counts []batch.TaskCounts
	decode(t, rec, &counts)
	if len(counts) != 2 || counts[0].JobID != "b" || counts[1].JobID != "a" || counts[1].Running != 1 {
		t.Errorf("unexpected counts %+v", counts)
	}

	if rec := do(s, http.MethodGet, "/jobs/taskcounts", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without ids, got %d", rec.Code)
	}
}

func TestDeleteApplication(t *testing.T) {
	g := batch.NewMemoryGateway()
	g.AddPackage(batch.ApplicationPackage{ApplicationID: "app", Version: "1.0"})
	g.AddPackage(batch.ApplicationPackage{ApplicationID: "app", Version: "2.0"})
	s := newTestServer(g)

	rec := do(s, http.MethodDelete, "/applications/app", "")
	var body map[string]bool
	decode(t, rec, &body)
	if rec.Code != http.StatusOK || !body["deleted"] {
		t.Errorf("expected deleted, got %d %v", rec.Code, body)
	}
	if n := len(g.CallsTo(batch.OpDeleteApplicationPackage)); n != 2 {
		t.Errorf("expected 2 package deletes, got %d", n)
	}
}

func TestHistoryNotConfigured(t *testing.T) {
	s := newTestServer(batch.NewMemoryGateway())
	if rec := do(s, http.MethodGet, "/pools/p1/actions", ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 without history, got %d", rec.Code)
	}
}
