package batch

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Gateway operation names, as recorded by MemoryGateway.
const (
	OpGetPool                    = "GetPool"
	OpCreatePool                 = "CreatePool"
	OpUpdatePool                 = "UpdatePool"
	OpResizePool                 = "ResizePool"
	OpStopResize                 = "StopResize"
	OpDeletePool                 = "DeletePool"
	OpRemoveNodes                = "RemoveNodes"
	OpListNodes                  = "ListNodes"
	OpEnableScheduling           = "EnableScheduling"
	OpRebootNode                 = "RebootNode"
	OpGetJob                     = "GetJob"
	OpListJobs                   = "ListJobs"
	OpCreateJob                  = "CreateJob"
	OpDeleteJob                  = "DeleteJob"
	OpUpdateJob                  = "UpdateJob"
	OpTerminateJob               = "TerminateJob"
	OpListTasks                  = "ListTasks"
	OpAddTasks                   = "AddTasks"
	OpDeleteTask                 = "DeleteTask"
	OpGetTaskCounts              = "GetTaskCounts"
	OpListApplicationPackages    = "ListApplicationPackages"
	OpCreateApplicationPackage   = "CreateApplicationPackage"
	OpActivateApplicationPackage = "ActivateApplicationPackage"
	OpDeleteApplicationPackage   = "DeleteApplicationPackage"
	OpDeleteApplication          = "DeleteApplication"
)

var readOps = map[string]bool{
	OpGetPool: true, OpListNodes: true, OpGetJob: true, OpListJobs: true,
	OpListTasks: true, OpGetTaskCounts: true, OpListApplicationPackages: true,
}

// Call is one recorded gateway invocation.
type Call struct {
	Op   string
	Args []string
}

type fault struct {
	op   string
	args []string
	err  error
}

type memPool struct {
	pool   Pool
	spec   PoolSpec
	nodes  []ComputeNode
	states []AllocationState // scripted states returned by successive GetPool calls
	nextID int
}

type memJob struct {
	job   Job
	tasks []Task
}

// MemoryGateway is an in-process Gateway for local development and tests.
// It records every call and can be told to fail specific operations.
type MemoryGateway struct {
	mu     sync.Mutex
	pools  map[string]*memPool
	jobs   map[string]*memJob
	apps   map[string][]ApplicationPackage
	calls  []Call
	faults []fault
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		pools: make(map[string]*memPool),
		jobs:  make(map[string]*memJob),
		apps:  make(map[string][]ApplicationPackage),
	}
}

// AddPool seeds a pool and its nodes.
func (g *MemoryGateway) AddPool(p Pool, nodes ...ComputeNode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.AllocationState == "" {
		p.AllocationState = AllocationSteady
	}
	g.pools[p.ID] = &memPool{pool: p, nodes: append([]ComputeNode(nil), nodes...), nextID: len(nodes) + 1}
}

// ScriptAllocationStates makes the next GetPool calls for poolID report the
// given states in order; once exhausted the last state sticks.
func (g *MemoryGateway) ScriptAllocationStates(poolID string, states ...AllocationState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if mp, ok := g.pools[poolID]; ok {
		mp.states = append([]AllocationState(nil), states...)
	}
}

// AddJob seeds a job and its tasks.
func (g *MemoryGateway) AddJob(j Job, tasks ...Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if j.State == "" {
		j.State = JobActive
	}
	if j.OnAllTasksComplete == "" {
		j.OnAllTasksComplete = NoAction
	}
	g.jobs[j.ID] = &memJob{job: j, tasks: append([]Task(nil), tasks...)}
}

// AddPackage seeds an application package.
func (g *MemoryGateway) AddPackage(pkg ApplicationPackage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.apps[pkg.ApplicationID] = append(g.apps[pkg.ApplicationID], pkg)
}

// Fail makes every call to op fail with err. When args are given, only calls
// whose leading arguments match are failed.
func (g *MemoryGateway) Fail(op string, err error, args ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.faults = append(g.faults, fault{op: op, args: args, err: err})
}

// Reset clears the call log and all faults.
func (g *MemoryGateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = nil
	g.faults = nil
}

// Calls returns a copy of the call log.
func (g *MemoryGateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallsTo returns the recorded calls of one operation.
func (g *MemoryGateway) CallsTo(op string) []Call {
	var out []Call
	for _, c := range g.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Mutations returns the recorded calls that change remote state.
func (g *MemoryGateway) Mutations() []Call {
	var out []Call
	for _, c := range g.Calls() {
		if !readOps[c.Op] {
			out = append(out, c)
		}
	}
	return out
}

// Nodes returns the current nodes of a pool.
func (g *MemoryGateway) Nodes(poolID string) []ComputeNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	mp, ok := g.pools[poolID]
	if !ok {
		return nil
	}
	return append([]ComputeNode(nil), mp.nodes...)
}

// Tasks returns the current tasks of a job.
func (g *MemoryGateway) Tasks(jobID string) []Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	mj, ok := g.jobs[jobID]
	if !ok {
		return nil
	}
	return append([]Task(nil), mj.tasks...)
}

// record logs the call and returns an injected fault, if any. Caller holds mu.
func (g *MemoryGateway) record(op string, args ...string) error {
	g.calls = append(g.calls, Call{Op: op, Args: args})
	for _, f := range g.faults {
		if f.op != op || len(f.args) > len(args) {
			continue
		}
		match := true
		for i, a := range f.args {
			if args[i] != a {
				match = false
				break
			}
		}
		if match {
			return f.err
		}
	}
	return nil
}

func (g *MemoryGateway) pool(op, poolID string) (*memPool, error) {
	mp, ok := g.pools[poolID]
	if !ok {
		return nil, NotFound(op, CodePoolNotFound)
	}
	return mp, nil
}

func (g *MemoryGateway) job(op, jobID string) (*memJob, error) {
	mj, ok := g.jobs[jobID]
	if !ok {
		return nil, NotFound(op, CodeJobNotFound)
	}
	return mj, nil
}

func (g *MemoryGateway) GetPool(ctx context.Context, poolID string) (*Pool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpGetPool, poolID); err != nil {
		return nil, err
	}
	mp, err := g.pool(OpGetPool, poolID)
	if err != nil {
		return nil, err
	}
	if len(mp.states) > 0 {
		mp.pool.AllocationState = mp.states[0]
		if len(mp.states) > 1 {
			mp.states = mp.states[1:]
		}
	}
	p := mp.pool
	return &p, nil
}

func (g *MemoryGateway) CreatePool(ctx context.Context, spec PoolSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpCreatePool, spec.ID, spec.VMSize); err != nil {
		return err
	}
	if _, ok := g.pools[spec.ID]; ok {
		return Conflict(OpCreatePool, CodePoolExists)
	}
	mp := &memPool{pool: Pool{ID: spec.ID, AllocationState: AllocationSteady}, spec: spec, nextID: 1}
	if spec.TargetDedicatedNodes != nil {
		mp.setTarget(*spec.TargetDedicatedNodes)
	}
	g.pools[spec.ID] = mp
	return nil
}

func (g *MemoryGateway) UpdatePool(ctx context.Context, poolID string, update PoolUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpUpdatePool, poolID); err != nil {
		return err
	}
	mp, err := g.pool(OpUpdatePool, poolID)
	if err != nil {
		return err
	}
	if update.TargetDedicatedNodes != nil {
		mp.setTarget(*update.TargetDedicatedNodes)
		mp.spec.TargetDedicatedNodes = update.TargetDedicatedNodes
	}
	if update.StartTask != nil {
		mp.spec.StartTask = update.StartTask
	}
	for _, id := range update.Identities {
		if !containsIdentity(mp.spec.Identities, id) {
			mp.spec.Identities = append(mp.spec.Identities, id)
		}
	}
	if update.Applications != nil {
		mp.spec.Applications = append([]ApplicationReference{}, update.Applications...)
	}
	return nil
}

func containsIdentity(ids []ManagedIdentity, id ManagedIdentity) bool {
	for _, have := range ids {
		if have.ResourceID() == id.ResourceID() {
			return true
		}
	}
	return false
}

// SpecOf returns the settings a pool was created or last updated with.
// Seeded pools report only their ID.
func (g *MemoryGateway) SpecOf(poolID string) (PoolSpec, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	mp, ok := g.pools[poolID]
	if !ok {
		return PoolSpec{}, false
	}
	spec := mp.spec
	spec.ID = poolID
	return spec, true
}

// setTarget adds creating nodes or trims nodes until the pool holds target.
func (mp *memPool) setTarget(target int) {
	for len(mp.nodes) < target {
		mp.nodes = append(mp.nodes, ComputeNode{ID: fmt.Sprintf("%s-node-%d", mp.pool.ID, mp.nextID), State: NodeCreating})
		mp.nextID++
	}
	if len(mp.nodes) > target {
		mp.nodes = mp.nodes[:target]
	}
	mp.pool.TargetDedicatedNodes = target
}

func (g *MemoryGateway) ResizePool(ctx context.Context, poolID string, targetNodes int, policy DeallocationPolicy) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpResizePool, poolID, fmt.Sprint(targetNodes), string(policy)); err != nil {
		return err
	}
	mp, err := g.pool(OpResizePool, poolID)
	if err != nil {
		return err
	}
	mp.setTarget(targetNodes)
	return nil
}

func (g *MemoryGateway) StopResize(ctx context.Context, poolID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpStopResize, poolID); err != nil {
		return err
	}
	mp, err := g.pool(OpStopResize, poolID)
	if err != nil {
		return err
	}
	if len(mp.states) == 0 {
		mp.pool.AllocationState = AllocationSteady
	}
	return nil
}

func (g *MemoryGateway) DeletePool(ctx context.Context, poolID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpDeletePool, poolID); err != nil {
		return err
	}
	if _, err := g.pool(OpDeletePool, poolID); err != nil {
		return err
	}
	delete(g.pools, poolID)
	return nil
}

func (g *MemoryGateway) RemoveNodes(ctx context.Context, poolID string, nodeIDs []string, policy DeallocationPolicy) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpRemoveNodes, poolID, strings.Join(nodeIDs, ","), string(policy)); err != nil {
		return err
	}
	mp, err := g.pool(OpRemoveNodes, poolID)
	if err != nil {
		return err
	}
	remove := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		remove[id] = true
	}
	kept := mp.nodes[:0]
	removed := 0
	for _, n := range mp.nodes {
		if remove[n.ID] {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	mp.nodes = kept
	mp.pool.TargetDedicatedNodes -= removed
	if mp.pool.TargetDedicatedNodes < 0 {
		mp.pool.TargetDedicatedNodes = 0
	}
	return nil
}

func (g *MemoryGateway) ListNodes(ctx context.Context, poolID string, filter NodeFilter) ([]ComputeNode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpListNodes, poolID); err != nil {
		return nil, err
	}
	mp, err := g.pool(OpListNodes, poolID)
	if err != nil {
		return nil, err
	}
	var out []ComputeNode
	for _, n := range mp.nodes {
		if filter.Matches(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (g *MemoryGateway) setNodeState(op, poolID, nodeID string, state NodeState) error {
	mp, err := g.pool(op, poolID)
	if err != nil {
		return err
	}
	for i := range mp.nodes {
		if mp.nodes[i].ID == nodeID {
			mp.nodes[i].State = state
			return nil
		}
	}
	return NotFound(op, CodeNodeNotFound)
}

func (g *MemoryGateway) EnableScheduling(ctx context.Context, poolID, nodeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpEnableScheduling, poolID, nodeID); err != nil {
		return err
	}
	return g.setNodeState(OpEnableScheduling, poolID, nodeID, NodeIdle)
}

func (g *MemoryGateway) RebootNode(ctx context.Context, poolID, nodeID string, option RebootOption) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpRebootNode, poolID, nodeID, string(option)); err != nil {
		return err
	}
	return g.setNodeState(OpRebootNode, poolID, nodeID, NodeRebooting)
}

func (g *MemoryGateway) GetJob(ctx context.Context, jobID string) (*Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpGetJob, jobID); err != nil {
		return nil, err
	}
	mj, err := g.job(OpGetJob, jobID)
	if err != nil {
		return nil, err
	}
	j := mj.job
	return &j, nil
}

func (g *MemoryGateway) ListJobs(ctx context.Context) ([]Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpListJobs); err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(g.jobs))
	for _, mj := range g.jobs {
		out = append(out, mj.job)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (g *MemoryGateway) CreateJob(ctx context.Context, spec JobSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpCreateJob, spec.ID, spec.PoolID); err != nil {
		return err
	}
	if _, ok := g.jobs[spec.ID]; ok {
		return Conflict(OpCreateJob, CodeJobExists)
	}
	onComplete := spec.OnAllTasksComplete
	if onComplete == "" {
		onComplete = NoAction
	}
	g.jobs[spec.ID] = &memJob{job: Job{
		ID:                   spec.ID,
		PoolID:               spec.PoolID,
		State:                JobActive,
		OnAllTasksComplete:   onComplete,
		UsesTaskDependencies: spec.UsesTaskDependencies,
	}}
	return nil
}

func (g *MemoryGateway) DeleteJob(ctx context.Context, jobID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpDeleteJob, jobID); err != nil {
		return err
	}
	if _, err := g.job(OpDeleteJob, jobID); err != nil {
		return err
	}
	delete(g.jobs, jobID)
	return nil
}

func (g *MemoryGateway) UpdateJob(ctx context.Context, jobID string, update JobUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpUpdateJob, jobID); err != nil {
		return err
	}
	mj, err := g.job(OpUpdateJob, jobID)
	if err != nil {
		return err
	}
	if update.PoolID != nil {
		mj.job.PoolID = *update.PoolID
	}
	if update.OnAllTasksComplete != nil {
		mj.job.OnAllTasksComplete = *update.OnAllTasksComplete
	}
	if update.UsesTaskDependencies != nil {
		mj.job.UsesTaskDependencies = *update.UsesTaskDependencies
	}
	if update.ID != nil && *update.ID != jobID {
		delete(g.jobs, jobID)
		mj.job.ID = *update.ID
		g.jobs[mj.job.ID] = mj
	}
	return nil
}

func (g *MemoryGateway) TerminateJob(ctx context.Context, jobID, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpTerminateJob, jobID, reason); err != nil {
		return err
	}
	mj, err := g.job(OpTerminateJob, jobID)
	if err != nil {
		return err
	}
	mj.job.State = JobCompleted
	return nil
}

func (g *MemoryGateway) ListTasks(ctx context.Context, jobID string) ([]Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpListTasks, jobID); err != nil {
		return nil, err
	}
	mj, err := g.job(OpListTasks, jobID)
	if err != nil {
		return nil, err
	}
	return append([]Task(nil), mj.tasks...), nil
}

// AddTasks adds tasks in order and stops at the first duplicate, leaving
// the earlier tasks in place the way a non-atomic remote add would.
func (g *MemoryGateway) AddTasks(ctx context.Context, jobID string, tasks []TaskSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpAddTasks, jobID, fmt.Sprint(len(tasks))); err != nil {
		return err
	}
	mj, err := g.job(OpAddTasks, jobID)
	if err != nil {
		return err
	}
	for _, spec := range tasks {
		for _, t := range mj.tasks {
			if t.ID == spec.ID {
				return Conflict(OpAddTasks, CodeTaskExists)
			}
		}
		mj.tasks = append(mj.tasks, Task{ID: spec.ID, State: TaskActive, DependsOn: spec.DependsOn})
	}
	return nil
}

func (g *MemoryGateway) DeleteTask(ctx context.Context, jobID, taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpDeleteTask, jobID, taskID); err != nil {
		return err
	}
	mj, err := g.job(OpDeleteTask, jobID)
	if err != nil {
		return err
	}
	for i, t := range mj.tasks {
		if t.ID == taskID {
			mj.tasks = append(mj.tasks[:i], mj.tasks[i+1:]...)
			return nil
		}
	}
	return NotFound(OpDeleteTask, CodeTaskNotFound)
}

func (g *MemoryGateway) GetTaskCounts(ctx context.Context, jobID string) (*TaskCounts, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpGetTaskCounts, jobID); err != nil {
		return nil, err
	}
	mj, err := g.job(OpGetTaskCounts, jobID)
	if err != nil {
		return nil, err
	}
	counts := &TaskCounts{JobID: jobID}
	for _, t := range mj.tasks {
		switch t.State {
		case TaskActive:
			counts.Active++
		case TaskRunning, TaskPreparing:
			counts.Running++
		case TaskCompleted:
			counts.Completed++
			if t.FailureInfo != nil {
				counts.Failed++
			} else {
				counts.Succeeded++
			}
		}
	}
	return counts, nil
}

func (g *MemoryGateway) ListApplicationPackages(ctx context.Context, applicationID string) ([]ApplicationPackage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpListApplicationPackages, applicationID); err != nil {
		return nil, err
	}
	pkgs, ok := g.apps[applicationID]
	if !ok {
		return nil, NotFound(OpListApplicationPackages, CodeApplicationNotFound)
	}
	return append([]ApplicationPackage(nil), pkgs...), nil
}

func (g *MemoryGateway) CreateApplicationPackage(ctx context.Context, applicationID, version string) (*ApplicationPackage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpCreateApplicationPackage, applicationID, version); err != nil {
		return nil, err
	}
	pkg := ApplicationPackage{
		ApplicationID: applicationID,
		Version:       version,
		State:         PackagePending,
		StorageURL:    fmt.Sprintf("memory://apps/%s/%s.zip", applicationID, version),
	}
	pkgs := g.apps[applicationID]
	for i, p := range pkgs {
		if p.Version == version {
			pkgs[i] = pkg
			return &pkg, nil
		}
	}
	g.apps[applicationID] = append(pkgs, pkg)
	return &pkg, nil
}

func (g *MemoryGateway) ActivateApplicationPackage(ctx context.Context, applicationID, version, format string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpActivateApplicationPackage, applicationID, version, format); err != nil {
		return err
	}
	pkgs := g.apps[applicationID]
	for i, p := range pkgs {
		if p.Version == version {
			pkgs[i].State = PackageActive
			return nil
		}
	}
	return NotFound(OpActivateApplicationPackage, CodeApplicationPackageNotFound)
}

func (g *MemoryGateway) DeleteApplicationPackage(ctx context.Context, applicationID, version string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpDeleteApplicationPackage, applicationID, version); err != nil {
		return err
	}
	pkgs := g.apps[applicationID]
	for i, p := range pkgs {
		if p.Version == version {
			g.apps[applicationID] = append(pkgs[:i], pkgs[i+1:]...)
			return nil
		}
	}
	return NotFound(OpDeleteApplicationPackage, CodeApplicationPackageNotFound)
}

func (g *MemoryGateway) DeleteApplication(ctx context.Context, applicationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.record(OpDeleteApplication, applicationID); err != nil {
		return err
	}
	pkgs, ok := g.apps[applicationID]
	if !ok {
		return NotFound(OpDeleteApplication, CodeApplicationNotFound)
	}
	if len(pkgs) > 0 {
		return NewRemoteError(OpDeleteApplication, "ApplicationHasPackages", http.StatusConflict, nil)
	}
	delete(g.apps, applicationID)
	return nil
}

var _ Gateway = (*MemoryGateway)(nil)
