package azbatch

import (
	"github.com/opensandbox/batchfleet/internal/batch"
)

// Wire shapes of the Batch REST API. Only the fields the control plane
// reads or writes are modelled.

type poolWire struct {
	ID                   string `json:"id"`
	AllocationState      string `json:"allocationState"`
	EnableAutoScale      bool   `json:"enableAutoScale"`
	TargetDedicatedNodes int    `json:"targetDedicatedNodes"`
}

func (p poolWire) toPool() *batch.Pool {
	return &batch.Pool{
		ID:                   p.ID,
		AllocationState:      batch.AllocationState(p.AllocationState),
		AutoScaleEnabled:     p.EnableAutoScale,
		TargetDedicatedNodes: p.TargetDedicatedNodes,
	}
}

type resizeBody struct {
	TargetDedicatedNodes   int    `json:"targetDedicatedNodes"`
	NodeDeallocationOption string `json:"nodeDeallocationOption,omitempty"`
}

type removeNodesBody struct {
	NodeList               []string `json:"nodeList"`
	NodeDeallocationOption string   `json:"nodeDeallocationOption,omitempty"`
}

type rebootBody struct {
	NodeRebootOption string `json:"nodeRebootOption,omitempty"`
}

type nodeWire struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type poolInfo struct {
	PoolID string `json:"poolId"`
}

type jobWire struct {
	ID                   string   `json:"id"`
	State                string   `json:"state,omitempty"`
	PoolInfo             poolInfo `json:"poolInfo"`
	OnAllTasksComplete   string   `json:"onAllTasksComplete,omitempty"`
	UsesTaskDependencies bool     `json:"usesTaskDependencies,omitempty"`
}

func (j jobWire) toJob() batch.Job {
	onComplete := batch.OnAllTasksComplete(j.OnAllTasksComplete)
	if onComplete == "" {
		onComplete = batch.NoAction
	}
	return batch.Job{
		ID:                   j.ID,
		PoolID:               j.PoolInfo.PoolID,
		State:                batch.JobState(j.State),
		OnAllTasksComplete:   onComplete,
		UsesTaskDependencies: j.UsesTaskDependencies,
	}
}

type jobPatch struct {
	PoolInfo             *poolInfo `json:"poolInfo,omitempty"`
	OnAllTasksComplete   string    `json:"onAllTasksComplete,omitempty"`
	UsesTaskDependencies *bool     `json:"usesTaskDependencies,omitempty"`
}

type terminateBody struct {
	TerminateReason string `json:"terminateReason,omitempty"`
}

type dependsOn struct {
	TaskIDs []string `json:"taskIds"`
}

type taskWire struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	ExecutionInfo *struct {
		FailureInfo *batch.FailureInfo `json:"failureInfo,omitempty"`
	} `json:"executionInfo,omitempty"`
	DependsOn *dependsOn `json:"dependsOn,omitempty"`
}

func (t taskWire) toTask() batch.Task {
	task := batch.Task{ID: t.ID, State: batch.TaskState(t.State)}
	if t.ExecutionInfo != nil {
		task.FailureInfo = t.ExecutionInfo.FailureInfo
	}
	if t.DependsOn != nil {
		task.DependsOn = t.DependsOn.TaskIDs
	}
	return task
}

type taskAddWire struct {
	ID                  string                     `json:"id"`
	CommandLine         string                     `json:"commandLine"`
	EnvironmentSettings []batch.EnvironmentSetting `json:"environmentSettings,omitempty"`
	DependsOn           *dependsOn                 `json:"dependsOn,omitempty"`
}

func taskAddFrom(spec batch.TaskSpec) taskAddWire {
	w := taskAddWire{ID: spec.ID, CommandLine: spec.CommandLine, EnvironmentSettings: spec.Environment}
	if len(spec.DependsOn) > 0 {
		w.DependsOn = &dependsOn{TaskIDs: spec.DependsOn}
	}
	return w
}

type taskCollection struct {
	Value []taskAddWire `json:"value"`
}

// Per-task status values of an add-collection result.
const (
	taskAddSuccess     = "success"
	taskAddServerError = "servererror"
)

type taskAddResult struct {
	Status string `json:"status"`
	TaskID string `json:"taskId"`
	Error  *struct {
		Code string `json:"code"`
	} `json:"error,omitempty"`
}

type taskAddResults struct {
	Value []taskAddResult `json:"value"`
}

type taskCountsWire struct {
	TaskCounts struct {
		Active    int `json:"active"`
		Running   int `json:"running"`
		Completed int `json:"completed"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	} `json:"taskCounts"`
}

type packageWire struct {
	Name       string `json:"name"`
	Properties struct {
		State      string `json:"state"`
		StorageURL string `json:"storageUrl"`
	} `json:"properties"`
}

func (p packageWire) toPackage(applicationID string) batch.ApplicationPackage {
	return batch.ApplicationPackage{
		ApplicationID: applicationID,
		Version:       p.Name,
		State:         batch.PackageState(p.Properties.State),
		StorageURL:    p.Properties.StorageURL,
	}
}

type activateBody struct {
	Format string `json:"format"`
}

// armPool is the management-plane pool resource. Only the fields the
// control plane sets are modelled; PATCH bodies omit what they do not change.
type armPool struct {
	Identity   *armPoolIdentity  `json:"identity,omitempty"`
	Properties armPoolProperties `json:"properties"`
}

type armPoolIdentity struct {
	Type                   string              `json:"type"`
	UserAssignedIdentities map[string]struct{} `json:"userAssignedIdentities"`
}

type armPoolProperties struct {
	DisplayName             string                   `json:"displayName,omitempty"`
	VMSize                  string                   `json:"vmSize,omitempty"`
	DeploymentConfiguration *armDeployment           `json:"deploymentConfiguration,omitempty"`
	ScaleSettings           *armScaleSettings        `json:"scaleSettings,omitempty"`
	StartTask               *armStartTask            `json:"startTask,omitempty"`
	ApplicationPackages     *[]armApplicationPackage `json:"applicationPackages,omitempty"`
}

type armDeployment struct {
	VirtualMachineConfiguration struct {
		ImageReference batch.ImageReference `json:"imageReference"`
		NodeAgentSKUID string               `json:"nodeAgentSkuId"`
	} `json:"virtualMachineConfiguration"`
}

type armScaleSettings struct {
	FixedScale struct {
		TargetDedicatedNodes int `json:"targetDedicatedNodes"`
	} `json:"fixedScale"`
}

type armStartTask struct {
	CommandLine    string `json:"commandLine"`
	WaitForSuccess bool   `json:"waitForSuccess"`
	UserIdentity   struct {
		AutoUser struct {
			Scope          string `json:"scope"`
			ElevationLevel string `json:"elevationLevel"`
		} `json:"autoUser"`
	} `json:"userIdentity"`
}

type armApplicationPackage struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

func armIdentityFrom(ids []batch.ManagedIdentity) *armPoolIdentity {
	if len(ids) == 0 {
		return nil
	}
	w := &armPoolIdentity{Type: "UserAssigned", UserAssignedIdentities: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		w.UserAssignedIdentities[id.ResourceID()] = struct{}{}
	}
	return w
}

func armScaleFrom(target *int) *armScaleSettings {
	if target == nil {
		return nil
	}
	s := &armScaleSettings{}
	s.FixedScale.TargetDedicatedNodes = *target
	return s
}

var elevationWire = map[batch.ElevationLevel]string{
	batch.ElevationNonAdmin: "NonAdmin",
	batch.ElevationAdmin:    "Admin",
}

var scopeWire = map[batch.AutoUserScope]string{
	batch.AutoUserScopePool: "Pool",
	batch.AutoUserScopeTask: "Task",
}

func armStartTaskFrom(t *batch.StartTask) *armStartTask {
	if t == nil {
		return nil
	}
	w := &armStartTask{CommandLine: t.CommandLine, WaitForSuccess: t.WaitForSuccess}
	w.UserIdentity.AutoUser.Scope = scopeWire[t.AutoUserScope]
	w.UserIdentity.AutoUser.ElevationLevel = elevationWire[t.ElevationLevel]
	return w
}
