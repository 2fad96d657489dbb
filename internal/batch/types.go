package batch

import "strings"

// AllocationState is the resize state of a pool.
type AllocationState string

const (
	AllocationSteady   AllocationState = "steady"
	AllocationResizing AllocationState = "resizing"
	AllocationStopping AllocationState = "stopping"
)

// NodeState is the state the service reports for a compute node.
// Values outside the known set are kept verbatim.
type NodeState string

const (
	NodeCreating            NodeState = "creating"
	NodeStarting            NodeState = "starting"
	NodeWaitingForStartTask NodeState = "waitingforstarttask"
	NodeRunning             NodeState = "running"
	NodeIdle                NodeState = "idle"
	NodeRebooting           NodeState = "rebooting"
	NodeOffline             NodeState = "offline"
	NodeDeallocated         NodeState = "deallocated"
	NodeUnusable            NodeState = "unusable"
	NodeUnknown             NodeState = "unknown"
	NodeLeavingPool         NodeState = "leavingpool"
	NodePreempted           NodeState = "preempted"
)

var knownNodeStates = map[NodeState]bool{
	NodeCreating: true, NodeStarting: true, NodeWaitingForStartTask: true,
	NodeRunning: true, NodeIdle: true, NodeRebooting: true, NodeOffline: true,
	NodeDeallocated: true, NodeUnusable: true, NodeUnknown: true,
	NodeLeavingPool: true, NodePreempted: true,
}

// ParseNodeState normalizes a wire value. Unrecognised states are returned
// lower-cased but otherwise untouched; they are never folded into NodeUnknown.
func ParseNodeState(s string) NodeState {
	return NodeState(strings.ToLower(strings.TrimSpace(s)))
}

// Known reports whether s is one of the states the service documents.
func (s NodeState) Known() bool {
	return knownNodeStates[s]
}

// UnhealthyNodeStates are the states the health monitor remediates.
var UnhealthyNodeStates = []NodeState{NodeOffline, NodeDeallocated, NodeUnusable, NodeUnknown}

// DeallocationPolicy controls what happens to running tasks when a node leaves the pool.
type DeallocationPolicy string

const (
	DeallocateRequeue        DeallocationPolicy = "requeue"
	DeallocateTerminate      DeallocationPolicy = "terminate"
	DeallocateTaskCompletion DeallocationPolicy = "taskcompletion"
	DeallocateRetainedData   DeallocationPolicy = "retaineddata"
)

// ParseDeallocationPolicy returns the policy for s, defaulting to requeue when empty.
func ParseDeallocationPolicy(s string) (DeallocationPolicy, error) {
	switch p := DeallocationPolicy(strings.ToLower(s)); p {
	case "":
		return DeallocateRequeue, nil
	case DeallocateRequeue, DeallocateTerminate, DeallocateTaskCompletion, DeallocateRetainedData:
		return p, nil
	default:
		return "", Validation("deallocationPolicy", "unknown deallocation policy "+s)
	}
}

// RebootOption controls what happens to running tasks when a node reboots.
type RebootOption string

const (
	RebootRequeue        RebootOption = "requeue"
	RebootTerminate      RebootOption = "terminate"
	RebootTaskCompletion RebootOption = "taskcompletion"
	RebootRetainedData   RebootOption = "retaineddata"
)

// ParseRebootOption returns the option for s, defaulting to requeue when empty.
func ParseRebootOption(s string) (RebootOption, error) {
	switch o := RebootOption(strings.ToLower(s)); o {
	case "":
		return RebootRequeue, nil
	case RebootRequeue, RebootTerminate, RebootTaskCompletion, RebootRetainedData:
		return o, nil
	default:
		return "", Validation("rebootOption", "unknown reboot option "+s)
	}
}

// Pool is a snapshot of a pool as last read from the service.
type Pool struct {
	ID                   string          `json:"id"`
	AllocationState      AllocationState `json:"allocationState"`
	AutoScaleEnabled     bool            `json:"autoScaleEnabled"`
	TargetDedicatedNodes int             `json:"targetDedicatedNodes"`
}

// ComputeNode is a snapshot of one node in a pool.
type ComputeNode struct {
	ID    string    `json:"id"`
	State NodeState `json:"state"`
}

// NodeFilter restricts a node listing. An empty filter lists every node.
type NodeFilter struct {
	States []NodeState
}

// Matches reports whether n passes the filter.
func (f NodeFilter) Matches(n ComputeNode) bool {
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if n.State == s {
			return true
		}
	}
	return false
}

// JobState is the lifecycle state of a job.
type JobState string

const (
	JobActive      JobState = "active"
	JobDisabling   JobState = "disabling"
	JobDisabled    JobState = "disabled"
	JobEnabling    JobState = "enabling"
	JobTerminating JobState = "terminating"
	JobCompleted   JobState = "completed"
	JobDeleting    JobState = "deleting"
)

// OnAllTasksComplete is what the service does with a job once its tasks finish.
type OnAllTasksComplete string

const (
	NoAction     OnAllTasksComplete = "noaction"
	TerminateJob OnAllTasksComplete = "terminatejob"
)

// OnAllTasksCompleteFor maps the terminate flag used throughout the API.
func OnAllTasksCompleteFor(terminate bool) OnAllTasksComplete {
	if terminate {
		return TerminateJob
	}
	return NoAction
}

// Job is a snapshot of a job.
type Job struct {
	ID                   string             `json:"id"`
	PoolID               string             `json:"poolId"`
	State                JobState           `json:"state"`
	OnAllTasksComplete   OnAllTasksComplete `json:"onAllTasksComplete"`
	UsesTaskDependencies bool               `json:"usesTaskDependencies"`
}

// JobSpec describes a job to create.
type JobSpec struct {
	ID                   string             `json:"id"`
	PoolID               string             `json:"poolId"`
	OnAllTasksComplete   OnAllTasksComplete `json:"onAllTasksComplete"`
	UsesTaskDependencies bool               `json:"usesTaskDependencies"`
}

// JobUpdate carries only the fields to change; nil fields are left alone.
type JobUpdate struct {
	ID                   *string             `json:"id,omitempty"`
	PoolID               *string             `json:"poolId,omitempty"`
	OnAllTasksComplete   *OnAllTasksComplete `json:"onAllTasksComplete,omitempty"`
	UsesTaskDependencies *bool               `json:"usesTaskDependencies,omitempty"`
}

// Empty reports whether the update would change nothing.
func (u JobUpdate) Empty() bool {
	return u.ID == nil && u.PoolID == nil && u.OnAllTasksComplete == nil && u.UsesTaskDependencies == nil
}

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskActive    TaskState = "active"
	TaskPreparing TaskState = "preparing"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
)

// Failure codes reported on completed tasks.
const (
	FailureExitCode = "FailureExitCode"
	TaskEnded       = "TaskEnded"
)

// FailureInfo describes why a task failed.
type FailureInfo struct {
	Category string `json:"category,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message,omitempty"`
}

// Task is a snapshot of a task.
type Task struct {
	ID          string       `json:"id"`
	State       TaskState    `json:"state"`
	FailureInfo *FailureInfo `json:"failureInfo,omitempty"`
	DependsOn   []string     `json:"dependsOn,omitempty"`
}

// EnvironmentSetting is a single environment variable for a task.
type EnvironmentSetting struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TaskSpec describes a task to add to a job.
type TaskSpec struct {
	ID          string               `json:"id"`
	CommandLine string               `json:"commandLine"`
	Environment []EnvironmentSetting `json:"environment,omitempty"`
	DependsOn   []string             `json:"dependsOn,omitempty"`
}

// NewTaskSpec builds a task spec. env and dependsOn may be nil.
func NewTaskSpec(id, commandLine string, env []EnvironmentSetting, dependsOn []string) TaskSpec {
	return TaskSpec{ID: id, CommandLine: commandLine, Environment: env, DependsOn: dependsOn}
}

// TaskCounts summarises the tasks of one job.
type TaskCounts struct {
	JobID     string `json:"jobId"`
	Active    int    `json:"active"`
	Running   int    `json:"running"`
	Completed int    `json:"completed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// PackageState is the lifecycle state of an application package.
type PackageState string

const (
	PackagePending PackageState = "Pending"
	PackageActive  PackageState = "Active"
)

// ApplicationPackage is one version of an application.
type ApplicationPackage struct {
	ApplicationID string       `json:"applicationId"`
	Version       string       `json:"version"`
	State         PackageState `json:"state"`
	StorageURL    string       `json:"storageUrl,omitempty"`
}

// ElevationLevel is the privilege of the auto-user that runs a start task.
type ElevationLevel string

const (
	ElevationNonAdmin ElevationLevel = "nonadmin"
	ElevationAdmin    ElevationLevel = "admin"
)

// AutoUserScope selects whether the auto-user is shared by the pool or made per task.
type AutoUserScope string

const (
	AutoUserScopePool AutoUserScope = "pool"
	AutoUserScopeTask AutoUserScope = "task"
)

// ImageReference names a marketplace image.
type ImageReference struct {
	Publisher string `json:"publisher"`
	Offer     string `json:"offer"`
	SKU       string `json:"sku"`
}

// StartTask runs on every node as it joins the pool.
type StartTask struct {
	CommandLine    string         `json:"commandLine"`
	WaitForSuccess bool           `json:"waitForSuccess"`
	ElevationLevel ElevationLevel `json:"elevationLevel,omitempty"`
	AutoUserScope  AutoUserScope  `json:"autoUserScope,omitempty"`
}

// normalize fills the auto-user defaults and rejects unknown values.
func (t *StartTask) normalize() error {
	if strings.TrimSpace(t.CommandLine) == "" {
		return Validation("startTask.commandLine", "start task needs a command line")
	}
	switch t.ElevationLevel = ElevationLevel(strings.ToLower(string(t.ElevationLevel))); t.ElevationLevel {
	case "":
		t.ElevationLevel = ElevationNonAdmin
	case ElevationNonAdmin, ElevationAdmin:
	default:
		return Validation("startTask.elevationLevel", "unknown elevation level "+string(t.ElevationLevel))
	}
	switch t.AutoUserScope = AutoUserScope(strings.ToLower(string(t.AutoUserScope))); t.AutoUserScope {
	case "":
		t.AutoUserScope = AutoUserScopePool
	case AutoUserScopePool, AutoUserScopeTask:
	default:
		return Validation("startTask.autoUserScope", "unknown auto-user scope "+string(t.AutoUserScope))
	}
	return nil
}

// ManagedIdentity is a user-assigned identity attached to pool nodes.
type ManagedIdentity struct {
	SubscriptionID string `json:"subscriptionId"`
	ResourceGroup  string `json:"resourceGroup"`
	Name           string `json:"name"`
}

// ResourceID is the ARM resource ID of the identity.
func (m ManagedIdentity) ResourceID() string {
	return "/subscriptions/" + m.SubscriptionID + "/resourceGroups/" + m.ResourceGroup +
		"/providers/Microsoft.ManagedIdentity/userAssignedIdentities/" + m.Name
}

func (m ManagedIdentity) validate() error {
	if m.SubscriptionID == "" || m.ResourceGroup == "" || m.Name == "" {
		return Validation("identities", "identity needs subscription, resource group and name")
	}
	return nil
}

// ApplicationReference installs one application package version on pool nodes.
type ApplicationReference struct {
	ApplicationID string `json:"applicationId"`
	Version       string `json:"version"`
}

func validateApplications(refs []ApplicationReference) error {
	for _, r := range refs {
		if r.ApplicationID == "" || r.Version == "" {
			return Validation("applications", "application reference needs an id and a version")
		}
	}
	return nil
}

// PoolSpec describes a pool to create. TargetDedicatedNodes, when set, gives
// the pool a fixed scale; otherwise it is created with no scale settings.
type PoolSpec struct {
	ID                   string                 `json:"id"`
	VMSize               string                 `json:"vmSize"`
	Image                ImageReference         `json:"image"`
	NodeAgentSKUID       string                 `json:"nodeAgentSkuId"`
	TargetDedicatedNodes *int                   `json:"targetDedicatedNodes,omitempty"`
	StartTask            *StartTask             `json:"startTask,omitempty"`
	Identities           []ManagedIdentity      `json:"identities,omitempty"`
	Applications         []ApplicationReference `json:"applications,omitempty"`
}

// Validate checks the required fields and fills start task defaults.
func (s *PoolSpec) Validate() error {
	switch {
	case s.ID == "":
		return Validation("id", "pool id is required")
	case s.VMSize == "":
		return Validation("vmSize", "vm size is required")
	case s.Image.Publisher == "" || s.Image.Offer == "" || s.Image.SKU == "":
		return Validation("image", "image publisher, offer and sku are required")
	case s.NodeAgentSKUID == "":
		return Validation("nodeAgentSkuId", "node agent sku is required")
	case s.TargetDedicatedNodes != nil && *s.TargetDedicatedNodes < 0:
		return Validation("targetDedicatedNodes", "target must not be negative")
	}
	if s.StartTask != nil {
		if err := s.StartTask.normalize(); err != nil {
			return err
		}
	}
	for _, id := range s.Identities {
		if err := id.validate(); err != nil {
			return err
		}
	}
	return validateApplications(s.Applications)
}

// PoolUpdate carries the pool settings to change. Nil fields are left alone.
// A non-nil Applications replaces the installed references, so an empty
// slice removes them all. Identities are added to the existing set.
type PoolUpdate struct {
	TargetDedicatedNodes *int                   `json:"targetDedicatedNodes,omitempty"`
	StartTask            *StartTask             `json:"startTask,omitempty"`
	Identities           []ManagedIdentity      `json:"identities,omitempty"`
	Applications         []ApplicationReference `json:"applications"`
}

// Empty reports whether the update would change nothing.
func (u PoolUpdate) Empty() bool {
	return u.TargetDedicatedNodes == nil && u.StartTask == nil && len(u.Identities) == 0 && u.Applications == nil
}

// Validate checks the supplied fields and fills start task defaults.
func (u *PoolUpdate) Validate() error {
	if u.TargetDedicatedNodes != nil && *u.TargetDedicatedNodes < 0 {
		return Validation("targetDedicatedNodes", "target must not be negative")
	}
	if u.StartTask != nil {
		if err := u.StartTask.normalize(); err != nil {
			return err
		}
	}
	for _, id := range u.Identities {
		if err := id.validate(); err != nil {
			return err
		}
	}
	return validateApplications(u.Applications)
}
