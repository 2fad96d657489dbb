// Package batch holds the domain model of the batch service and the gateway
// contract the control plane consumes.
package batch

import "context"

// MaxRemoveNodes is the most node IDs the service accepts in one removal.
const MaxRemoveNodes = 100

// Gateway is the interface for remote batch service implementations.
// Pools, jobs and tasks are addressed by ID within the configured account.
// RemoveNodes accepts at most MaxRemoveNodes IDs per call.
type Gateway interface {
	GetPool(ctx context.Context, poolID string) (*Pool, error)
	CreatePool(ctx context.Context, spec PoolSpec) error
	UpdatePool(ctx context.Context, poolID string, update PoolUpdate) error
	ResizePool(ctx context.Context, poolID string, targetNodes int, policy DeallocationPolicy) error
	StopResize(ctx context.Context, poolID string) error
	DeletePool(ctx context.Context, poolID string) error
	RemoveNodes(ctx context.Context, poolID string, nodeIDs []string, policy DeallocationPolicy) error
	ListNodes(ctx context.Context, poolID string, filter NodeFilter) ([]ComputeNode, error)
	EnableScheduling(ctx context.Context, poolID, nodeID string) error
	RebootNode(ctx context.Context, poolID, nodeID string, option RebootOption) error

	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	CreateJob(ctx context.Context, spec JobSpec) error
	DeleteJob(ctx context.Context, jobID string) error
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error
	TerminateJob(ctx context.Context, jobID, reason string) error

	ListTasks(ctx context.Context, jobID string) ([]Task, error)
	AddTasks(ctx context.Context, jobID string, tasks []TaskSpec) error
	DeleteTask(ctx context.Context, jobID, taskID string) error
	GetTaskCounts(ctx context.Context, jobID string) (*TaskCounts, error)

	ListApplicationPackages(ctx context.Context, applicationID string) ([]ApplicationPackage, error)
	CreateApplicationPackage(ctx context.Context, applicationID, version string) (*ApplicationPackage, error)
	ActivateApplicationPackage(ctx context.Context, applicationID, version, format string) error
	DeleteApplicationPackage(ctx context.Context, applicationID, version string) error
	DeleteApplication(ctx context.Context, applicationID string) error
}
