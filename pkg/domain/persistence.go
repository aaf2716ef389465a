package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Create methods allocate the next
// numeric ID for the entity when the supplied ID is zero.
type Transaction interface {
	Snapshot() TransactionView
	CreateUser(User) (User, error)
	CreateMopFile(MopFile) (MopFile, error)
	UpdateMopFile(id int64, mutator func(*MopFile) error) (MopFile, error)
	DeleteMopFile(id int64) error
	CreatePipeline(Pipeline) (Pipeline, error)
	UpdatePipeline(id int64, mutator func(*Pipeline) error) (Pipeline, error)
	DeletePipeline(id int64) error
	CreatePipelineStep(PipelineStep) (PipelineStep, error)
	DeletePipelineStep(id int64) error
	CreatePipelineExecution(PipelineExecution) (PipelineExecution, error)
	UpdatePipelineExecution(id int64, mutator func(*PipelineExecution) error) (PipelineExecution, error)
	CreateSharedPipeline(SharedPipeline) (SharedPipeline, error)
	DeleteSharedPipeline(id int64) error
	CreateTeamMember(TeamMember) (TeamMember, error)
	PutIntegrationSettings(IntegrationSettings) (IntegrationSettings, error)
	FindMopFile(id int64) (MopFile, bool)
	FindPipeline(id int64) (Pipeline, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListMopFiles() []MopFile
	ListPipelines() []Pipeline
	ListPipelineSteps(pipelineID int64) []PipelineStep
	ListPipelineExecutions(pipelineID int64) []PipelineExecution
	ListSharedPipelines() []SharedPipeline
	FindUser(id int64) (User, bool)
	FindMopFile(id int64) (MopFile, bool)
	FindPipeline(id int64) (Pipeline, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetUser(id int64) (User, bool)
	GetMopFile(id int64) (MopFile, bool)
	ListMopFiles() []MopFile
	GetPipeline(id int64) (Pipeline, bool)
	ListPipelines() []Pipeline
	ListPipelineSteps(pipelineID int64) []PipelineStep
	ListPipelineExecutions(pipelineID int64) []PipelineExecution
	ListSharedPipelines() []SharedPipeline
	ListTeamMembers() []TeamMember
	GetIntegrationSettings(userID int64) (IntegrationSettings, bool)
}
