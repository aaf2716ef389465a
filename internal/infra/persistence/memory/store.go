// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"cicdcopilot/pkg/domain"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// User aliases domain.User for in-memory persistence operations.
	User = domain.User
	// MopFile aliases domain.MopFile.
	MopFile = domain.MopFile
	// Pipeline aliases domain.Pipeline.
	Pipeline = domain.Pipeline
	// PipelineStep aliases domain.PipelineStep.
	PipelineStep = domain.PipelineStep
	// PipelineExecution aliases domain.PipelineExecution.
	PipelineExecution = domain.PipelineExecution
	// SharedPipeline aliases domain.SharedPipeline.
	SharedPipeline = domain.SharedPipeline
	// TeamMember aliases domain.TeamMember.
	TeamMember = domain.TeamMember
	// IntegrationSettings aliases domain.IntegrationSettings.
	IntegrationSettings = domain.IntegrationSettings
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	users      map[int64]User
	mopFiles   map[int64]MopFile
	pipelines  map[int64]Pipeline
	steps      map[int64]PipelineStep
	executions map[int64]PipelineExecution
	shares     map[int64]SharedPipeline
	team       map[int64]TeamMember
	settings   map[int64]IntegrationSettings
	sequences  map[domain.EntityType]int64
}

// Snapshot captures a point-in-time clone of the store state. Integration
// settings are keyed by user ID; every other bucket by record ID.
type Snapshot struct {
	Users      map[int64]User                `json:"users"`
	MopFiles   map[int64]MopFile             `json:"mop_files"`
	Pipelines  map[int64]Pipeline            `json:"pipelines"`
	Steps      map[int64]PipelineStep        `json:"pipeline_steps"`
	Executions map[int64]PipelineExecution   `json:"pipeline_executions"`
	Shares     map[int64]SharedPipeline      `json:"shared_pipelines"`
	Team       map[int64]TeamMember          `json:"team_members"`
	Settings   map[int64]IntegrationSettings `json:"integration_settings"`
	Sequences  map[domain.EntityType]int64   `json:"sequences"`
}

func newMemoryState() memoryState {
	return memoryState{
		users:      make(map[int64]User),
		mopFiles:   make(map[int64]MopFile),
		pipelines:  make(map[int64]Pipeline),
		steps:      make(map[int64]PipelineStep),
		executions: make(map[int64]PipelineExecution),
		shares:     make(map[int64]SharedPipeline),
		team:       make(map[int64]TeamMember),
		settings:   make(map[int64]IntegrationSettings),
		sequences:  make(map[domain.EntityType]int64),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cp := state.clone()
	return Snapshot{
		Users:      cp.users,
		MopFiles:   cp.mopFiles,
		Pipelines:  cp.pipelines,
		Steps:      cp.steps,
		Executions: cp.executions,
		Shares:     cp.shares,
		Team:       cp.team,
		Settings:   cp.settings,
		Sequences:  cp.sequences,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		users:      s.Users,
		mopFiles:   s.MopFiles,
		pipelines:  s.Pipelines,
		steps:      s.Steps,
		executions: s.Executions,
		shares:     s.Shares,
		team:       s.Team,
		settings:   s.Settings,
		sequences:  s.Sequences,
	}
	return state.clone()
}

// migrateSnapshot initialises missing buckets, drops records whose parent is
// gone, and advances sequences past the highest stored IDs.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Users == nil {
		snapshot.Users = make(map[int64]User)
	}
	if snapshot.MopFiles == nil {
		snapshot.MopFiles = make(map[int64]MopFile)
	}
	if snapshot.Pipelines == nil {
		snapshot.Pipelines = make(map[int64]Pipeline)
	}
	if snapshot.Steps == nil {
		snapshot.Steps = make(map[int64]PipelineStep)
	}
	if snapshot.Executions == nil {
		snapshot.Executions = make(map[int64]PipelineExecution)
	}
	if snapshot.Shares == nil {
		snapshot.Shares = make(map[int64]SharedPipeline)
	}
	if snapshot.Team == nil {
		snapshot.Team = make(map[int64]TeamMember)
	}
	if snapshot.Settings == nil {
		snapshot.Settings = make(map[int64]IntegrationSettings)
	}
	if snapshot.Sequences == nil {
		snapshot.Sequences = make(map[domain.EntityType]int64)
	}

	for id, step := range snapshot.Steps {
		if _, ok := snapshot.Pipelines[step.PipelineID]; !ok {
			delete(snapshot.Steps, id)
		}
	}
	for id, exec := range snapshot.Executions {
		if _, ok := snapshot.Pipelines[exec.PipelineID]; !ok {
			delete(snapshot.Executions, id)
		}
	}
	for id, share := range snapshot.Shares {
		if _, ok := snapshot.Pipelines[share.PipelineID]; !ok {
			delete(snapshot.Shares, id)
		}
	}
	for id, settings := range snapshot.Settings {
		if settings.GitHubBranch == "" {
			settings.GitHubBranch = domain.DefaultGitHubBranch
			snapshot.Settings[id] = settings
		}
	}

	bump := func(entity domain.EntityType, id int64) {
		if id > snapshot.Sequences[entity] {
			snapshot.Sequences[entity] = id
		}
	}
	for id := range snapshot.Users {
		bump(domain.EntityUser, id)
	}
	for id := range snapshot.MopFiles {
		bump(domain.EntityMopFile, id)
	}
	for id := range snapshot.Pipelines {
		bump(domain.EntityPipeline, id)
	}
	for id := range snapshot.Steps {
		bump(domain.EntityPipelineStep, id)
	}
	for id := range snapshot.Executions {
		bump(domain.EntityPipelineExecution, id)
	}
	for id := range snapshot.Shares {
		bump(domain.EntitySharedPipeline, id)
	}
	for id := range snapshot.Team {
		bump(domain.EntityTeamMember, id)
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cp := newMemoryState()
	for k, v := range s.users {
		cp.users[k] = v
	}
	for k, v := range s.mopFiles {
		cp.mopFiles[k] = v
	}
	for k, v := range s.pipelines {
		cp.pipelines[k] = clonePipeline(v)
	}
	for k, v := range s.steps {
		cp.steps[k] = cloneStep(v)
	}
	for k, v := range s.executions {
		cp.executions[k] = cloneExecution(v)
	}
	for k, v := range s.shares {
		cp.shares[k] = v
	}
	for k, v := range s.team {
		cp.team[k] = v
	}
	for k, v := range s.settings {
		cp.settings[k] = v
	}
	for k, v := range s.sequences {
		cp.sequences[k] = v
	}
	return cp
}

func clonePipeline(p Pipeline) Pipeline {
	cp := p
	cp.Config = p.Config.Clone()
	return cp
}

func cloneStep(s PipelineStep) PipelineStep {
	cp := s
	cp.Config = domain.CloneAttributes(s.Config)
	return cp
}

func cloneExecution(e PipelineExecution) PipelineExecution {
	cp := e
	cp.Results = domain.CloneAttributes(e.Results)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the clock used to stamp records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListMopFiles returns MOP files newest first.
func (v transactionView) ListMopFiles() []MopFile { return listMopFiles(v.state) }

// ListPipelines returns pipelines newest first.
func (v transactionView) ListPipelines() []Pipeline { return listPipelines(v.state) }

// ListPipelineSteps returns the steps of a pipeline ordered by position.
func (v transactionView) ListPipelineSteps(pipelineID int64) []PipelineStep {
	return listSteps(v.state, pipelineID)
}

// ListPipelineExecutions returns executions of a pipeline, most recent first.
func (v transactionView) ListPipelineExecutions(pipelineID int64) []PipelineExecution {
	return listExecutions(v.state, pipelineID)
}

// ListSharedPipelines returns all share grants, most recent first.
func (v transactionView) ListSharedPipelines() []SharedPipeline { return listShares(v.state) }

// FindUser looks up a user within the snapshot.
func (v transactionView) FindUser(id int64) (User, bool) {
	u, ok := v.state.users[id]
	return u, ok
}

// FindMopFile looks up a MOP file within the snapshot.
func (v transactionView) FindMopFile(id int64) (MopFile, bool) {
	m, ok := v.state.mopFiles[id]
	return m, ok
}

// FindPipeline looks up a pipeline within the snapshot.
func (v transactionView) FindPipeline(id int64) (Pipeline, bool) {
	p, ok := v.state.pipelines[id]
	if !ok {
		return Pipeline{}, false
	}
	return clonePipeline(p), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// nextID allocates an ID when id is zero and keeps the sequence ahead of
// explicitly supplied IDs.
func (tx *transaction) nextID(entity domain.EntityType, id int64) int64 {
	if id == 0 {
		tx.state.sequences[entity]++
		return tx.state.sequences[entity]
	}
	if id > tx.state.sequences[entity] {
		tx.state.sequences[entity] = id
	}
	return id
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindMopFile exposes MOP file lookup within the transaction scope.
func (tx *transaction) FindMopFile(id int64) (MopFile, bool) {
	m, ok := tx.state.mopFiles[id]
	return m, ok
}

// FindPipeline exposes pipeline lookup within the transaction scope.
func (tx *transaction) FindPipeline(id int64) (Pipeline, bool) {
	p, ok := tx.state.pipelines[id]
	if !ok {
		return Pipeline{}, false
	}
	return clonePipeline(p), true
}

// CreateUser stores a new user.
func (tx *transaction) CreateUser(u User) (User, error) {
	if _, exists := tx.state.users[u.ID]; exists && u.ID != 0 {
		return User{}, fmt.Errorf("user %d already exists", u.ID)
	}
	for _, existing := range tx.state.users {
		if existing.Username == u.Username {
			return User{}, fmt.Errorf("username %q already taken", u.Username)
		}
	}
	u.ID = tx.nextID(domain.EntityUser, u.ID)
	u.CreatedAt = tx.now
	u.UpdatedAt = tx.now
	tx.state.users[u.ID] = u
	tx.recordChange(Change{Entity: domain.EntityUser, Action: domain.ActionCreate, After: u})
	return u, nil
}

// CreateMopFile stores a new MOP file.
func (tx *transaction) CreateMopFile(m MopFile) (MopFile, error) {
	if _, exists := tx.state.mopFiles[m.ID]; exists && m.ID != 0 {
		return MopFile{}, fmt.Errorf("mop file %d already exists", m.ID)
	}
	m.ID = tx.nextID(domain.EntityMopFile, m.ID)
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.mopFiles[m.ID] = m
	tx.recordChange(Change{Entity: domain.EntityMopFile, Action: domain.ActionCreate, After: m})
	return m, nil
}

// UpdateMopFile mutates a MOP file's metadata. Content and storage fields are
// restored after the mutator runs.
func (tx *transaction) UpdateMopFile(id int64, mutator func(*MopFile) error) (MopFile, error) {
	current, ok := tx.state.mopFiles[id]
	if !ok {
		return MopFile{}, domain.ErrNotFound{Entity: domain.EntityMopFile, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return MopFile{}, err
	}
	current.ID = id
	current.UserID = before.UserID
	current.Content = before.Content
	current.BlobKey = before.BlobKey
	current.ContentType = before.ContentType
	current.SizeBytes = before.SizeBytes
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.mopFiles[id] = current
	tx.recordChange(Change{Entity: domain.EntityMopFile, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteMopFile removes a MOP file that no pipeline references.
func (tx *transaction) DeleteMopFile(id int64) error {
	current, ok := tx.state.mopFiles[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityMopFile, ID: id}
	}
	for _, p := range tx.state.pipelines {
		if p.MopFileID == id {
			return fmt.Errorf("mop file %d still referenced by pipeline %d", id, p.ID)
		}
	}
	delete(tx.state.mopFiles, id)
	tx.recordChange(Change{Entity: domain.EntityMopFile, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreatePipeline stores a new pipeline bound to an existing MOP file.
func (tx *transaction) CreatePipeline(p Pipeline) (Pipeline, error) {
	if _, exists := tx.state.pipelines[p.ID]; exists && p.ID != 0 {
		return Pipeline{}, fmt.Errorf("pipeline %d already exists", p.ID)
	}
	if _, ok := tx.state.mopFiles[p.MopFileID]; !ok {
		return Pipeline{}, domain.ErrNotFound{Entity: domain.EntityMopFile, ID: p.MopFileID}
	}
	if p.Status == "" {
		p.Status = domain.PipelineStatusDraft
	}
	if !p.Status.Valid() {
		return Pipeline{}, fmt.Errorf("pipeline status %q is invalid", p.Status)
	}
	if p.Config == nil {
		p.Config = domain.PipelineConfig{}
	}
	p.ID = tx.nextID(domain.EntityPipeline, p.ID)
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.pipelines[p.ID] = clonePipeline(p)
	tx.recordChange(Change{Entity: domain.EntityPipeline, Action: domain.ActionCreate, After: clonePipeline(p)})
	return clonePipeline(p), nil
}

// UpdatePipeline mutates a pipeline using the provided mutator function.
func (tx *transaction) UpdatePipeline(id int64, mutator func(*Pipeline) error) (Pipeline, error) {
	current, ok := tx.state.pipelines[id]
	if !ok {
		return Pipeline{}, domain.ErrNotFound{Entity: domain.EntityPipeline, ID: id}
	}
	before := clonePipeline(current)
	current = clonePipeline(current)
	if err := mutator(&current); err != nil {
		return Pipeline{}, err
	}
	if !current.Status.Valid() {
		return Pipeline{}, fmt.Errorf("pipeline status %q is invalid", current.Status)
	}
	if _, ok := tx.state.mopFiles[current.MopFileID]; !ok {
		return Pipeline{}, domain.ErrNotFound{Entity: domain.EntityMopFile, ID: current.MopFileID}
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.pipelines[id] = clonePipeline(current)
	tx.recordChange(Change{Entity: domain.EntityPipeline, Action: domain.ActionUpdate, Before: before, After: clonePipeline(current)})
	return clonePipeline(current), nil
}

// DeletePipeline removes a pipeline together with its steps, executions, and shares.
func (tx *transaction) DeletePipeline(id int64) error {
	current, ok := tx.state.pipelines[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityPipeline, ID: id}
	}
	for sid, step := range tx.state.steps {
		if step.PipelineID == id {
			delete(tx.state.steps, sid)
			tx.recordChange(Change{Entity: domain.EntityPipelineStep, Action: domain.ActionDelete, Before: step})
		}
	}
	for eid, exec := range tx.state.executions {
		if exec.PipelineID == id {
			delete(tx.state.executions, eid)
			tx.recordChange(Change{Entity: domain.EntityPipelineExecution, Action: domain.ActionDelete, Before: exec})
		}
	}
	for shid, share := range tx.state.shares {
		if share.PipelineID == id {
			delete(tx.state.shares, shid)
			tx.recordChange(Change{Entity: domain.EntitySharedPipeline, Action: domain.ActionDelete, Before: share})
		}
	}
	delete(tx.state.pipelines, id)
	tx.recordChange(Change{Entity: domain.EntityPipeline, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreatePipelineStep stores a new step for an existing pipeline.
func (tx *transaction) CreatePipelineStep(s PipelineStep) (PipelineStep, error) {
	if _, exists := tx.state.steps[s.ID]; exists && s.ID != 0 {
		return PipelineStep{}, fmt.Errorf("pipeline step %d already exists", s.ID)
	}
	if _, ok := tx.state.pipelines[s.PipelineID]; !ok {
		return PipelineStep{}, domain.ErrNotFound{Entity: domain.EntityPipeline, ID: s.PipelineID}
	}
	if s.Config == nil {
		s.Config = map[string]any{}
	}
	s.ID = tx.nextID(domain.EntityPipelineStep, s.ID)
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	tx.state.steps[s.ID] = cloneStep(s)
	tx.recordChange(Change{Entity: domain.EntityPipelineStep, Action: domain.ActionCreate, After: cloneStep(s)})
	return cloneStep(s), nil
}

// DeletePipelineStep removes a step.
func (tx *transaction) DeletePipelineStep(id int64) error {
	current, ok := tx.state.steps[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityPipelineStep, ID: id}
	}
	delete(tx.state.steps, id)
	tx.recordChange(Change{Entity: domain.EntityPipelineStep, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreatePipelineExecution stores a new execution record.
func (tx *transaction) CreatePipelineExecution(e PipelineExecution) (PipelineExecution, error) {
	if _, exists := tx.state.executions[e.ID]; exists && e.ID != 0 {
		return PipelineExecution{}, fmt.Errorf("pipeline execution %d already exists", e.ID)
	}
	if _, ok := tx.state.pipelines[e.PipelineID]; !ok {
		return PipelineExecution{}, domain.ErrNotFound{Entity: domain.EntityPipeline, ID: e.PipelineID}
	}
	if e.Status == "" {
		e.Status = domain.ExecutionStatusPending
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = tx.now
	}
	e.ID = tx.nextID(domain.EntityPipelineExecution, e.ID)
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.executions[e.ID] = cloneExecution(e)
	tx.recordChange(Change{Entity: domain.EntityPipelineExecution, Action: domain.ActionCreate, After: cloneExecution(e)})
	return cloneExecution(e), nil
}

// UpdatePipelineExecution mutates an execution record.
func (tx *transaction) UpdatePipelineExecution(id int64, mutator func(*PipelineExecution) error) (PipelineExecution, error) {
	current, ok := tx.state.executions[id]
	if !ok {
		return PipelineExecution{}, domain.ErrNotFound{Entity: domain.EntityPipelineExecution, ID: id}
	}
	before := cloneExecution(current)
	current = cloneExecution(current)
	if err := mutator(&current); err != nil {
		return PipelineExecution{}, err
	}
	current.ID = id
	current.PipelineID = before.PipelineID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.executions[id] = cloneExecution(current)
	tx.recordChange(Change{Entity: domain.EntityPipelineExecution, Action: domain.ActionUpdate, Before: before, After: cloneExecution(current)})
	return cloneExecution(current), nil
}

// CreateSharedPipeline grants access to a pipeline. A recipient holds at most
// one share per pipeline.
func (tx *transaction) CreateSharedPipeline(s SharedPipeline) (SharedPipeline, error) {
	if _, exists := tx.state.shares[s.ID]; exists && s.ID != 0 {
		return SharedPipeline{}, fmt.Errorf("shared pipeline %d already exists", s.ID)
	}
	if _, ok := tx.state.pipelines[s.PipelineID]; !ok {
		return SharedPipeline{}, domain.ErrNotFound{Entity: domain.EntityPipeline, ID: s.PipelineID}
	}
	for _, existing := range tx.state.shares {
		if existing.PipelineID == s.PipelineID && existing.SharedWithUserID == s.SharedWithUserID {
			return SharedPipeline{}, fmt.Errorf("pipeline %d already shared with user %d", s.PipelineID, s.SharedWithUserID)
		}
	}
	if s.Permissions == "" {
		s.Permissions = domain.SharePermissionView
	}
	if !s.Permissions.Valid() {
		return SharedPipeline{}, fmt.Errorf("share permission %q is invalid", s.Permissions)
	}
	s.ID = tx.nextID(domain.EntitySharedPipeline, s.ID)
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	tx.state.shares[s.ID] = s
	tx.recordChange(Change{Entity: domain.EntitySharedPipeline, Action: domain.ActionCreate, After: s})
	return s, nil
}

// DeleteSharedPipeline revokes a share.
func (tx *transaction) DeleteSharedPipeline(id int64) error {
	current, ok := tx.state.shares[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntitySharedPipeline, ID: id}
	}
	delete(tx.state.shares, id)
	tx.recordChange(Change{Entity: domain.EntitySharedPipeline, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateTeamMember stores a new team member.
func (tx *transaction) CreateTeamMember(m TeamMember) (TeamMember, error) {
	if _, exists := tx.state.team[m.ID]; exists && m.ID != 0 {
		return TeamMember{}, fmt.Errorf("team member %d already exists", m.ID)
	}
	if m.Role == "" {
		m.Role = domain.TeamRoleDeveloper
	}
	if !m.Role.Valid() {
		return TeamMember{}, fmt.Errorf("team role %q is invalid", m.Role)
	}
	m.ID = tx.nextID(domain.EntityTeamMember, m.ID)
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.team[m.ID] = m
	tx.recordChange(Change{Entity: domain.EntityTeamMember, Action: domain.ActionCreate, After: m})
	return m, nil
}

// PutIntegrationSettings creates or replaces the settings of a user.
func (tx *transaction) PutIntegrationSettings(s IntegrationSettings) (IntegrationSettings, error) {
	if s.UserID == 0 {
		return IntegrationSettings{}, fmt.Errorf("integration settings require a user id")
	}
	if s.GitHubBranch == "" {
		s.GitHubBranch = domain.DefaultGitHubBranch
	}
	s.ID = s.UserID
	s.UpdatedAt = tx.now
	action := domain.ActionCreate
	var before any
	if existing, ok := tx.state.settings[s.UserID]; ok {
		action = domain.ActionUpdate
		before = existing
		s.CreatedAt = existing.CreatedAt
	} else {
		s.CreatedAt = tx.now
	}
	tx.state.settings[s.UserID] = s
	tx.recordChange(Change{Entity: domain.EntityIntegrationSettings, Action: action, Before: before, After: s})
	return s, nil
}

// Read helpers ---------------------------------------------------------------

// GetUser retrieves a user by ID from committed state.
func (s *Store) GetUser(id int64) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.users[id]
	return u, ok
}

// GetMopFile retrieves a MOP file by ID from committed state.
func (s *Store) GetMopFile(id int64) (MopFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.state.mopFiles[id]
	return m, ok
}

// ListMopFiles returns all MOP files, newest first.
func (s *Store) ListMopFiles() []MopFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listMopFiles(&s.state)
}

// GetPipeline retrieves a pipeline by ID from committed state.
func (s *Store) GetPipeline(id int64) (Pipeline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.pipelines[id]
	if !ok {
		return Pipeline{}, false
	}
	return clonePipeline(p), true
}

// ListPipelines returns all pipelines, newest first.
func (s *Store) ListPipelines() []Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPipelines(&s.state)
}

// ListPipelineSteps returns the steps of a pipeline ordered by position.
func (s *Store) ListPipelineSteps(pipelineID int64) []PipelineStep {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSteps(&s.state, pipelineID)
}

// ListPipelineExecutions returns executions for a pipeline, most recent first.
func (s *Store) ListPipelineExecutions(pipelineID int64) []PipelineExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listExecutions(&s.state, pipelineID)
}

// ListSharedPipelines returns every share grant, most recent first.
func (s *Store) ListSharedPipelines() []SharedPipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listShares(&s.state)
}

// ListTeamMembers returns team members in creation order.
func (s *Store) ListTeamMembers() []TeamMember {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TeamMember, 0, len(s.state.team))
	for _, m := range s.state.team {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetIntegrationSettings returns the settings stored for a user.
func (s *Store) GetIntegrationSettings(userID int64) (IntegrationSettings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.state.settings[userID]
	return settings, ok
}

func newestFirst(aCreated, bCreated time.Time, aID, bID int64) bool {
	if !aCreated.Equal(bCreated) {
		return aCreated.After(bCreated)
	}
	return aID > bID
}

func listMopFiles(state *memoryState) []MopFile {
	out := make([]MopFile, 0, len(state.mopFiles))
	for _, m := range state.mopFiles {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return newestFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out
}

func listPipelines(state *memoryState) []Pipeline {
	out := make([]Pipeline, 0, len(state.pipelines))
	for _, p := range state.pipelines {
		out = append(out, clonePipeline(p))
	}
	sort.Slice(out, func(i, j int) bool {
		return newestFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out
}

func listSteps(state *memoryState, pipelineID int64) []PipelineStep {
	out := make([]PipelineStep, 0)
	for _, st := range state.steps {
		if st.PipelineID == pipelineID {
			out = append(out, cloneStep(st))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func listExecutions(state *memoryState, pipelineID int64) []PipelineExecution {
	out := make([]PipelineExecution, 0)
	for _, e := range state.executions {
		if e.PipelineID == pipelineID {
			out = append(out, cloneExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newestFirst(out[i].StartedAt, out[j].StartedAt, out[i].ID, out[j].ID)
	})
	return out
}

func listShares(state *memoryState) []SharedPipeline {
	out := make([]SharedPipeline, 0, len(state.shares))
	for _, s := range state.shares {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return newestFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out
}
