package tasklifecycle

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/internal/telemetry"
	"github.com/cavendo/fleetctl/pkg/db"
	"github.com/cavendo/fleetctl/pkg/models"
)

func newServiceTestDB(t *testing.T) *db.DB {
	t.Helper()
	sqlxDB, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqlxDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlxDB.Close() })

	_, err = sqlxDB.Exec(`
		CREATE TABLE agents (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			max_concurrent_tasks INTEGER,
			active_task_count INTEGER NOT NULL DEFAULT 0,
			capabilities TEXT
		);
		CREATE TABLE projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			default_agent_id TEXT,
			created_at DATETIME,
			updated_at DATETIME
		);
		CREATE TABLE routing_rules (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			enabled BOOLEAN NOT NULL,
			rule_priority INTEGER NOT NULL,
			conditions TEXT,
			assign_to TEXT,
			assign_to_capability TEXT,
			assign_strategy TEXT,
			fallback_to TEXT,
			insertion_order INTEGER NOT NULL
		);
		CREATE TABLE tasks (
			id TEXT PRIMARY KEY,
			project_id TEXT,
			assigned_agent_id TEXT,
			status TEXT NOT NULL,
			priority INTEGER NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			tags TEXT,
			context TEXT,
			routing_rule_id TEXT,
			routing_decision TEXT,
			created_at DATETIME,
			updated_at DATETIME
		);
		CREATE TABLE task_progress_entries (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			message TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME
		);
		CREATE TABLE activity_log (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			actor_name TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME
		);
	`)
	require.NoError(t, err)

	return db.New(sqlxDB, db.Native, nil, logging.NopLogger{}, telemetry.NopMetrics{}, nil)
}

type recordingEmitter struct {
	events []models.EventType
}

func (r *recordingEmitter) Emit(_ context.Context, eventType models.EventType, _ *string, _ models.JSONMap) {
	r.events = append(r.events, eventType)
}

func newTestService(t *testing.T, emitter EventEmitter) *Service {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return NewService(Config{Handle: newServiceTestDB(t), Emitter: emitter, RNGSeed: 1})
}

func TestCreate_DirectAssignmentReservesCapacity(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.handle.Exec(ctx, "INSERT INTO agents (id, status, max_concurrent_tasks, active_task_count) VALUES ('a1', 'active', 2, 0)")
	require.NoError(t, err)

	task, err := svc.Create(ctx, CreateInput{Title: "t1", Priority: 2, AssignedAgentID: strPtr("a1")})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusAssigned, task.Status)
	require.NotNil(t, task.AssignedAgentID)
	assert.Equal(t, "a1", *task.AssignedAgentID)

	var count int
	require.NoError(t, svc.handle.One(ctx, &count, "SELECT active_task_count FROM agents WHERE id = 'a1'"))
	assert.Equal(t, 1, count)
}

func TestCreate_DirectAssignmentAtCapacityFails(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.handle.Exec(ctx, "INSERT INTO agents (id, status, max_concurrent_tasks, active_task_count) VALUES ('a1', 'active', 1, 1)")
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Title: "t1", Priority: 2, AssignedAgentID: strPtr("a1")})
	require.Error(t, err)

	var taskCount int
	require.NoError(t, svc.handle.One(ctx, &taskCount, "SELECT COUNT(*) FROM tasks"))
	assert.Equal(t, 0, taskCount, "rollback must leave no orphaned task row")
}

func TestCreate_UnroutedProjectTaskStaysPending(t *testing.T) {
	emitter := &recordingEmitter{}
	svc := newTestService(t, emitter)
	ctx := context.Background()
	_, err := svc.handle.Exec(ctx, "INSERT INTO projects (id, name, created_at, updated_at) VALUES ('p1', 'proj', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)")
	require.NoError(t, err)

	task, err := svc.Create(ctx, CreateInput{ProjectID: strPtr("p1"), Title: "t1", Priority: 1})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Nil(t, task.AssignedAgentID)
	assert.Contains(t, emitter.events, models.EventTaskCreated)
	assert.NotContains(t, emitter.events, models.EventTaskAssigned)
}

func TestClaim_FirstClaimReservesCapacity(t *testing.T) {
	emitter := &recordingEmitter{}
	svc := newTestService(t, emitter)
	ctx := context.Background()
	_, err := svc.handle.Exec(ctx, "INSERT INTO agents (id, status, max_concurrent_tasks, active_task_count) VALUES ('a1', 'active', 2, 0)")
	require.NoError(t, err)
	task, err := svc.Create(ctx, CreateInput{Title: "t1", Priority: 1})
	require.NoError(t, err)

	claimed, err := svc.Claim(ctx, task.ID, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusAssigned, claimed.Status)
	assert.Contains(t, emitter.events, models.EventTaskAssigned)

	var count int
	require.NoError(t, svc.handle.One(ctx, &count, "SELECT active_task_count FROM agents WHERE id = 'a1'"))
	assert.Equal(t, 1, count)
}

func TestClaim_SecondAgentLosesRace(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.handle.Exec(ctx, "INSERT INTO agents (id, status, max_concurrent_tasks, active_task_count) VALUES ('a1', 'active', 2, 0), ('a2', 'active', 2, 0)")
	require.NoError(t, err)
	task, err := svc.Create(ctx, CreateInput{Title: "t1", Priority: 1})
	require.NoError(t, err)

	_, err = svc.Claim(ctx, task.ID, "a1")
	require.NoError(t, err)

	_, err = svc.Claim(ctx, task.ID, "a2")
	require.Error(t, err)
}

func TestClaim_ReclaimBySameAgentIsIdempotent(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.handle.Exec(ctx, "INSERT INTO agents (id, status, max_concurrent_tasks, active_task_count) VALUES ('a1', 'active', 2, 0)")
	require.NoError(t, err)
	task, err := svc.Create(ctx, CreateInput{Title: "t1", Priority: 1})
	require.NoError(t, err)

	_, err = svc.Claim(ctx, task.ID, "a1")
	require.NoError(t, err)
	_, err = svc.Claim(ctx, task.ID, "a1")
	require.NoError(t, err)

	var count int
	require.NoError(t, svc.handle.One(ctx, &count, "SELECT active_task_count FROM agents WHERE id = 'a1'"))
	assert.Equal(t, 1, count, "reclaiming the same task must not double-reserve")
}

func TestChangeStatus_EnteringTerminalReleasesCapacity(t *testing.T) {
	emitter := &recordingEmitter{}
	svc := newTestService(t, emitter)
	ctx := context.Background()
	_, err := svc.handle.Exec(ctx, "INSERT INTO agents (id, status, max_concurrent_tasks, active_task_count) VALUES ('a1', 'active', 2, 0)")
	require.NoError(t, err)
	task, err := svc.Create(ctx, CreateInput{Title: "t1", Priority: 1, AssignedAgentID: strPtr("a1")})
	require.NoError(t, err)

	_, err = svc.ChangeStatus(ctx, task.ID, models.TaskStatusInProgress, "a1")
	require.NoError(t, err)
	_, err = svc.ChangeStatus(ctx, task.ID, models.TaskStatusReview, "a1")
	require.NoError(t, err)
	final, err := svc.ChangeStatus(ctx, task.ID, models.TaskStatusCompleted, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, final.Status)
	assert.Contains(t, emitter.events, models.EventTaskCompleted)

	var count int
	require.NoError(t, svc.handle.One(ctx, &count, "SELECT active_task_count FROM agents WHERE id = 'a1'"))
	assert.Equal(t, 0, count)
}

func TestChangeStatus_InvalidTransitionRejected(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	task, err := svc.Create(ctx, CreateInput{Title: "t1", Priority: 1})
	require.NoError(t, err)

	_, err = svc.ChangeStatus(ctx, task.ID, models.TaskStatusCompleted, "actor")
	assert.Error(t, err)
}

func TestUpdate_RejectsEditOnTerminalTask(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	task, err := svc.Create(ctx, CreateInput{Title: "t1", Priority: 1})
	require.NoError(t, err)
	_, err = svc.ChangeStatus(ctx, task.ID, models.TaskStatusCancelled, "actor")
	require.NoError(t, err)

	_, err = svc.Update(ctx, task.ID, UpdateInput{Title: strPtr("new title")})
	assert.Error(t, err)
}

func TestAddProgress_AppendsEntry(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	task, err := svc.Create(ctx, CreateInput{Title: "t1", Priority: 1})
	require.NoError(t, err)

	entry, err := svc.AddProgress(ctx, task.ID, ProgressEntryInput{Message: "halfway there"})
	require.NoError(t, err)
	assert.Equal(t, "halfway there", entry.Message)
}
