package deliverables

import (
	"context"
	"sync"
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

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	sqlxDB, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqlxDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlxDB.Close() })

	_, err = sqlxDB.Exec(`
		CREATE TABLE deliverables (
			id TEXT PRIMARY KEY,
			task_id TEXT,
			project_id TEXT,
			submitter_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			parent_id TEXT,
			status TEXT NOT NULL,
			content_type TEXT NOT NULL,
			content TEXT,
			files TEXT,
			actions TEXT,
			created_at DATETIME,
			updated_at DATETIME
		);
		CREATE UNIQUE INDEX deliverables_task_version ON deliverables (task_id, version) WHERE task_id IS NOT NULL;
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

func strPtr(s string) *string { return &s }

func TestSubmit_FirstVersionIsOne(t *testing.T) {
	svc := NewService(Config{Handle: newTestDB(t)})
	d, err := svc.Submit(context.Background(), SubmitInput{
		TaskID: strPtr("task-1"), SubmitterID: "agent-1", ContentType: models.ContentTypeMarkdown, Content: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Version)
}

func TestSubmit_SecondSubmissionIsVersionTwo(t *testing.T) {
	svc := NewService(Config{Handle: newTestDB(t)})
	ctx := context.Background()
	_, err := svc.Submit(ctx, SubmitInput{TaskID: strPtr("task-1"), SubmitterID: "a1", ContentType: models.ContentTypeText, Content: "v1"})
	require.NoError(t, err)

	d2, err := svc.Submit(ctx, SubmitInput{TaskID: strPtr("task-1"), SubmitterID: "a1", ContentType: models.ContentTypeText, Content: "v2"})
	require.NoError(t, err)
	assert.Equal(t, 2, d2.Version)
}

func TestSubmit_StandaloneDeliverableAlwaysVersionOne(t *testing.T) {
	svc := NewService(Config{Handle: newTestDB(t)})
	ctx := context.Background()
	d1, err := svc.Submit(ctx, SubmitInput{ProjectID: strPtr("p1"), SubmitterID: "a1", ContentType: models.ContentTypeText, Content: "x"})
	require.NoError(t, err)
	d2, err := svc.Submit(ctx, SubmitInput{ProjectID: strPtr("p1"), SubmitterID: "a1", ContentType: models.ContentTypeText, Content: "y"})
	require.NoError(t, err)
	assert.Equal(t, 1, d1.Version)
	assert.Equal(t, 1, d2.Version)
}

// TestSubmit_ConcurrentSubmissionsGetDistinctVersions is spec §8 scenario
// 2: two concurrent submitters against a task that already has version 1
// must land on versions 2 and 3, with no duplicates, and each observes at
// most maxVersionAttempts-1 retries.
func TestSubmit_ConcurrentSubmissionsGetDistinctVersions(t *testing.T) {
	svc := NewService(Config{Handle: newTestDB(t)})
	ctx := context.Background()
	_, err := svc.Submit(ctx, SubmitInput{TaskID: strPtr("task-1"), SubmitterID: "a0", ContentType: models.ContentTypeText, Content: "v1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*models.Deliverable, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			d, err := svc.Submit(ctx, SubmitInput{TaskID: strPtr("task-1"), SubmitterID: "a1", ContentType: models.ContentTypeText, Content: "concurrent"})
			results[idx], errs[idx] = d, err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	versions := map[int]bool{results[0].Version: true, results[1].Version: true}
	assert.Len(t, versions, 2)
	assert.True(t, versions[2] && versions[3])
}

func TestSubmitRevision_RequiresRevisionRequestedParent(t *testing.T) {
	svc := NewService(Config{Handle: newTestDB(t)})
	ctx := context.Background()
	parent, err := svc.Submit(ctx, SubmitInput{TaskID: strPtr("task-1"), SubmitterID: "a1", ContentType: models.ContentTypeText, Content: "v1"})
	require.NoError(t, err)

	_, err = svc.SubmitRevision(ctx, SubmitRevisionInput{ParentID: parent.ID, SubmitterID: "a1", ContentType: models.ContentTypeText, Content: "v2"})
	assert.Error(t, err, "parent is still pending, not revision_requested")
}

func TestSubmitRevision_MarksParentRevised(t *testing.T) {
	svc := NewService(Config{Handle: newTestDB(t)})
	ctx := context.Background()
	parent, err := svc.Submit(ctx, SubmitInput{TaskID: strPtr("task-1"), SubmitterID: "a1", ContentType: models.ContentTypeText, Content: "v1"})
	require.NoError(t, err)
	_, err = svc.Review(ctx, parent.ID, DecisionRevisionRequested, "reviewer-1")
	require.NoError(t, err)

	child, err := svc.SubmitRevision(ctx, SubmitRevisionInput{ParentID: parent.ID, SubmitterID: "a1", ContentType: models.ContentTypeText, Content: "v2"})
	require.NoError(t, err)
	assert.Equal(t, 2, child.Version)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)

	var parentStatus string
	require.NoError(t, svc.handle.One(ctx, &parentStatus, "SELECT status FROM deliverables WHERE id = ?", parent.ID))
	assert.Equal(t, string(models.DeliverableStatusRevised), parentStatus)
}

func TestValidateFiles_RejectsOversizedFile(t *testing.T) {
	err := ValidateFiles([]FileUpload{{Filename: "big.bin", Content: make([]byte, models.MaxFileBytes+1)}})
	assert.Error(t, err)
}

func TestValidateFiles_RejectsOversizedTotal(t *testing.T) {
	files := []FileUpload{
		{Filename: "a.bin", Content: make([]byte, models.MaxFileBytes)},
		{Filename: "b.bin", Content: make([]byte, models.MaxFileBytes)},
		{Filename: "c.bin", Content: make([]byte, models.MaxFileBytes)},
		{Filename: "d.bin", Content: make([]byte, models.MaxFileBytes)},
		{Filename: "e.bin", Content: make([]byte, models.MaxFileBytes)},
		{Filename: "f.bin", Content: make([]byte, models.MaxFileBytes)},
	}
	assert.Error(t, ValidateFiles(files))
}

func TestSanitizeFilename_StripsUnsafeCharacters(t *testing.T) {
	assert.Equal(t, "report_2024.pdf", sanitizeFilename("report 2024.pdf"))
	assert.Equal(t, "....._etc_passwd", sanitizeFilename("../../../etc/passwd"))
}
