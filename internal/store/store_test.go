package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/opgate/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func calendarClassification() *models.Classification {
	return &models.Classification{
		Destination: models.DestinationStream,
		Consumer:    models.ConsumerHuman,
		Semantics:   models.SemanticsRead,
		Confidence:  0.95,
		Domain:      "calendar",
		ActionHint:  "show",
		Reasoning:   "asks to display calendar",
		Alternatives: []models.Alternative{
			{Destination: models.DestinationFile, Consumer: models.ConsumerHuman, Semantics: models.SemanticsRead, Reason: "no file named"},
		},
	}
}

func newOp(t *testing.T, s *Store, request string, status models.Status) *models.AtomicOperation {
	t.Helper()
	op := models.NewOperation(request, "user-1", "cli", time.Now())
	op.Status = status
	op.Classification = calendarClassification()
	require.NoError(t, s.CreateOperation(context.Background(), nil, op))
	return op
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		dbPath  string
		wantErr bool
	}{
		{"creates database successfully", filepath.Join(t.TempDir(), "ops.db"), false},
		{"handles in-memory database", ":memory:", false},
		{"creates parent directories if needed", filepath.Join(t.TempDir(), "nested", "dir", "ops.db"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(tt.dbPath)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer s.Close()

			version, err := s.GetLatestVersion(context.Background())
			require.NoError(t, err)
			assert.Equal(t, len(migrations), version)
			assert.Equal(t, tt.dbPath, s.Path())
		})
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyMigrations(ctx))
	versions, err := s.GetAppliedVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, len(migrations))
	for i, v := range versions {
		assert.Equal(t, i+1, v.Version)
		assert.False(t, v.AppliedAt.IsZero())
	}
}

func TestCreateAndGetOperation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	op := newOp(t, s, "show me my calendar", models.StatusAwaitingVerification)

	got, err := s.GetOperation(ctx, nil, op.ID)
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, "show me my calendar", got.UserRequest)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "cli", got.SourceAgent)
	assert.Equal(t, models.StatusAwaitingVerification, got.Status)
	assert.Equal(t, calendarClassification(), got.Classification)
	assert.True(t, op.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.ExecutionResult)

	_, err = s.GetOperation(ctx, nil, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateOperationRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	op := models.NewOperation("", "u", "cli", time.Now())
	assert.Error(t, s.CreateOperation(context.Background(), nil, op))
}

func TestUpdateStatusEnforcesStateMachine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := newOp(t, s, "show me my calendar", models.StatusAwaitingVerification)

	err := s.UpdateStatus(ctx, nil, op.ID, models.StatusComplete)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.UpdateStatus(ctx, nil, op.ID, models.StatusExecuting))
	require.NoError(t, s.UpdateStatus(ctx, nil, op.ID, models.StatusComplete))

	got, err := s.GetOperation(ctx, nil, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, got.Status)
	require.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, s.UpdateStatus(ctx, nil, op.ID, models.StatusFailed), ErrInvalidTransition)
	assert.ErrorIs(t, s.UpdateStatus(ctx, nil, "missing", models.StatusFailed), ErrNotFound)
}

func TestDecomposedParentChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := models.NewOperation("back up notes and then delete them", "user-1", "cli", time.Now())
	parent.IsDecomposed = true
	parent.Status = models.StatusDecomposed
	require.NoError(t, s.CreateOperation(ctx, nil, parent))

	var ids []string
	for i, text := range []string{"back up notes", "delete them"} {
		child := models.NewOperation(text, "user-1", "cli", time.Now().Add(time.Duration(i)*time.Millisecond))
		child.ParentID = parent.ID
		child.Status = models.StatusAwaitingVerification
		child.Classification = calendarClassification()
		require.NoError(t, s.CreateOperation(ctx, nil, child))
		ids = append(ids, child.ID)
	}

	got, err := s.GetOperation(ctx, nil, parent.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDecomposed)
	assert.Nil(t, got.Classification)
	assert.Equal(t, ids, got.ChildIDs)

	children, err := s.ChildOperations(ctx, nil, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, parent.ID, children[0].ParentID)

	listed, err := s.ListOperations(ctx, nil, ListFilter{ParentID: parent.ID})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	assert.ErrorIs(t, s.UpdateStatus(ctx, nil, parent.ID, models.StatusExecuting), ErrInvalidTransition)
}

func TestListOperationsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newOp(t, s, "first", models.StatusAwaitingVerification)
	b := newOp(t, s, "second", models.StatusAwaitingApproval)

	all, err := s.ListOperations(ctx, nil, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID, "newest first")

	pending, err := s.ListOperations(ctx, nil, ListFilter{Status: models.StatusAwaitingApproval})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)

	limited, err := s.ListOperations(ctx, nil, ListFilter{UserID: "user-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	none, err := s.ListOperations(ctx, nil, ListFilter{UserID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClassificationLogAndCorrection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := newOp(t, s, "show me my calendar", models.StatusAwaitingApproval)
	require.NoError(t, s.LogClassification(ctx, nil, op.ID, op.Classification, false))

	corrected := &models.Classification{
		Destination: models.DestinationFile,
		Consumer:    models.ConsumerHuman,
		Semantics:   models.SemanticsExecute,
		Confidence:  1,
		Domain:      "files",
		ActionHint:  "write",
		Reasoning:   "user correction",
	}
	require.NoError(t, s.CorrectClassification(ctx, nil, op.ID, corrected))

	got, err := s.GetOperation(ctx, nil, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DestinationFile, got.Classification.Destination)
	assert.Equal(t, "files", got.Classification.Domain)
	assert.Empty(t, got.Classification.Alternatives)

	history, err := s.ClassificationHistory(ctx, nil, op.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].Corrected)
	assert.Equal(t, models.DestinationStream, history[0].Classification.Destination)
	assert.Len(t, history[0].Classification.Alternatives, 1)
	assert.True(t, history[1].Corrected)
	assert.Equal(t, models.SemanticsExecute, history[1].Classification.Semantics)

	require.NoError(t, s.UpdateStatus(ctx, nil, op.ID, models.StatusCancelled))
	err = s.CorrectClassification(ctx, nil, op.ID, corrected)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Error(t, s.CorrectClassification(ctx, nil, op.ID, &models.Classification{Destination: "NOWHERE"}))
}

func TestSaveVerificationUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := newOp(t, s, "show me my calendar", models.StatusAwaitingVerification)

	first := &models.PipelineResult{
		Mode: models.VerificationStandard,
		Layers: []models.LayerResult{
			{Layer: models.LayerSyntax, Passed: true, Confidence: 1, Duration: 3 * time.Millisecond},
			{Layer: models.LayerSafety, Passed: false, Issues: []string{"blocked"}, Duration: time.Millisecond},
		},
	}
	require.NoError(t, s.SaveVerification(ctx, nil, op.ID, first))

	second := &models.PipelineResult{
		Mode: models.VerificationStandard,
		Layers: []models.LayerResult{
			{Layer: models.LayerSyntax, Passed: true, Confidence: 1},
			{Layer: models.LayerSafety, Passed: true, Warnings: []string{"mentions delete"}, Confidence: 0.9},
		},
	}
	require.NoError(t, s.SaveVerification(ctx, nil, op.ID, second))

	layers, err := s.GetVerification(ctx, nil, op.ID)
	require.NoError(t, err)
	require.Len(t, layers, 2, "one row per layer")
	assert.Equal(t, models.LayerSyntax, layers[0].Layer)
	assert.Equal(t, models.LayerSafety, layers[1].Layer)
	assert.True(t, layers[1].Passed)
	assert.Empty(t, layers[1].Issues)
	assert.Equal(t, []string{"mentions delete"}, layers[1].Warnings)

	assert.NoError(t, s.SaveVerification(ctx, nil, op.ID, nil))

	fast := &models.PipelineResult{
		Mode:   models.VerificationFast,
		Layers: []models.LayerResult{{Layer: models.LayerSyntax, Passed: false, Issues: []string{"empty"}}},
	}
	require.NoError(t, s.SaveVerification(ctx, nil, op.ID, fast))
	layers, err = s.GetVerification(ctx, nil, op.ID)
	require.NoError(t, err)
	require.Len(t, layers, 1, "layers from an earlier run are dropped")
	assert.False(t, layers[0].Passed)
}

func TestRecordExecutionAttemptsAndHydration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := newOp(t, s, "delete /home/user/report.pdf", models.StatusAwaitingVerification)

	before := models.NewStateSnapshot(time.Now())
	before.Files["/home/user/report.pdf"] = models.FileState{Exists: true, Hash: "abc", Size: 3, BackupPath: "/b/report.pdf.X.bak"}
	after := models.NewStateSnapshot(time.Now())
	after.Files["/home/user/report.pdf"] = models.FileState{Exists: false}

	failed := &models.ExecutionRecord{
		OperationID:   op.ID,
		StateBefore:   before,
		StateAfter:    after,
		Result:        &models.ExecutionResult{Success: false, ExitCode: 1, Stderr: "boom"},
		Reversibility: models.NotReversible{Reason: "No undo method available"},
		StartedAt:     time.Now(),
		FinishedAt:    time.Now(),
	}
	_, err := s.RecordExecution(ctx, nil, failed)
	require.NoError(t, err)
	assert.Equal(t, 1, failed.Attempt)

	ok := &models.ExecutionRecord{
		OperationID:   op.ID,
		StateBefore:   before,
		StateAfter:    after,
		Result:        &models.ExecutionResult{Success: true, FilesAffected: []string{"/home/user/report.pdf"}},
		Reversibility: models.RestoreBackup{Files: map[string]string{"/home/user/report.pdf": "/b/report.pdf.X.bak"}},
		Warnings:      []string{"backup skipped: big.bin"},
		StartedAt:     time.Now(),
		FinishedAt:    time.Now(),
	}
	id, err := s.RecordExecution(ctx, nil, ok)
	require.NoError(t, err)
	assert.Equal(t, 2, ok.Attempt)
	assert.Equal(t, id, ok.ID)

	latest, err := s.LatestExecution(ctx, nil, op.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Attempt)
	assert.True(t, latest.Result.Success)
	assert.Equal(t, ok.Reversibility, latest.Reversibility)
	assert.Equal(t, []string{"backup skipped: big.bin"}, latest.Warnings)
	assert.Equal(t, "/b/report.pdf.X.bak", latest.StateBefore.Files["/home/user/report.pdf"].BackupPath)
	assert.False(t, latest.StateAfter.Exists("/home/user/report.pdf"))

	history, err := s.ExecutionHistory(ctx, nil, op.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.NotReversible{Reason: "No undo method available"}, history[0].Reversibility)

	got, err := s.GetOperation(ctx, nil, op.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExecutionResult)
	assert.True(t, got.ExecutionResult.Success)
	assert.Equal(t, models.MethodRestoreBackup, got.Reversibility.Method())

	_, err = s.LatestExecution(ctx, nil, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.RecordExecution(ctx, nil, &models.ExecutionRecord{OperationID: op.ID})
	assert.Error(t, err)
}

func TestInTransactionCommitsAndRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := newOp(t, s, "restart networking service", models.StatusAwaitingVerification)

	sentinel := errors.New("abort")
	err := s.InTransaction(ctx, func(uow *UnitOfWork) error {
		require.NoError(t, s.UpdateStatus(ctx, uow, op.ID, models.StatusExecuting))
		_, err := s.RecordExecution(ctx, uow, &models.ExecutionRecord{
			OperationID: op.ID,
			Result:      &models.ExecutionResult{Success: true},
		})
		require.NoError(t, err)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := s.GetOperation(ctx, nil, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingVerification, got.Status, "rolled back")
	assert.Nil(t, got.ExecutionResult)

	err = s.InTransaction(ctx, func(uow *UnitOfWork) error {
		if err := s.UpdateStatus(ctx, uow, op.ID, models.StatusExecuting); err != nil {
			return err
		}
		_, err := s.RecordExecution(ctx, uow, &models.ExecutionRecord{
			OperationID: op.ID,
			Result:      &models.ExecutionResult{Success: true},
		})
		if err != nil {
			return err
		}
		return s.UpdateStatus(ctx, uow, op.ID, models.StatusComplete)
	})
	require.NoError(t, err)

	got, err = s.GetOperation(ctx, nil, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, got.Status)
	require.NotNil(t, got.ExecutionResult)
}

func TestUnitOfWorkFinishOnce(t *testing.T) {
	s := newTestStore(t)
	uow, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, uow.Commit())
	assert.Error(t, uow.Commit())
	assert.NoError(t, uow.Rollback())
}

func TestFeedbackRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := newOp(t, s, "delete /tmp/x", models.StatusAwaitingApproval)

	approved := true
	require.NoError(t, s.SaveFeedback(ctx, nil, &models.Feedback{OperationID: op.ID, Type: models.FeedbackSessionStart}))
	require.NoError(t, s.SaveFeedback(ctx, nil, &models.Feedback{
		OperationID: op.ID, Type: models.FeedbackApproval, Approved: &approved, Modified: "delete /tmp/y",
	}))
	require.NoError(t, s.SaveFeedback(ctx, nil, &models.Feedback{
		OperationID: op.ID, Type: models.FeedbackCorrection,
		CorrectedFields: map[string]string{"destination": "FILE"}, Reasoning: "it is a file",
	}))

	rows, err := s.ListFeedback(ctx, nil, op.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, models.FeedbackSessionStart, rows[0].Type)
	assert.Nil(t, rows[0].Approved)
	require.NotNil(t, rows[1].Approved)
	assert.True(t, *rows[1].Approved)
	assert.Equal(t, "delete /tmp/y", rows[1].Modified)
	assert.Equal(t, map[string]string{"destination": "FILE"}, rows[2].CorrectedFields)
	assert.Equal(t, "it is a file", rows[2].Reasoning)
	assert.NotEmpty(t, rows[2].ID)

	assert.Error(t, s.SaveFeedback(ctx, nil, &models.Feedback{Type: models.FeedbackApproval}))
}

func TestClarificationOnePendingPerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetPendingClarification(ctx, nil, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	first := &models.Clarification{UserID: "user-1", Request: "do the thing", Prompt: "Which thing?", Options: []string{"a", "b"}}
	require.NoError(t, s.StorePendingClarification(ctx, nil, first))
	second := &models.Clarification{UserID: "user-1", Request: "fix it", Prompt: "Fix what?"}
	require.NoError(t, s.StorePendingClarification(ctx, nil, second))

	pending, err := s.GetPendingClarification(ctx, nil, "user-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, pending.ID)
	assert.Equal(t, "Fix what?", pending.Prompt)
	assert.Empty(t, pending.Options)

	other := &models.Clarification{UserID: "user-2", Request: "x", Prompt: "y", Options: []string{"z"}}
	require.NoError(t, s.StorePendingClarification(ctx, nil, other))

	require.NoError(t, s.ResolveClarification(ctx, nil, second.ID, "the sink"))
	_, err = s.GetPendingClarification(ctx, nil, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.ResolveClarification(ctx, nil, second.ID, "again"), ErrNotFound)

	stillPending, err := s.GetPendingClarification(ctx, nil, "user-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, stillPending.Options)
}

func TestRecentStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.RecentStats(ctx, nil, "user-1", 10)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	done := newOp(t, s, "a", models.StatusExecuting)
	require.NoError(t, s.UpdateStatus(ctx, nil, done.ID, models.StatusComplete))
	failed := newOp(t, s, "b", models.StatusExecuting)
	require.NoError(t, s.UpdateStatus(ctx, nil, failed.ID, models.StatusFailed))
	newOp(t, s, "c", models.StatusAwaitingApproval)

	st, err = s.RecentStats(ctx, nil, "user-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, st.RecentOps)
	assert.InDelta(t, 0.5, st.SuccessRate, 1e-9)
}
