package core_test

import (
	"cicdcopilot/internal/converter"
	"cicdcopilot/internal/core"
	"cicdcopilot/internal/mopparse"
	"cicdcopilot/pkg/domain"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const sampleMop = `Database Migration
1. Backup database
Run pg_dump -U admin app > backup.sql
2. Apply migration
Execute migrate.sh --target 42
3. Verify
Confirm the row counts match
`

const structuredMop = `# Release
steps:
  - name: Checkout
    type: git
    repo: example/app
  - name: Build
    type: docker_build
`

func newTestService(t *testing.T, opts ...core.Option) *core.Service {
	t.Helper()
	opts = append([]core.Option{core.WithSimulator(core.SimulatorConfig{Delay: time.Hour, SuccessRate: 1})}, opts...)
	return core.NewInMemoryService(core.NewDefaultRulesEngine(), opts...)
}

func uploadText(t *testing.T, svc *core.Service, filename, content string) domain.MopFile {
	t.Helper()
	file, res, err := svc.UploadMopFile(context.Background(), core.UploadInput{
		Filename:    filename,
		ContentType: "text/plain",
		Data:        []byte(content),
	})
	if err != nil {
		t.Fatalf("upload %s: %v", filename, err)
	}
	assertNoViolations(t, res)
	return file
}

func TestUploadMopFileStoresBodyAndText(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	file := uploadText(t, svc, "migration.txt", "\ufeff"+sampleMop)
	if file.Name != "migration" {
		t.Fatalf("expected name derived from filename, got %q", file.Name)
	}
	if file.Content != sampleMop {
		t.Fatalf("expected decoded content without BOM, got %q", file.Content)
	}
	if file.BlobKey == "" || file.UserID != core.DefaultUserID {
		t.Fatalf("unexpected stored file: %+v", file)
	}

	_, rc, err := svc.OpenMopFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("open mop file: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "\ufeff"+sampleMop {
		t.Fatalf("expected original bytes, got %q", body)
	}
}

func TestUploadMopFileRejectsInvalidUploads(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   core.UploadInput
		want error
	}{
		{"empty", core.UploadInput{Filename: "a.txt", ContentType: "text/plain"}, mopparse.ErrEmptyUpload},
		{"binary", core.UploadInput{Filename: "a.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}, mopparse.ErrUnsupportedType},
		{"too large", core.UploadInput{Filename: "a.txt", ContentType: "text/plain", Data: make([]byte, mopparse.MaxUploadBytes+1)}, mopparse.ErrTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.UploadMopFile(ctx, tc.in)
			if !errors.Is(err, core.ErrInvalidInput) || !errors.Is(err, tc.want) {
				t.Fatalf("expected %v wrapped as invalid input, got %v", tc.want, err)
			}
		})
	}
	files, err := svc.ListMopFiles(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("rejected uploads must not be stored, got %d", len(files))
	}
	keys, err := svc.Blobs().List(ctx, "")
	if err != nil {
		t.Fatalf("list blobs: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("rejected uploads must not leave blobs, got %d", len(keys))
	}
}

func TestRecentMopFilesAppliesLimit(t *testing.T) {
	svc := newTestService(t)
	for i := 0; i < 7; i++ {
		uploadText(t, svc, "mop.txt", sampleMop)
	}
	recent, err := svc.RecentMopFiles(context.Background(), 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != core.DefaultRecentLimit {
		t.Fatalf("expected default limit %d, got %d", core.DefaultRecentLimit, len(recent))
	}
	recent, _ = svc.RecentMopFiles(context.Background(), 2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent files, got %d", len(recent))
	}
}

func TestConvertMopToPipelineDerivesSectionSteps(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	file := uploadText(t, svc, "migration.txt", sampleMop)

	detail, res, err := svc.ConvertMopToPipeline(ctx, file.ID, "")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	assertNoViolations(t, res)
	if detail.Name != core.DefaultConvertedName {
		t.Fatalf("expected default name, got %q", detail.Name)
	}
	if detail.Status != domain.PipelineStatusDraft {
		t.Fatalf("expected draft status, got %s", detail.Status)
	}
	if detail.Description != "Converted from migration" {
		t.Fatalf("unexpected description %q", detail.Description)
	}
	if detail.MopFile == nil || detail.MopFile.ID != file.ID {
		t.Fatalf("expected mop file in detail, got %+v", detail.MopFile)
	}
	if len(detail.Steps) != 3 {
		t.Fatalf("expected one step per section, got %d", len(detail.Steps))
	}
	for i, step := range detail.Steps {
		if step.Position != i+1 {
			t.Fatalf("step %d has position %d", i, step.Position)
		}
	}
}

func TestConvertMopToPipelineUsesStructuredSteps(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	file := uploadText(t, svc, "release.yaml", structuredMop)

	detail, _, err := svc.ConvertMopToPipeline(ctx, file.ID, "Release")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(detail.Steps) != 2 {
		t.Fatalf("expected 2 structured steps, got %d", len(detail.Steps))
	}
	first := detail.Steps[0]
	if first.Name != "Checkout" || first.Type != "git" || first.Config["repo"] != "example/app" {
		t.Fatalf("unexpected first step %+v", first)
	}
}

func TestConvertMopToPipelineMissingFile(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.ConvertMopToPipeline(context.Background(), 99, "x")
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) || notFound.Entity != domain.EntityMopFile {
		t.Fatalf("expected mop file not found, got %v", err)
	}
}

func TestGeneratedScriptOverrideLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	file := uploadText(t, svc, "migration.txt", sampleMop)
	detail, _, err := svc.ConvertMopToPipeline(ctx, file.ID, "Migration")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	generated, err := svc.GeneratedScript(ctx, detail.ID)
	if err != nil {
		t.Fatalf("generated script: %v", err)
	}
	want := converter.Convert(sampleMop, nil)
	if generated != want {
		t.Fatalf("expected generated script to match converter output")
	}
	if !strings.Contains(generated, "stage('Backup database')") {
		t.Fatalf("expected a stage per numbered section:\n%s", generated)
	}

	if _, _, err := svc.UpdateGeneratedScript(ctx, detail.ID, "   "); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected blank script to be rejected, got %v", err)
	}
	custom := "pipeline { agent none }"
	updated, _, err := svc.UpdateGeneratedScript(ctx, detail.ID, custom)
	if err != nil {
		t.Fatalf("update script: %v", err)
	}
	if got, _ := updated.Config.GeneratedScript(); got != custom {
		t.Fatalf("expected override stored, got %q", got)
	}
	if got, _ := svc.GeneratedScript(ctx, detail.ID); got != custom {
		t.Fatalf("expected override returned verbatim, got %q", got)
	}
	if got, _ := svc.ConvertMopFile(ctx, file.ID); got != want {
		t.Fatalf("direct conversion must ignore pipeline overrides")
	}

	if _, _, err := svc.ResetGeneratedScript(ctx, detail.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got, _ := svc.GeneratedScript(ctx, detail.ID); got != want {
		t.Fatalf("expected regenerated script after reset")
	}
}

func TestGeneratedScriptMissingPipeline(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GeneratedScript(context.Background(), 42)
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPipelineGraphDOTLabelsPipeline(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	file := uploadText(t, svc, "migration.txt", sampleMop)
	detail, _, err := svc.ConvertMopToPipeline(ctx, file.ID, "Migration")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	dot, err := svc.PipelineGraphDOT(ctx, detail.ID)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if !strings.Contains(dot, "digraph") || !strings.Contains(dot, "Migration") {
		t.Fatalf("unexpected DOT output:\n%s", dot)
	}
}

func TestDeleteMopFileRefusedWhileReferenced(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	file := uploadText(t, svc, "migration.txt", sampleMop)
	detail, _, err := svc.ConvertMopToPipeline(ctx, file.ID, "Migration")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	if _, err := svc.DeleteMopFile(ctx, file.ID); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected delete to be refused, got %v", err)
	}
	if _, err := svc.DeletePipeline(ctx, detail.ID); err != nil {
		t.Fatalf("delete pipeline: %v", err)
	}
	if _, err := svc.DeleteMopFile(ctx, file.ID); err != nil {
		t.Fatalf("delete mop file: %v", err)
	}
	keys, _ := svc.Blobs().List(ctx, "")
	if len(keys) != 0 {
		t.Fatalf("expected stored body removed, got %d blobs", len(keys))
	}
}

func TestCreatePipelineStepAppendsAndWarnsOnDuplicatePosition(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	file := uploadText(t, svc, "migration.txt", sampleMop)
	p, _, err := svc.CreatePipeline(ctx, core.PipelineInput{MopFileID: file.ID, Name: "Manual"})
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}

	first, res, err := svc.CreatePipelineStep(ctx, core.StepInput{PipelineID: p.ID, Name: "Lint"})
	if err != nil {
		t.Fatalf("create step: %v", err)
	}
	assertNoViolations(t, res)
	if first.Position != 1 || first.Type != mopparse.DefaultStepType {
		t.Fatalf("unexpected first step %+v", first)
	}
	second, _, err := svc.CreatePipelineStep(ctx, core.StepInput{PipelineID: p.ID, Name: "Test"})
	if err != nil {
		t.Fatalf("create step: %v", err)
	}
	if second.Position != 2 {
		t.Fatalf("expected appended position 2, got %d", second.Position)
	}

	dup := 1
	_, res, err = svc.CreatePipelineStep(ctx, core.StepInput{PipelineID: p.ID, Name: "Again", Position: &dup})
	if err != nil {
		t.Fatalf("duplicate positions warn, they do not block: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Rule != "step_positions" || res.Violations[0].Severity != domain.SeverityWarn {
		t.Fatalf("expected step position warning, got %+v", res.Violations)
	}
}

func TestCreatePipelineValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.CreatePipeline(ctx, core.PipelineInput{MopFileID: 1}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected missing name rejected, got %v", err)
	}
	if _, _, err := svc.CreatePipeline(ctx, core.PipelineInput{MopFileID: 1, Name: "x", Status: "paused"}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected invalid status rejected, got %v", err)
	}
	var notFound domain.ErrNotFound
	if _, _, err := svc.CreatePipeline(ctx, core.PipelineInput{MopFileID: 7, Name: "x"}); !errors.As(err, &notFound) {
		t.Fatalf("expected missing mop file, got %v", err)
	}
}

func TestSharePipelineRejectsSelfAndDuplicates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	file := uploadText(t, svc, "migration.txt", sampleMop)
	p, _, err := svc.CreatePipeline(ctx, core.PipelineInput{MopFileID: file.ID, Name: "Shared"})
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}

	if _, _, err := svc.SharePipeline(ctx, core.ShareInput{PipelineID: p.ID, SharedWithUserID: core.DefaultUserID}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected self share rejected, got %v", err)
	}
	share, _, err := svc.SharePipeline(ctx, core.ShareInput{PipelineID: p.ID, SharedWithUserID: 2})
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if share.Permissions != domain.SharePermissionView || share.SharedByUserID != core.DefaultUserID {
		t.Fatalf("unexpected share %+v", share)
	}
	if _, _, err := svc.SharePipeline(ctx, core.ShareInput{PipelineID: p.ID, SharedWithUserID: 2}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected duplicate share rejected, got %v", err)
	}

	shared, err := svc.ListSharedPipelines(ctx)
	if err != nil {
		t.Fatalf("list shared: %v", err)
	}
	if len(shared) != 1 || shared[0].PipelineName != "Shared" {
		t.Fatalf("unexpected shared list %+v", shared)
	}
	summaries, err := svc.ListPipelineSummaries(ctx)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].SharedWith != 1 || summaries[0].MopFileName != "migration" {
		t.Fatalf("unexpected summaries %+v", summaries)
	}
}

func TestShareRecipientRuleBlocksSelfShareInTransaction(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	file := uploadText(t, svc, "migration.txt", sampleMop)
	p, _, err := svc.CreatePipeline(ctx, core.PipelineInput{MopFileID: file.ID, Name: "Shared"})
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}

	_, err = svc.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSharedPipeline(domain.SharedPipeline{PipelineID: p.ID, SharedByUserID: 3, SharedWithUserID: 3})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if violation.Result.Violations[0].Rule != "share_recipient" {
		t.Fatalf("unexpected violations %+v", violation.Result.Violations)
	}
}

func TestTeamAndIntegrationSettings(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.AddTeamMember(ctx, core.TeamMemberInput{Name: "Ann", Email: "not-an-email"}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected invalid email rejected, got %v", err)
	}
	member, _, err := svc.AddTeamMember(ctx, core.TeamMemberInput{Name: "Ann", Email: "ann@example.com"})
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if member.Role != domain.TeamRoleDeveloper {
		t.Fatalf("expected developer default role, got %s", member.Role)
	}
	members, _ := svc.ListTeamMembers(ctx)
	if len(members) != 1 {
		t.Fatalf("expected one member, got %d", len(members))
	}

	settings, err := svc.GetIntegrationSettings(ctx, 5)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.UserID != 5 || settings.GitHubBranch != domain.DefaultGitHubBranch || settings.JenkinsURL != "" {
		t.Fatalf("expected empty default settings, got %+v", settings)
	}
	if _, _, err := svc.UpdateIntegrationSettings(ctx, 5, domain.IntegrationSettings{JenkinsURL: "https://ci.example.com"}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	settings, _ = svc.GetIntegrationSettings(ctx, 5)
	if settings.JenkinsURL != "https://ci.example.com" || settings.GitHubBranch != domain.DefaultGitHubBranch {
		t.Fatalf("unexpected stored settings %+v", settings)
	}
	if _, err := svc.GetIntegrationSettings(ctx, 0); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected invalid user id rejected, got %v", err)
	}
}

func TestServiceClockAndLoggerOptions(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	observed, logs := observer.New(zapcore.DebugLevel)
	svc := newTestService(t,
		core.WithClock(core.ClockFunc(func() time.Time { return fixed })),
		core.WithLogger(zap.New(observed)),
	)
	ctx := context.Background()

	file := uploadText(t, svc, "migration.txt", sampleMop)
	if !file.CreatedAt.Equal(fixed) {
		t.Fatalf("expected store to use service clock, got %v", file.CreatedAt)
	}

	if _, err := svc.GetMopFile(ctx, 404); err == nil {
		t.Fatalf("expected not found")
	}
	if logs.FilterMessage("operation failed").Len() != 0 {
		t.Fatalf("client errors must not be logged as failures")
	}

	dup := 1
	p, _, _ := svc.CreatePipeline(ctx, core.PipelineInput{MopFileID: file.ID, Name: "P"})
	_, _, _ = svc.CreatePipelineStep(ctx, core.StepInput{PipelineID: p.ID, Name: "a", Position: &dup})
	_, _, _ = svc.CreatePipelineStep(ctx, core.StepInput{PipelineID: p.ID, Name: "b", Position: &dup})
	warnings := logs.FilterMessage("rule violation").All()
	if len(warnings) != 1 {
		t.Fatalf("expected one rule violation warning, got %d", len(warnings))
	}
	if warnings[0].ContextMap()["component"] != "core" {
		t.Fatalf("expected component field, got %v", warnings[0].ContextMap())
	}
}

func TestStatsCountsRecords(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.SeedDemoData(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats != (core.Stats{TotalMopFiles: 3, Pipelines: 3, Shared: 3}) {
		t.Fatalf("unexpected stats %+v", stats)
	}
	user, err := svc.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if user.Username != core.DemoUsername {
		t.Fatalf("unexpected current user %+v", user)
	}
}

func assertNoViolations(t *testing.T, res domain.Result) {
	t.Helper()
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations: %+v", res.Violations)
	}
}
