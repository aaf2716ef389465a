package core

import (
	"cicdcopilot/pkg/domain"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Demo accounts created by SeedDemoData.
const (
	DemoUsername      = "johndoe"
	DemoShareUsername = "janedoe"
)

var seedStepTypes = []string{
	"data_import", "transform", "data_export", "ml_train", "ml_evaluate", "api_test", "docker_build",
}

type seedMop struct {
	name  string
	steps [][2]string
}

var seedMops = []seedMop{
	{name: "Data Cleaning Pipeline", steps: [][2]string{
		{"Import CSV", "data_import"},
		{"Clean Missing Values", "transform"},
		{"Export Clean Data", "data_export"},
	}},
	{name: "ML Training Pipeline", steps: [][2]string{
		{"Load Dataset", "data_import"},
		{"Feature Engineering", "transform"},
		{"Train Model", "ml_train"},
		{"Evaluate Model", "ml_evaluate"},
		{"Save Model", "data_export"},
	}},
	{name: "API Deployment Workflow", steps: [][2]string{
		{"Test API", "api_test"},
		{"Build Docker Image", "docker_build"},
		{"Deploy to K8s", "deploy"},
		{"Verify Deployment", "api_test"},
	}},
}

var seedPipelines = []struct {
	name        string
	description string
	status      domain.PipelineStatus
}{
	{"Data Preprocessing", "Pipeline for cleaning and preprocessing raw data", domain.PipelineStatusActive},
	{"Model Training", "End-to-end ML model training pipeline", domain.PipelineStatusDraft},
	{"Deployment Pipeline", "CI/CD pipeline for API deployment", domain.PipelineStatusActive},
}

var seedTeam = []domain.TeamMember{
	{Name: "Alice Smith", Email: "alice@devplatform.co", Role: domain.TeamRoleDeveloper},
	{Name: "Robert Johnson", Email: "robert@devplatform.co", Role: domain.TeamRoleViewer},
	{Name: "Emma Lee", Email: "emma@devplatform.co", Role: domain.TeamRoleAdmin},
}

func seedMopContent(m seedMop) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\nsteps:\n", m.name)
	for _, step := range m.steps {
		fmt.Fprintf(&b, "  - name: %s\n    type: %s\n", step[0], step[1])
	}
	return b.String()
}

// SeedDemoData fills an empty store with the demo user, MOP files, pipelines,
// steps, shares, team members and one finished execution per pipeline. It
// reports false without writing when the store already holds users or MOP files.
func (s *Service) SeedDemoData(ctx context.Context) (bool, domain.Result, error) {
	empty := false
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		_, hasUser := v.FindUser(s.userID)
		empty = !hasUser && len(v.ListMopFiles()) == 0
		return nil
	})
	if err != nil || !empty {
		return false, domain.Result{}, err
	}

	res, err := s.run(ctx, "seed_demo_data", func(tx domain.Transaction) error {
		owner, err := tx.CreateUser(domain.User{
			Base:      domain.Base{ID: s.userID},
			Username:  DemoUsername,
			FirstName: "John",
			LastName:  "Doe",
			Email:     "john@devplatform.co",
		})
		if err != nil {
			return err
		}
		recipient, err := tx.CreateUser(domain.User{
			Username:  DemoShareUsername,
			FirstName: "Jane",
			LastName:  "Doe",
			Email:     "jane@devplatform.co",
		})
		if err != nil {
			return err
		}

		mopIDs := make([]int64, 0, len(seedMops))
		for _, m := range seedMops {
			content := seedMopContent(m)
			created, err := tx.CreateMopFile(domain.MopFile{
				UserID:      owner.ID,
				Name:        m.name,
				Description: "Description for " + m.name,
				Content:     content,
				ContentType: "application/x-yaml",
				SizeBytes:   int64(len(content)),
			})
			if err != nil {
				return err
			}
			mopIDs = append(mopIDs, created.ID)
		}

		now := s.clock.Now()
		for i, sp := range seedPipelines {
			p, err := tx.CreatePipeline(domain.Pipeline{
				UserID:      owner.ID,
				MopFileID:   mopIDs[i],
				Name:        sp.name,
				Description: sp.description,
				Status:      sp.status,
			})
			if err != nil {
				return err
			}
			for j := 0; j < 3; j++ {
				if _, err := tx.CreatePipelineStep(domain.PipelineStep{
					PipelineID: p.ID,
					Name:       fmt.Sprintf("Step %d", j+1),
					Type:       seedStepTypes[(i+j)%len(seedStepTypes)],
					Config:     map[string]any{"enabled": true},
					Position:   j + 1,
				}); err != nil {
					return err
				}
			}
			permission := domain.SharePermissionView
			if i == 0 {
				permission = domain.SharePermissionEdit
			}
			if _, err := tx.CreateSharedPipeline(domain.SharedPipeline{
				PipelineID:       p.ID,
				SharedByUserID:   owner.ID,
				SharedWithUserID: recipient.ID,
				Permissions:      permission,
			}); err != nil {
				return err
			}
			started := now.Add(-time.Duration(i+1) * time.Hour)
			completed := started.Add(time.Duration(1500+500*i) * time.Millisecond)
			if _, err := tx.CreatePipelineExecution(domain.PipelineExecution{
				PipelineID:  p.ID,
				Status:      domain.ExecutionStatusCompleted,
				Logs:        ExecutionLogSuccess,
				Results:     map[string]any{"success": true, "metrics": map[string]any{"duration": completed.Sub(started).Milliseconds()}},
				StartedAt:   started,
				CompletedAt: &completed,
			}); err != nil {
				return err
			}
		}

		for _, member := range seedTeam {
			member.UserID = owner.ID
			if _, err := tx.CreateTeamMember(member); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, res, err
	}
	s.logger.Info("seeded demo data", zap.Int("mop_files", len(seedMops)), zap.Int("pipelines", len(seedPipelines)))
	return true, res, nil
}
