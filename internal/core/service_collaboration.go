package core

import (
	"cicdcopilot/pkg/domain"
	"context"
	"net/mail"
	"strings"
)

// ShareInput grants a user access to a pipeline. Permissions default to view.
type ShareInput struct {
	PipelineID       int64                  `json:"pipelineId"`
	SharedWithUserID int64                  `json:"sharedWithUserId"`
	Permissions      domain.SharePermission `json:"permissions"`
}

// SharedPipelineView is a share listed with the shared pipeline's name.
type SharedPipelineView struct {
	domain.SharedPipeline
	PipelineName string `json:"pipelineName"`
}

// TeamMemberInput adds a collaborator. Role defaults to developer.
type TeamMemberInput struct {
	Name  string          `json:"name"`
	Email string          `json:"email"`
	Role  domain.TeamRole `json:"role"`
}

// ListSharedPipelines returns every share, most recent first.
func (s *Service) ListSharedPipelines(ctx context.Context) ([]SharedPipelineView, error) {
	var out []SharedPipelineView
	err := s.view(ctx, "list_shared_pipelines", func(v domain.TransactionView) error {
		shares := v.ListSharedPipelines()
		out = make([]SharedPipelineView, 0, len(shares))
		for _, share := range shares {
			item := SharedPipelineView{SharedPipeline: share}
			if p, ok := v.FindPipeline(share.PipelineID); ok {
				item.PipelineName = p.Name
			}
			out = append(out, item)
		}
		return nil
	})
	return out, err
}

// SharePipeline shares a pipeline from the current user with another user.
// Self shares and repeated shares to the same recipient are rejected.
func (s *Service) SharePipeline(ctx context.Context, in ShareInput) (domain.SharedPipeline, domain.Result, error) {
	if in.SharedWithUserID <= 0 {
		return domain.SharedPipeline{}, domain.Result{}, invalidf("sharedWithUserId is required")
	}
	if in.SharedWithUserID == s.userID {
		return domain.SharedPipeline{}, domain.Result{}, invalidf("a pipeline cannot be shared with its owner")
	}
	if in.Permissions != "" && !in.Permissions.Valid() {
		return domain.SharedPipeline{}, domain.Result{}, invalidf("share permission %q is invalid", in.Permissions)
	}
	var created domain.SharedPipeline
	res, err := s.run(ctx, "share_pipeline", func(tx domain.Transaction) error {
		if _, ok := tx.FindPipeline(in.PipelineID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityPipeline, ID: in.PipelineID}
		}
		for _, existing := range tx.Snapshot().ListSharedPipelines() {
			if existing.PipelineID == in.PipelineID && existing.SharedWithUserID == in.SharedWithUserID {
				return invalidf("pipeline %d is already shared with user %d", in.PipelineID, in.SharedWithUserID)
			}
		}
		var err error
		created, err = tx.CreateSharedPipeline(domain.SharedPipeline{
			PipelineID:       in.PipelineID,
			SharedByUserID:   s.userID,
			SharedWithUserID: in.SharedWithUserID,
			Permissions:      in.Permissions,
		})
		return err
	})
	return created, res, err
}

// ListTeamMembers returns the team in creation order.
func (s *Service) ListTeamMembers(ctx context.Context) ([]domain.TeamMember, error) {
	var members []domain.TeamMember
	err := s.instrument(ctx, "list_team_members", func(context.Context) error {
		members = s.store.ListTeamMembers()
		return nil
	})
	return members, err
}

// AddTeamMember adds a collaborator to the current user's team.
func (s *Service) AddTeamMember(ctx context.Context, in TeamMemberInput) (domain.TeamMember, domain.Result, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.TeamMember{}, domain.Result{}, invalidf("team member name is required")
	}
	email := strings.TrimSpace(in.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.TeamMember{}, domain.Result{}, invalidf("team member email %q is invalid", in.Email)
	}
	if in.Role != "" && !in.Role.Valid() {
		return domain.TeamMember{}, domain.Result{}, invalidf("team role %q is invalid", in.Role)
	}
	var created domain.TeamMember
	res, err := s.run(ctx, "add_team_member", func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateTeamMember(domain.TeamMember{
			UserID: s.userID,
			Name:   name,
			Email:  email,
			Role:   in.Role,
		})
		return err
	})
	return created, res, err
}

// GetIntegrationSettings returns the stored settings of a user, or an empty
// record on the default branch when none are stored.
func (s *Service) GetIntegrationSettings(ctx context.Context, userID int64) (domain.IntegrationSettings, error) {
	if userID <= 0 {
		return domain.IntegrationSettings{}, invalidf("invalid user id %d", userID)
	}
	var settings domain.IntegrationSettings
	err := s.instrument(ctx, "get_integration_settings", func(context.Context) error {
		stored, ok := s.store.GetIntegrationSettings(userID)
		if !ok {
			stored = domain.IntegrationSettings{UserID: userID, GitHubBranch: domain.DefaultGitHubBranch}
		}
		settings = stored
		return nil
	})
	return settings, err
}

// UpdateIntegrationSettings replaces the settings of a user.
func (s *Service) UpdateIntegrationSettings(ctx context.Context, userID int64, in domain.IntegrationSettings) (domain.IntegrationSettings, domain.Result, error) {
	if userID <= 0 {
		return domain.IntegrationSettings{}, domain.Result{}, invalidf("invalid user id %d", userID)
	}
	in.UserID = userID
	in.GitHubBranch = strings.TrimSpace(in.GitHubBranch)
	var stored domain.IntegrationSettings
	res, err := s.run(ctx, "update_integration_settings", func(tx domain.Transaction) error {
		var err error
		stored, err = tx.PutIntegrationSettings(in)
		return err
	})
	return stored, res, err
}
