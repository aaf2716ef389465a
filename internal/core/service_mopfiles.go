package core

import (
	"bytes"
	"cicdcopilot/internal/blob"
	"cicdcopilot/internal/mopparse"
	"cicdcopilot/pkg/domain"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DefaultRecentLimit is used by RecentMopFiles when no positive limit is given.
const DefaultRecentLimit = 5

// UploadInput describes an uploaded MOP document.
type UploadInput struct {
	Filename    string
	ContentType string
	Name        string
	Description string
	Data        []byte
}

// MopFileUpdate carries the editable MOP file metadata. Nil fields are kept.
type MopFileUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ListMopFiles returns every MOP file, newest first.
func (s *Service) ListMopFiles(ctx context.Context) ([]domain.MopFile, error) {
	var files []domain.MopFile
	err := s.view(ctx, "list_mop_files", func(v domain.TransactionView) error {
		files = v.ListMopFiles()
		return nil
	})
	return files, err
}

// RecentMopFiles returns at most limit MOP files, newest first.
func (s *Service) RecentMopFiles(ctx context.Context, limit int) ([]domain.MopFile, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	var files []domain.MopFile
	err := s.view(ctx, "recent_mop_files", func(v domain.TransactionView) error {
		files = v.ListMopFiles()
		if len(files) > limit {
			files = files[:limit]
		}
		return nil
	})
	return files, err
}

// GetMopFile returns one MOP file.
func (s *Service) GetMopFile(ctx context.Context, id int64) (domain.MopFile, error) {
	var file domain.MopFile
	err := s.view(ctx, "get_mop_file", func(v domain.TransactionView) error {
		m, ok := v.FindMopFile(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityMopFile, ID: id}
		}
		file = m
		return nil
	})
	return file, err
}

// UploadMopFile validates an upload, keeps its bytes in the blob store and
// records the decoded text as the MOP file content.
func (s *Service) UploadMopFile(ctx context.Context, in UploadInput) (domain.MopFile, domain.Result, error) {
	if err := mopparse.Validate(in.Filename, in.ContentType, int64(len(in.Data))); err != nil {
		return domain.MopFile{}, domain.Result{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	key := blob.MopFileKey(in.Filename)
	info, err := s.blobs.Put(ctx, key, bytes.NewReader(in.Data), blob.PutOptions{
		ContentType: in.ContentType,
		Metadata: map[string]string{
			"filename": path.Base(strings.ReplaceAll(in.Filename, "\\", "/")),
			"user-id":  strconv.FormatInt(s.userID, 10),
		},
	})
	if err != nil {
		return domain.MopFile{}, domain.Result{}, fmt.Errorf("store upload: %w", err)
	}

	var created domain.MopFile
	res, err := s.run(ctx, "upload_mop_file", func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateMopFile(domain.MopFile{
			UserID:      s.userID,
			Name:        mopparse.DisplayName(in.Name, in.Filename),
			Description: strings.TrimSpace(in.Description),
			Content:     mopparse.DecodeText(in.Data),
			BlobKey:     info.Key,
			ContentType: in.ContentType,
			SizeBytes:   info.Size,
		})
		return err
	})
	if err != nil {
		s.removeBlob(ctx, key)
		return domain.MopFile{}, res, err
	}
	return created, res, nil
}

// OpenMopFile streams the original upload. Files without a stored body, or
// whose body has gone missing, stream their recorded content instead.
func (s *Service) OpenMopFile(ctx context.Context, id int64) (domain.MopFile, io.ReadCloser, error) {
	file, err := s.GetMopFile(ctx, id)
	if err != nil {
		return domain.MopFile{}, nil, err
	}
	if file.BlobKey != "" {
		_, rc, err := s.blobs.Get(ctx, file.BlobKey)
		switch {
		case err == nil:
			return file, rc, nil
		case !errors.Is(err, blob.ErrNotFound):
			return domain.MopFile{}, nil, fmt.Errorf("open upload: %w", err)
		}
		s.logger.Warn("mop file body missing from blob store", zap.Int64("mop_file_id", id), zap.String("key", file.BlobKey))
	}
	return file, io.NopCloser(strings.NewReader(file.Content)), nil
}

// UpdateMopFile edits the name or description of a MOP file.
func (s *Service) UpdateMopFile(ctx context.Context, id int64, update MopFileUpdate) (domain.MopFile, domain.Result, error) {
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return domain.MopFile{}, domain.Result{}, invalidf("mop file name is required")
	}
	var updated domain.MopFile
	res, err := s.run(ctx, "update_mop_file", func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateMopFile(id, func(m *domain.MopFile) error {
			if update.Name != nil {
				m.Name = strings.TrimSpace(*update.Name)
			}
			if update.Description != nil {
				m.Description = strings.TrimSpace(*update.Description)
			}
			return nil
		})
		return err
	})
	return updated, res, err
}

// DeleteMopFile removes a MOP file and its stored body. Files still used by
// a pipeline are refused.
func (s *Service) DeleteMopFile(ctx context.Context, id int64) (domain.Result, error) {
	var removed domain.MopFile
	res, err := s.run(ctx, "delete_mop_file", func(tx domain.Transaction) error {
		m, ok := tx.FindMopFile(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityMopFile, ID: id}
		}
		for _, p := range tx.Snapshot().ListPipelines() {
			if p.MopFileID == id {
				return invalidf("mop file %d is used by pipeline %d", id, p.ID)
			}
		}
		removed = m
		return tx.DeleteMopFile(id)
	})
	if err != nil {
		return res, err
	}
	if removed.BlobKey != "" {
		s.removeBlob(ctx, removed.BlobKey)
	}
	return res, nil
}

func (s *Service) removeBlob(ctx context.Context, key string) {
	if _, err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn("remove mop file body", zap.String("key", key), zap.Error(err))
	}
}
