package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/opencode-ai/claudia/internal/checkpoint"
	"github.com/opencode-ai/claudia/internal/storage"
	"github.com/opencode-ai/claudia/pkg/types"
)

// Records stores session records under session/<projectID>/<sessionID>.
type Records struct {
	storage *storage.Storage
}

// NewRecords creates a record store.
func NewRecords(store *storage.Storage) *Records {
	return &Records{storage: store}
}

// Save writes a record, replacing any previous version.
func (r *Records) Save(ctx context.Context, record *types.SessionRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("session record needs an id")
	}
	if record.ProjectID == "" {
		record.ProjectID = types.ProjectID(record.ProjectPath)
	}
	if err := r.storage.Put(ctx, checkpoint.SessionKey(record.ProjectID, record.ID), record); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get finds a record by id in any project.
func (r *Records) Get(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	projects, err := r.storage.List(ctx, []string{"session"})
	if err != nil {
		return nil, err
	}

	for _, projectID := range projects {
		var record types.SessionRecord
		if err := r.storage.Get(ctx, checkpoint.SessionKey(projectID, sessionID), &record); err == nil {
			return &record, nil
		}
	}
	return nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
}

// Rename sets a record's display name.
func (r *Records) Rename(ctx context.Context, sessionID, name string) (*types.SessionRecord, error) {
	record, err := r.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	record.Name = strings.TrimSpace(name)
	if err := r.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Delete removes a record.
func (r *Records) Delete(ctx context.Context, sessionID string) error {
	record, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	return r.storage.Delete(ctx, checkpoint.SessionKey(record.ProjectID, sessionID))
}

// List returns the records of a project, newest first. An empty projectID
// lists every project.
func (r *Records) List(ctx context.Context, projectID string) ([]*types.SessionRecord, error) {
	projects := []string{projectID}
	if projectID == "" {
		var err error
		if projects, err = r.storage.List(ctx, []string{"session"}); err != nil {
			return nil, err
		}
	}

	records := []*types.SessionRecord{}
	for _, pid := range projects {
		err := r.storage.Scan(ctx, []string{"session", pid}, func(key string, data json.RawMessage) error {
			var record types.SessionRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Created > records[j].Created })
	return records, nil
}

// Children returns the sessions forked from sessionID.
func (r *Records) Children(ctx context.Context, sessionID string) ([]*types.SessionRecord, error) {
	record, err := r.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	all, err := r.List(ctx, record.ProjectID)
	if err != nil {
		return nil, err
	}

	var children []*types.SessionRecord
	for _, rec := range all {
		if rec.ParentID != nil && *rec.ParentID == sessionID {
			children = append(children, rec)
		}
	}
	return children, nil
}
