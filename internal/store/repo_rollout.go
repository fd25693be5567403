package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repo) CreateFirmwareRelease(ctx context.Context, rel *FirmwareRelease) error {
	return r.db.WithContext(ctx).Create(rel).Error
}

func (r *Repo) ListFirmwareReleases(ctx context.Context) ([]FirmwareRelease, error) {
	var rows []FirmwareRelease
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error
	return rows, err
}

func (r *Repo) CreateRollout(ctx context.Context, releaseID uint64, hubIDs []string) (*FirmwareRollout, error) {
	var rollout *FirmwareRollout
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ro := &FirmwareRollout{ReleaseID: releaseID, Status: RolloutCreated}
		if err := tx.Create(ro).Error; err != nil {
			return err
		}
		for _, hubID := range hubIDs {
			t := &RolloutTarget{RolloutID: ro.ID, HubID: hubID, State: TargetCreated}
			if err := tx.Create(t).Error; err != nil {
				return err
			}
		}
		rollout = ro
		return nil
	})
	return rollout, err
}

func (r *Repo) GetRollout(ctx context.Context, id uint64) (*FirmwareRollout, error) {
	var ro FirmwareRollout
	if err := r.db.WithContext(ctx).First(&ro, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ro, nil
}

func (r *Repo) ListRollouts(ctx context.Context) ([]FirmwareRollout, error) {
	var rows []FirmwareRollout
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error
	return rows, err
}

func (r *Repo) SetRolloutStatus(ctx context.Context, id uint64, status string) error {
	return r.db.WithContext(ctx).Model(&FirmwareRollout{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
}

func (r *Repo) ListRolloutTargets(ctx context.Context, rolloutID uint64) ([]RolloutTarget, error) {
	var rows []RolloutTarget
	err := r.db.WithContext(ctx).Where("rollout_id = ?", rolloutID).Order("hub_id").Find(&rows).Error
	return rows, err
}

func (r *Repo) UpsertRolloutTarget(ctx context.Context, t *RolloutTarget) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rollout_id"}, {Name: "hub_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "attempt", "cmd_id", "sent_at", "acked_at", "last_msg"}),
	}).Create(t).Error
}
