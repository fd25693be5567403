package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// CreateCommand persists a fresh PENDING row with uniqueness enforced
// by the (device_id, cmd_id) index (§3 Command invariants).
func (r *Repo) CreateCommand(ctx context.Context, deviceID uint64, cmdID, action string, payload []byte, sentAt time.Time) (*Command, error) {
	c := &Command{
		DeviceID: deviceID,
		CmdID:    cmdID,
		Action:   action,
		Payload:  payload,
		Status:   CommandPending,
		SentAt:   sentAt,
	}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Repo) GetCommandByCmdID(ctx context.Context, deviceID uint64, cmdID string) (*Command, error) {
	var c Command
	if err := r.db.WithContext(ctx).First(&c, "device_id = ? AND cmd_id = ?", deviceID, cmdID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *Repo) GetCommand(ctx context.Context, id uint64) (*Command, error) {
	var c Command
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindCommandByCmdID looks a row up by its cmdId alone, for HTTP
// surface callers that only have the wire-level identifier (§6.2's
// `POST /admin/commands/:idOrCmdId/retry`) and not the owning device.
func (r *Repo) FindCommandByCmdID(ctx context.Context, cmdID string) (*Command, error) {
	var c Command
	if err := r.db.WithContext(ctx).First(&c, "cmd_id = ?", cmdID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// TransitionCommand moves a PENDING row to a terminal state. The
// update predicate includes status=PENDING so a racing timeout and ACK
// can never both apply — only the first writer wins, matching the
// state machine's "transitions are monotonic" invariant.
func (r *Repo) TransitionCommand(ctx context.Context, deviceID uint64, cmdID, newStatus string, ackedAt *time.Time, errMsg string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Command{}).
		Where("device_id = ? AND cmd_id = ? AND status = ?", deviceID, cmdID, CommandPending).
		Updates(map[string]any{
			"status":   newStatus,
			"acked_at": ackedAt,
			"error":    errMsg,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListPendingOlderThan finds PENDING commands whose deadline (sentAt +
// timeout, computed by the caller) has passed — used by the deadline
// scheduler sweep on top of the in-memory min-heap as a durability
// backstop across restarts (testable property 1).
func (r *Repo) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]Command, error) {
	var rows []Command
	err := r.db.WithContext(ctx).
		Where("status = ? AND sent_at < ?", CommandPending, cutoff).
		Find(&rows).Error
	return rows, err
}

func (r *Repo) ListPendingForDevice(ctx context.Context) ([]Command, error) {
	var rows []Command
	err := r.db.WithContext(ctx).Where("status = ?", CommandPending).Order("device_id, sent_at").Find(&rows).Error
	return rows, err
}

func (r *Repo) ListCommands(ctx context.Context, deviceID *uint64, status string, limit int) ([]Command, error) {
	q := r.db.WithContext(ctx).Model(&Command{})
	if deviceID != nil {
		q = q.Where("device_id = ?", *deviceID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []Command
	err := q.Order("sent_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
