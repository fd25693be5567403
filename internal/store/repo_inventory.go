package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrAlreadyClaimed = errors.New("already claimed")
var ErrNotFound = errors.New("not found")

func (r *Repo) CreateHubInventory(ctx context.Context, inv *HubInventory) error {
	inv.Status = InventoryFactoryNew
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *Repo) CreateDeviceInventory(ctx context.Context, inv *DeviceInventory) error {
	inv.Status = InventoryFactoryNew
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *Repo) GetHubInventory(ctx context.Context, hubID string) (*HubInventory, error) {
	var inv HubInventory
	if err := r.db.WithContext(ctx).First(&inv, "hub_id = ?", hubID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (r *Repo) GetDeviceInventoryBySerial(ctx context.Context, serial string) (*DeviceInventory, error) {
	var inv DeviceInventory
	if err := r.db.WithContext(ctx).First(&inv, "serial = ?", serial).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// ClaimHub performs the optimistic FACTORY_NEW->CLAIMED predicate
// update plus Hub row creation in one transaction. Returns
// ErrAlreadyClaimed if the predicate update affected zero rows —
// testable property 4 (idempotent claim never mutates state on a
// repeat claim). credentialHash is the MQTT credential secret the
// caller issues on successful claim (§4.A), stored hashed alongside
// the live row.
func (r *Repo) ClaimHub(ctx context.Context, hubID string, homeID uint64, userID, credentialHash string) (*Hub, error) {
	var hub *Hub
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&HubInventory{}).
			Where("hub_id = ? AND status = ?", hubID, InventoryFactoryNew).
			Updates(map[string]any{
				"status":          InventoryClaimed,
				"claimed_by_user": userID,
				"claimed_home_id": homeID,
				"claimed_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyClaimed
		}
		h := &Hub{HubID: hubID, HomeID: homeID, Online: false, MQTTCredentialHash: credentialHash}
		if err := tx.Clauses().Create(h).Error; err != nil {
			return err
		}
		hub = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hub, nil
}

// ClaimDevice is the MQTT-plane analog of ClaimHub: it claims the
// inventory row and creates the live Device row with
// lifecycleStatus=ACTIVE (MQTT devices skip the Zigbee BOUND stage
// since there's no pairing handshake). credentialHash is stored the
// same way as ClaimHub's.
func (r *Repo) ClaimDevice(ctx context.Context, serial string, homeID uint64, roomID *uint64, credentialHash string) (*Device, error) {
	var dev *Device
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv DeviceInventory
		if err := tx.Clauses().First(&inv, "serial = ?", serial).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		res := tx.Model(&DeviceInventory{}).
			Where("serial = ? AND status = ?", serial, InventoryFactoryNew).
			Update("status", InventoryClaimed)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyClaimed
		}
		now := time.Now().UTC()
		d := &Device{
			DeviceID:           inv.DeviceUUID,
			HomeID:             homeID,
			RoomID:             roomID,
			Type:               inv.TypeDefault,
			Protocol:           inv.Protocol,
			LifecycleStatus:    LifecycleActive,
			Serial:             inv.Serial,
			ModelID:            inv.ModelID,
			MQTTCredentialHash: credentialHash,
			BoundAt:            &now,
		}
		if err := tx.Create(d).Error; err != nil {
			return err
		}
		dev = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// ListHubInventory backs the admin inventory browser and export (§6.2).
func (r *Repo) ListHubInventory(ctx context.Context, status string) ([]HubInventory, error) {
	q := r.db.WithContext(ctx).Model(&HubInventory{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []HubInventory
	err := q.Order("created_at desc").Find(&rows).Error
	return rows, err
}

func (r *Repo) ListDeviceInventory(ctx context.Context, status string) ([]DeviceInventory, error) {
	q := r.db.WithContext(ctx).Model(&DeviceInventory{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []DeviceInventory
	err := q.Order("created_at desc").Find(&rows).Error
	return rows, err
}

// ReleaseHubInventory reverts a claimed row to FACTORY_NEW, allowing
// re-claim, on a confirmed factory reset (§4.A revoke).
func (r *Repo) ReleaseHubInventory(ctx context.Context, hubID string) error {
	return r.db.WithContext(ctx).Model(&HubInventory{}).
		Where("hub_id = ?", hubID).
		Updates(map[string]any{
			"status":          InventoryFactoryNew,
			"claimed_by_user": "",
			"claimed_home_id": nil,
			"claimed_at":      nil,
		}).Error
}

func (r *Repo) ReleaseDeviceInventory(ctx context.Context, serial string) error {
	return r.db.WithContext(ctx).Model(&DeviceInventory{}).
		Where("serial = ?", serial).
		Update("status", InventoryFactoryNew).Error
}

// UnbindDevice implements the FACTORY_RESET-acked transition:
// lifecycleStatus=UNBOUND, unboundAt=now, hubId link cleared. The
// homeId column is left unchanged.
func (r *Repo) UnbindDevice(ctx context.Context, deviceDBID uint64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&Device{}).
		Where("id = ?", deviceDBID).
		Updates(map[string]any{
			"lifecycle_status": LifecycleUnbound,
			"unbound_at":       now,
			"hub_id":           nil,
		}).Error
}

// CreateResetRequest records a revoke() call in flight (§4.A); a
// PENDING row for (subjectType, subjectID) is what HasPendingResetRequest
// checks a concurrent claim against.
func (r *Repo) CreateResetRequest(ctx context.Context, subjectType, subjectID, resetType string) error {
	return r.db.WithContext(ctx).Create(&ResetRequest{
		SubjectType: subjectType,
		SubjectID:   subjectID,
		ResetType:   resetType,
		Status:      ResetRequestPending,
	}).Error
}

// HasPendingResetRequest reports whether a revoke() is still in flight
// for the given subject, the precondition a claim must check before
// falling through to the generic already-claimed CONFLICT.
func (r *Repo) HasPendingResetRequest(ctx context.Context, subjectType, subjectID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&ResetRequest{}).
		Where("subject_type = ? AND subject_id = ? AND status = ?", subjectType, subjectID, ResetRequestPending).
		Count(&n).Error
	return n > 0, err
}

// CompleteResetRequest marks every pending reset for a subject
// resolved once its command reaches a terminal ack, clearing the
// precondition for future claims.
func (r *Repo) CompleteResetRequest(ctx context.Context, subjectType, subjectID string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&ResetRequest{}).
		Where("subject_type = ? AND subject_id = ? AND status = ?", subjectType, subjectID, ResetRequestPending).
		Updates(map[string]any{"status": ResetRequestCompleted, "completed_at": now}).Error
}
