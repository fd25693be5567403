package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repo) CreatePairingSession(ctx context.Context, s *ZigbeePairingSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetPairingSession(ctx context.Context, token string) (*ZigbeePairingSession, error) {
	var s ZigbeePairingSession
	if err := r.db.WithContext(ctx).First(&s, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repo) DeletePairingSession(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).Delete(&ZigbeePairingSession{}, "token = ?", token).Error
}

func (r *Repo) ListExpiredPairingSessions(ctx context.Context, now time.Time) ([]ZigbeePairingSession, error) {
	var rows []ZigbeePairingSession
	err := r.db.WithContext(ctx).Where("expires_at < ?", now).Find(&rows).Error
	return rows, err
}

func (r *Repo) UpsertDiscovered(ctx context.Context, d *ZigbeeDiscoveredDevice) error {
	d.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "hub_id"}, {Name: "ieee"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"short_addr", "manufacturer", "model", "sw_build_id",
			"suggested_model_id", "pairing_token", "status", "updated_at",
		}),
	}).Create(d).Error
}

func (r *Repo) GetDiscovered(ctx context.Context, hubID, ieee string) (*ZigbeeDiscoveredDevice, error) {
	var d ZigbeeDiscoveredDevice
	if err := r.db.WithContext(ctx).First(&d, "hub_id = ? AND ieee = ?", hubID, ieee).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *Repo) ListDiscovered(ctx context.Context, homeID *uint64) ([]ZigbeeDiscoveredDevice, error) {
	q := r.db.WithContext(ctx).Model(&ZigbeeDiscoveredDevice{})
	if homeID != nil {
		var hubs []Hub
		if err := r.db.WithContext(ctx).Where("home_id = ?", *homeID).Find(&hubs).Error; err != nil {
			return nil, err
		}
		ids := make([]string, len(hubs))
		for i, h := range hubs {
			ids[i] = h.HubID
		}
		q = q.Where("hub_id IN ?", ids)
	}
	var rows []ZigbeeDiscoveredDevice
	err := q.Order("updated_at DESC").Find(&rows).Error
	return rows, err
}

func (r *Repo) SetDiscoveredStatus(ctx context.Context, id uint64, status string) error {
	return r.db.WithContext(ctx).Model(&ZigbeeDiscoveredDevice{}).Where("id = ?", id).Update("status", status).Error
}

// CreateDeviceFromPairing binds a discovered device into a live
// Zigbee Device row (§4.I confirm).
func (r *Repo) CreateDeviceFromPairing(ctx context.Context, homeID uint64, hubID, ieee, modelID, deviceType string) (*Device, error) {
	var dev *Device
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		d := &Device{
			DeviceID:        "zb-" + ieee,
			HomeID:          homeID,
			Type:            deviceType,
			Protocol:        ProtocolZigbee,
			HubID:           &hubID,
			ZigbeeIEEE:      &ieee,
			LifecycleStatus: LifecycleBound,
			ModelID:         modelID,
			BoundAt:         &now,
		}
		if err := tx.Create(d).Error; err != nil {
			return err
		}
		dev = d
		return nil
	})
	return dev, err
}
