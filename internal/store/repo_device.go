package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repo) GetDeviceByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	if err := r.db.WithContext(ctx).First(&d, "device_id = ?", deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *Repo) GetDeviceByID(ctx context.Context, id uint64) (*Device, error) {
	var d Device
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *Repo) GetDeviceByIEEE(ctx context.Context, ieee string) (*Device, error) {
	var d Device
	if err := r.db.WithContext(ctx).First(&d, "zigbee_ieee = ?", ieee).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *Repo) ListDevices(ctx context.Context, homeID *uint64, modelID string, onlineOnly *bool) ([]Device, error) {
	q := r.db.WithContext(ctx).Model(&Device{})
	if homeID != nil {
		q = q.Where("home_id = ?", *homeID)
	}
	if modelID != "" {
		q = q.Where("model_id = ?", modelID)
	}
	var rows []Device
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	if onlineOnly == nil {
		return rows, nil
	}
	// online is tracked on DeviceStateCurrent, joined in-memory here since
	// the filter is rarely used together with a large result set.
	var states []DeviceStateCurrent
	ids := make([]uint64, len(rows))
	for i, d := range rows {
		ids[i] = d.ID
	}
	if err := r.db.WithContext(ctx).Where("device_id IN ?", ids).Find(&states).Error; err != nil {
		return nil, err
	}
	onlineSet := make(map[uint64]bool, len(states))
	for _, s := range states {
		onlineSet[s.DeviceID] = s.Online
	}
	out := rows[:0]
	for _, d := range rows {
		if onlineSet[d.ID] == *onlineOnly {
			out = append(out, d)
		}
	}
	return out, nil
}

// UpsertDeviceState applies the Telemetry Ingestor's monotonic-ts rule:
// DeviceStateCurrent only moves forward if ts > stored.lastSeenTs;
// otherwise the write is dropped for current state but still appended
// to history by the caller (zigbee-adapter/internal/store/repo.go
// SaveDeviceState via clause.OnConflict).
func (r *Repo) UpsertDeviceState(ctx context.Context, deviceID uint64, ts int64, online bool, stateJSON []byte) (applied bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur DeviceStateCurrent
		lookErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cur, "device_id = ?", deviceID).Error
		switch {
		case errors.Is(lookErr, gorm.ErrRecordNotFound):
			applied = true
		case lookErr != nil:
			return lookErr
		default:
			applied = ts > cur.LastSeenTS
		}
		if !applied {
			return nil
		}
		row := DeviceStateCurrent{
			DeviceID:   deviceID,
			State:      stateJSON,
			LastSeenTS: ts,
			Online:     online,
			UpdatedAt:  time.Now().UTC(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "last_seen_ts", "online", "updated_at"}),
		}).Create(&row).Error
	})
	return applied, err
}

func (r *Repo) AppendDeviceStateHistory(ctx context.Context, deviceID uint64, ts int64, online bool, stateJSON []byte) error {
	return r.db.WithContext(ctx).Create(&DeviceStateHistory{
		DeviceID:   deviceID,
		State:      stateJSON,
		Online:     online,
		LastSeenTS: ts,
		CreatedAt:  time.UnixMilli(ts).UTC(),
	}).Error
}

func (r *Repo) GetDeviceState(ctx context.Context, deviceID uint64) (*DeviceStateCurrent, error) {
	var cur DeviceStateCurrent
	if err := r.db.WithContext(ctx).First(&cur, "device_id = ?", deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cur, nil
}

// NextHomeSeq draws the next per-home monotonic counter value under a
// row lock in the caller's transaction, upserting the counter row if
// this is the home's first event.
func (r *Repo) NextHomeSeq(tx *gorm.DB, homeID uint64) (int64, error) {
	var seq HomeEventSeq
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&seq, "home_id = ?", homeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		seq = HomeEventSeq{HomeID: homeID, Next: 1}
		if err := tx.Create(&seq).Error; err != nil {
			return 0, err
		}
		if err := tx.Model(&HomeEventSeq{}).Where("home_id = ?", homeID).Update("next", 2).Error; err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	next := seq.Next
	if err := tx.Model(&HomeEventSeq{}).Where("home_id = ?", homeID).Update("next", next+1).Error; err != nil {
		return 0, err
	}
	return next, nil
}

func (r *Repo) AppendDeviceEvent(ctx context.Context, homeID, deviceID uint64, evtType string, data []byte, sourceAt int64) (*DeviceEvent, error) {
	var evt *DeviceEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := r.NextHomeSeq(tx, homeID)
		if err != nil {
			return err
		}
		e := &DeviceEvent{
			HomeID:    homeID,
			HomeSeq:   seq,
			DeviceID:  deviceID,
			Type:      evtType,
			Data:      data,
			SourceAt:  sourceAt,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		evt = e
		return nil
	})
	return evt, err
}

// TouchDeviceOnline and TouchHubOnline implement Presence Tracker
// writes (§4.C), grounded on zigbee-adapter/internal/store/repo.go's
// TouchOnline/SetOfflineOlderThan pair.
func (r *Repo) TouchDeviceOnline(ctx context.Context, deviceID uint64, online bool, lastSeenTS int64) (changed bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur DeviceStateCurrent
		lookErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cur, "device_id = ?", deviceID).Error
		if errors.Is(lookErr, gorm.ErrRecordNotFound) {
			changed = true
			return tx.Create(&DeviceStateCurrent{DeviceID: deviceID, Online: online, LastSeenTS: lastSeenTS, UpdatedAt: time.Now().UTC()}).Error
		}
		if lookErr != nil {
			return lookErr
		}
		changed = cur.Online != online
		return tx.Model(&DeviceStateCurrent{}).Where("device_id = ?", deviceID).
			Updates(map[string]any{"online": online, "updated_at": time.Now().UTC()}).Error
	})
	return changed, err
}

func (r *Repo) SetDevicesOfflineOlderThan(ctx context.Context, cutoff time.Time) ([]uint64, error) {
	var rows []DeviceStateCurrent
	if err := r.db.WithContext(ctx).Where("online = ? AND updated_at < ?", true, cutoff).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]uint64, len(rows))
	for i, row := range rows {
		ids[i] = row.DeviceID
	}
	if err := r.db.WithContext(ctx).Model(&DeviceStateCurrent{}).
		Where("device_id IN ?", ids).Update("online", false).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repo) TouchHubOnline(ctx context.Context, hubID string, online bool, lastSeen time.Time) (changed bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var h Hub
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&h, "hub_id = ?", hubID).Error; err != nil {
			return err
		}
		changed = h.Online != online
		return tx.Model(&Hub{}).Where("hub_id = ?", hubID).
			Updates(map[string]any{"online": online, "last_seen": lastSeen}).Error
	})
	return changed, err
}

func (r *Repo) SetHubsOfflineOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	var rows []Hub
	if err := r.db.WithContext(ctx).Where("online = ? AND last_seen < ?", true, cutoff).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rows))
	for i, h := range rows {
		ids[i] = h.HubID
	}
	if err := r.db.WithContext(ctx).Model(&Hub{}).Where("hub_id IN ?", ids).Update("online", false).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repo) GetHub(ctx context.Context, hubID string) (*Hub, error) {
	var h Hub
	if err := r.db.WithContext(ctx).First(&h, "hub_id = ?", hubID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

func (r *Repo) ListHubs(ctx context.Context, status string) ([]Hub, error) {
	q := r.db.WithContext(ctx).Model(&Hub{})
	if status == "online" {
		q = q.Where("online = ?", true)
	} else if status == "offline" {
		q = q.Where("online = ?", false)
	}
	var rows []Hub
	err := q.Order("hub_id").Find(&rows).Error
	return rows, err
}

func (r *Repo) CountOnlineDevices(ctx context.Context) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&DeviceStateCurrent{}).Where("online = ?", true).Count(&n).Error
	return int(n), err
}

func (r *Repo) CountOnlineHubs(ctx context.Context) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Hub{}).Where("online = ?", true).Count(&n).Error
	return int(n), err
}

func (r *Repo) SetHubFirmwareVersion(ctx context.Context, hubID, version string) error {
	return r.db.WithContext(ctx).Model(&Hub{}).Where("hub_id = ?", hubID).Update("firmware_version", version).Error
}

// ListDeviceEvents backs the admin events browser (§6.2); day, when
// non-nil, filters to events created within that UTC calendar day.
func (r *Repo) ListDeviceEvents(ctx context.Context, homeID, deviceID *uint64, day *time.Time, evtType string, limit int) ([]DeviceEvent, error) {
	q := r.db.WithContext(ctx).Model(&DeviceEvent{})
	if homeID != nil {
		q = q.Where("home_id = ?", *homeID)
	}
	if deviceID != nil {
		q = q.Where("device_id = ?", *deviceID)
	}
	if day != nil {
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		q = q.Where("created_at >= ? AND created_at < ?", start, start.Add(24*time.Hour))
	}
	if evtType != "" {
		q = q.Where("type = ?", evtType)
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var rows []DeviceEvent
	err := q.Order("id desc").Limit(limit).Find(&rows).Error
	return rows, err
}
