package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Repo is the single gorm-backed access layer for every entity in §3.
// It is intentionally one type (not one per component) because several
// operations — claim, command submission, ACK correlation — span
// entities that used to live in separate microservices; keeping them
// behind one Repo lets those operations run inside a single
// transaction instead of a cross-service RPC.
type Repo struct {
	db *gorm.DB
}

type slogWriter struct{}

func (slogWriter) Printf(format string, args ...any) {
	slog.Warn(fmt.Sprintf(format, args...))
}

func OpenPostgres(host, port, user, password, dbName, sslMode string) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		host, port, user, password, dbName, sslMode,
	)
	gl := gormlogger.New(slogWriter{}, gormlogger.Config{
		SlowThreshold:             2 * time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gl})
}

func New(db *gorm.DB) (*Repo, error) {
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// ensureSchema checks each model explicitly: a missing table is
// created with CreateTable, and a table that already exists is brought
// up to date with AutoMigrate; either failure is returned with the
// model named (automation-service/internal/store/repo.go).
func ensureSchema(db *gorm.DB) error {
	m := db.Migrator()
	models := []any{
		&Home{}, &HubInventory{}, &Hub{}, &DeviceInventory{}, &Device{},
		&DeviceStateCurrent{}, &DeviceStateHistory{}, &DeviceEvent{}, &HomeEventSeq{},
		&Command{}, &ResetRequest{}, &FirmwareRelease{}, &FirmwareRollout{}, &RolloutTarget{},
		&AutomationRule{}, &AutomationDeployment{},
		&ZigbeePairingSession{}, &ZigbeeDiscoveredDevice{},
	}
	for _, model := range models {
		if !m.HasTable(model) {
			if err := m.CreateTable(model); err != nil {
				return fmt.Errorf("create table %T: %w", model, err)
			}
			continue
		}
		if err := m.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	return nil
}

func (r *Repo) DB() *gorm.DB { return r.db }

func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repo) WithContext(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }
