// Package store holds the relational data model (§3) and its gorm
// access layer. IDs are opaque integers unless otherwise noted in the
// spec; string identifiers (hubId, deviceId, cmdId, ieee, token) are
// modeled as indexed/unique string columns rather than surrogate ints,
// matching the teacher's convention of uuid.UUID primary keys for
// externally-addressed rows (automation-service/internal/store/models.go).
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Home struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	OwnerUserID string    `gorm:"not null" json:"owner_user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HubInventory status values.
const (
	InventoryFactoryNew = "FACTORY_NEW"
	InventoryClaimed    = "CLAIMED"
	InventoryRevoked    = "REVOKED"
)

type HubInventory struct {
	HubID          string     `gorm:"primaryKey" json:"hub_id"`
	Serial         string     `gorm:"index" json:"serial,omitempty"`
	ModelID        string     `json:"model_id"`
	SetupCodeHash  string     `gorm:"not null" json:"-"`
	Status         string     `gorm:"not null;index" json:"status"`
	ClaimedByUser  string     `json:"claimed_by_user_id,omitempty"`
	ClaimedHomeID  *uint64    `json:"claimed_home_id,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Hub struct {
	HubID               string     `gorm:"primaryKey" json:"hub_id"`
	HomeID              uint64     `gorm:"not null;index" json:"home_id"`
	FirmwareVersion     string     `json:"firmware_version,omitempty"`
	Online              bool       `json:"online"`
	LastSeen            *time.Time `json:"last_seen,omitempty"`
	MQTTCredentialHash  string     `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type DeviceInventory struct {
	Serial        string    `gorm:"primaryKey" json:"serial"`
	DeviceUUID    string    `gorm:"uniqueIndex;not null" json:"device_uuid"`
	TypeDefault   string    `json:"type_default"`
	Protocol      string    `gorm:"not null" json:"protocol"`
	ModelID       string    `json:"model_id"`
	SetupCodeHash string    `gorm:"not null" json:"-"`
	Status        string    `gorm:"not null;index" json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Device lifecycle status values.
const (
	LifecycleFactoryNew = "FACTORY_NEW"
	LifecycleClaiming   = "CLAIMING"
	LifecycleBound      = "BOUND"
	LifecycleActive     = "ACTIVE"
	LifecycleUnbound    = "UNBOUND"
)

const (
	ProtocolMQTT    = "MQTT"
	ProtocolZigbee  = "ZIGBEE"
)

type Device struct {
	ID                 uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceID           string     `gorm:"uniqueIndex;not null" json:"device_id"`
	HomeID             uint64     `gorm:"not null;index" json:"home_id"`
	RoomID             *uint64    `json:"room_id,omitempty"`
	Type               string     `json:"type"`
	Protocol           string     `gorm:"not null" json:"protocol"`
	HubID              *string    `gorm:"index" json:"hub_id,omitempty"`
	ZigbeeIEEE         *string    `gorm:"index" json:"zigbee_ieee,omitempty"`
	LifecycleStatus    string     `gorm:"not null;index" json:"lifecycle_status"`
	Serial             string     `json:"serial,omitempty"`
	ModelID            string     `json:"model_id,omitempty"`
	FirmwareVersion    string     `json:"firmware_version,omitempty"`
	MQTTCredentialHash string     `json:"-"`
	BoundAt            *time.Time `json:"bound_at,omitempty"`
	UnboundAt          *time.Time `json:"unbound_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ResetRequest status values.
const (
	ResetRequestPending   = "PENDING"
	ResetRequestCompleted = "COMPLETED"
)

// Reset types a revoke() call may carry (§4.A).
const (
	ResetReconnect    = "RECONNECT"
	ResetFactoryReset = "FACTORY_RESET"
)

// Subject kinds a ResetRequest can target; revoke() addresses either a
// Device or a Hub by its public string id.
const (
	ResetSubjectDevice = "DEVICE"
	ResetSubjectHub    = "HUB"
)

// ResetRequest records an in-flight revoke() so a claim racing a
// pending reset fails PRECONDITION_FAILED instead of falling through
// to the generic already-claimed CONFLICT (§4.A failure semantics).
type ResetRequest struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SubjectType string     `gorm:"not null;index:idx_reset_subject" json:"subject_type"`
	SubjectID   string     `gorm:"not null;index:idx_reset_subject" json:"subject_id"`
	ResetType   string     `gorm:"not null" json:"reset_type"`
	Status      string     `gorm:"not null;index" json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DeviceStateCurrent is the live snapshot, one row per Device, updated
// only by the Telemetry Ingestor (§4.D). No tombstones. No foreign key
// to Device is declared, so deleting a Device does not remove this row.
type DeviceStateCurrent struct {
	DeviceID    uint64         `gorm:"primaryKey" json:"device_id"`
	State       datatypes.JSON `gorm:"type:jsonb" json:"state"`
	LastSeenTS  int64          `gorm:"not null" json:"last_seen_ts"`
	Online      bool           `json:"online"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DeviceStateHistory is append-only and authoritative for forensics;
// it receives every inbound state frame regardless of whether it
// moved DeviceStateCurrent forward.
type DeviceStateHistory struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceID   uint64         `gorm:"not null;index:idx_history_device_created" json:"device_id"`
	State      datatypes.JSON `gorm:"type:jsonb" json:"state"`
	Online     bool           `json:"online"`
	LastSeenTS int64          `json:"last_seen_ts"`
	CreatedAt  time.Time      `gorm:"index:idx_history_device_created" json:"created_at"`
}

// DeviceEvent is append-only; HomeSeq is the per-home monotonic
// counter that anchors the Realtime Fan-out cursor (§4.F).
type DeviceEvent struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	HomeID    uint64         `gorm:"not null;uniqueIndex:idx_events_home_seq" json:"home_id"`
	HomeSeq   int64          `gorm:"not null;uniqueIndex:idx_events_home_seq" json:"home_seq"`
	DeviceID  uint64         `gorm:"not null;index" json:"device_id"`
	Type      string         `gorm:"not null" json:"type"`
	Data      datatypes.JSON `gorm:"type:jsonb" json:"data"`
	SourceAt  int64          `json:"source_at"`
	CreatedAt time.Time      `json:"created_at"`
}

// HomeEventSeq backs the per-home monotonic counter DeviceEvent.HomeSeq
// is drawn from; incremented under a row lock inside the same
// transaction that inserts the DeviceEvent row.
type HomeEventSeq struct {
	HomeID uint64 `gorm:"primaryKey" json:"home_id"`
	Next   int64  `gorm:"not null;default:1" json:"next"`
}

// Command status values (§4.E state machine).
const (
	CommandPending = "PENDING"
	CommandAcked   = "ACKED"
	CommandFailed  = "FAILED"
	CommandTimeout = "TIMEOUT"
)

type Command struct {
	ID       uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceID uint64         `gorm:"not null;uniqueIndex:idx_commands_device_cmd;index:idx_commands_device_status_sent" json:"device_id"`
	CmdID    string         `gorm:"not null;uniqueIndex:idx_commands_device_cmd" json:"cmd_id"`
	Action   string         `json:"action,omitempty"`
	Payload  datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	Status   string         `gorm:"not null;index:idx_commands_device_status_sent" json:"status"`
	SentAt   time.Time      `gorm:"not null;index:idx_commands_device_status_sent" json:"sent_at"`
	AckedAt  *time.Time     `json:"acked_at,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func (c *Command) BeforeCreate(tx *gorm.DB) error {
	if c.CmdID == "" {
		c.CmdID = uuid.NewString()
	}
	return nil
}

type FirmwareRelease struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TargetType string    `gorm:"not null" json:"target_type"`
	Version    string    `gorm:"not null" json:"version"`
	URL        string    `gorm:"not null" json:"url"`
	SHA256     string    `gorm:"not null" json:"sha256"`
	Size       int64     `json:"size,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// FirmwareRollout status values (§4.G).
const (
	RolloutCreated = "CREATED"
	RolloutRunning = "RUNNING"
	RolloutPaused  = "PAUSED"
	RolloutSuccess = "SUCCESS"
	RolloutFailed  = "FAILED"
)

type FirmwareRollout struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ReleaseID uint64    `gorm:"not null;index" json:"release_id"`
	Status    string    `gorm:"not null;index" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RolloutTarget state values.
const (
	TargetCreated     = "CREATED"
	TargetDownloading = "DOWNLOADING"
	TargetApplying    = "APPLYING"
	TargetRunning     = "RUNNING"
	TargetSuccess     = "SUCCESS"
	TargetFailed      = "FAILED"
)

type RolloutTarget struct {
	RolloutID uint64     `gorm:"primaryKey" json:"rollout_id"`
	HubID     string     `gorm:"primaryKey" json:"hub_id"`
	State     string     `gorm:"not null;index" json:"state"`
	Attempt   int        `gorm:"not null;default:0" json:"attempt"`
	CmdID     string     `json:"cmd_id,omitempty"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	AckedAt   *time.Time `json:"acked_at,omitempty"`
	LastMsg   string     `json:"last_msg,omitempty"`
}

const (
	TriggerEvent = "EVENT"
	TriggerState = "STATE"
)

type AutomationRule struct {
	ID               uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	HomeID           uint64         `gorm:"not null;index:idx_rules_home_updated" json:"home_id"`
	Name             string         `gorm:"not null" json:"name"`
	Enabled          bool           `gorm:"not null;default:true" json:"enabled"`
	Version          int64          `gorm:"not null;default:1" json:"version"`
	TriggerType      string         `gorm:"not null" json:"trigger_type"`
	Trigger          datatypes.JSON `gorm:"type:jsonb" json:"trigger"`
	Actions          datatypes.JSON `gorm:"type:jsonb" json:"actions"`
	ExecutionPolicy  datatypes.JSON `gorm:"type:jsonb" json:"execution_policy,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `gorm:"index:idx_rules_home_updated" json:"updated_at"`
}

// AutomationDeployment status values (§4.H).
const (
	DeploymentSyncing = "SYNCING"
	DeploymentApplied = "APPLIED"
	DeploymentFailed  = "FAILED"
)

type AutomationDeployment struct {
	HubID          string    `gorm:"primaryKey" json:"hub_id"`
	HomeID         uint64    `gorm:"primaryKey" json:"home_id"`
	DesiredVersion int64     `gorm:"not null;default:0" json:"desired_version"`
	AppliedVersion int64     `gorm:"not null;default:0" json:"applied_version"`
	Status         string    `gorm:"not null" json:"status"`
	LastMsg        string    `json:"last_msg,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Zigbee pairing modes (§4.I).
const (
	PairingLegacy     = "LEGACY"
	PairingSerialFirst = "SERIAL_FIRST"
	PairingTypeFirst   = "TYPE_FIRST"
)

type ZigbeePairingSession struct {
	Token           string    `gorm:"primaryKey" json:"token"`
	OwnerUserID     string    `gorm:"not null" json:"owner_user_id"`
	HubID           string    `gorm:"not null;index" json:"hub_id"`
	HomeID          *uint64   `json:"home_id,omitempty"`
	Mode            string    `gorm:"not null" json:"mode"`
	ClaimedSerial   string    `json:"claimed_serial,omitempty"`
	ExpectedModelID string    `json:"expected_model_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `gorm:"index" json:"expires_at"`
}

const (
	DiscoveredPending   = "PENDING"
	DiscoveredConfirmed = "CONFIRMED"
	DiscoveredRejected  = "REJECTED"
)

type ZigbeeDiscoveredDevice struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	HubID            string    `gorm:"not null;uniqueIndex:idx_discovered_hub_ieee" json:"hub_id"`
	IEEE             string    `gorm:"not null;uniqueIndex:idx_discovered_hub_ieee" json:"ieee"`
	ShortAddr        string    `json:"short_addr,omitempty"`
	Manufacturer     string    `json:"manufacturer,omitempty"`
	Model            string    `json:"model,omitempty"`
	SWBuildID        string    `json:"sw_build_id,omitempty"`
	SuggestedModelID string    `json:"suggested_model_id,omitempty"`
	PairingToken     string    `json:"pairing_token,omitempty"`
	Status           string    `gorm:"not null;default:PENDING" json:"status"`
	UpdatedAt        time.Time `json:"updated_at"`
}
