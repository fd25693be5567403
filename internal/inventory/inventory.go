// Package inventory is the Identity & Inventory Registry (§4.A):
// provisions hub/device inventory rows with a hashed setup code,
// claims them into live Hub/Device rows under a rate-limited
// constant-time verify, and revokes (reconnect/factory-reset) via the
// Command Orchestrator. Claim lockout tracking is grounded on
// auth-service/internal/services/auth.go's RegisterLoginFailure/
// IsLoginLocked counter pair; setup-code hashing on its bcrypt use for
// passwords.
package inventory

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/PetoAdam/homenavi/corebroker/internal/apierr"
	"github.com/PetoAdam/homenavi/corebroker/internal/orchestrator"
	"github.com/PetoAdam/homenavi/corebroker/internal/store"
)

const (
	maxClaimFailures = 5
	lockoutWindow    = 10 * time.Minute
)

type Kind string

const (
	KindHub    Kind = "hub"
	KindDevice Kind = "device"
)

type Registry struct {
	repo *store.Repo
	rdb  *redis.Client
	orch *orchestrator.Orchestrator
}

func New(repo *store.Repo, rdb *redis.Client, orch *orchestrator.Orchestrator) *Registry {
	return &Registry{repo: repo, rdb: rdb, orch: orch}
}

// CreateHubItem implements createInventoryItem(kind=hub, attrs): the
// setup code is returned plaintext exactly once, at creation time.
func (reg *Registry) CreateHubItem(ctx context.Context, modelID, serial string) (hubID, setupCode string, err error) {
	hubID = uuid.NewString()
	setupCode, hash, err := newSetupCode()
	if err != nil {
		return "", "", apierr.InternalErr("failed to generate setup code", err)
	}
	inv := &store.HubInventory{HubID: hubID, Serial: serial, ModelID: modelID, SetupCodeHash: hash}
	if err := reg.repo.CreateHubInventory(ctx, inv); err != nil {
		return "", "", apierr.InternalErr("failed to persist hub inventory", err)
	}
	return hubID, setupCode, nil
}

// CreateDeviceItem is the MQTT-plane analog: deviceUuid is the wire
// identity the firmware will publish under.
func (reg *Registry) CreateDeviceItem(ctx context.Context, serial, typeDefault, protocol, modelID string) (deviceUUID, setupCode string, err error) {
	deviceUUID = uuid.NewString()
	setupCode, hash, err := newSetupCode()
	if err != nil {
		return "", "", apierr.InternalErr("failed to generate setup code", err)
	}
	inv := &store.DeviceInventory{
		Serial: serial, DeviceUUID: deviceUUID, TypeDefault: typeDefault,
		Protocol: protocol, ModelID: modelID, SetupCodeHash: hash,
	}
	if err := reg.repo.CreateDeviceInventory(ctx, inv); err != nil {
		return "", "", apierr.InternalErr("failed to persist device inventory", err)
	}
	return deviceUUID, setupCode, nil
}

// BulkCreateResult is one row of bulkCreate's per-item result.
type BulkCreateResult struct {
	Index      int    `json:"index"`
	Serial     string `json:"serial"`
	ID         string `json:"id,omitempty"`
	SetupCode  string `json:"setup_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

type BulkItem struct {
	Kind        Kind
	Serial      string
	ModelID     string
	TypeDefault string
	Protocol    string
}

// BulkCreate is atomic per-item: one item's failure (most commonly a
// duplicate serial) never aborts the rest.
func (reg *Registry) BulkCreate(ctx context.Context, items []BulkItem) []BulkCreateResult {
	out := make([]BulkCreateResult, len(items))
	for i, item := range items {
		out[i] = BulkCreateResult{Index: i, Serial: item.Serial}
		switch item.Kind {
		case KindHub:
			id, code, err := reg.CreateHubItem(ctx, item.ModelID, item.Serial)
			if err != nil {
				out[i].Error = err.Error()
				continue
			}
			out[i].ID, out[i].SetupCode = id, code
		case KindDevice:
			id, code, err := reg.CreateDeviceItem(ctx, item.Serial, item.TypeDefault, item.Protocol, item.ModelID)
			if err != nil {
				out[i].Error = err.Error()
				continue
			}
			out[i].ID, out[i].SetupCode = id, code
		default:
			out[i].Error = "unknown kind"
		}
	}
	return out
}

// ClaimHub implements claim(kind=hub): rate-limited constant-time
// setup-code verify, then the FACTORY_NEW->CLAIMED transactional
// update. On success it issues the Hub's MQTT credential secret,
// returned plaintext exactly once; only its bcrypt hash is persisted.
func (reg *Registry) ClaimHub(ctx context.Context, hubID, setupCode string, homeID uint64, userID string) (*store.Hub, string, error) {
	locked, ttl, err := reg.isLocked(ctx, "hub:"+hubID)
	if err != nil {
		return nil, "", apierr.InternalErr("lockout lookup failed", err)
	}
	if locked {
		return nil, "", apierr.AuthFailedErr(fmt.Sprintf("too many failed attempts, retry in %ds", ttl))
	}

	pending, err := reg.repo.HasPendingResetRequest(ctx, store.ResetSubjectHub, hubID)
	if err != nil {
		return nil, "", apierr.InternalErr("reset lookup failed", err)
	}
	if pending {
		return nil, "", apierr.PreconditionFailedErr("a reset is pending for this hub")
	}

	inv, err := reg.repo.GetHubInventory(ctx, hubID)
	if err != nil {
		return nil, "", apierr.NotFoundErr("hub inventory item not found")
	}
	if inv.Status != store.InventoryFactoryNew {
		return nil, "", apierr.ConflictErr("hub is already claimed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(inv.SetupCodeHash), []byte(setupCode)); err != nil {
		reg.registerFailure(ctx, "hub:"+hubID)
		return nil, "", apierr.AuthFailedErr("invalid setup code")
	}
	reg.clearFailures(ctx, "hub:"+hubID)

	credential, credentialHash, err := newCredential()
	if err != nil {
		return nil, "", apierr.InternalErr("failed to generate mqtt credential", err)
	}

	hub, err := reg.repo.ClaimHub(ctx, hubID, homeID, userID, credentialHash)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyClaimed) {
			return nil, "", apierr.ConflictErr("hub is already claimed")
		}
		return nil, "", apierr.InternalErr("claim failed", err)
	}
	return hub, credential, nil
}

// ClaimDevice implements claim(kind=device), the MQTT-plane analog of
// ClaimHub.
func (reg *Registry) ClaimDevice(ctx context.Context, serial, setupCode string, homeID uint64, roomID *uint64) (*store.Device, string, error) {
	locked, ttl, err := reg.isLocked(ctx, "device:"+serial)
	if err != nil {
		return nil, "", apierr.InternalErr("lockout lookup failed", err)
	}
	if locked {
		return nil, "", apierr.AuthFailedErr(fmt.Sprintf("too many failed attempts, retry in %ds", ttl))
	}

	pending, err := reg.repo.HasPendingResetRequest(ctx, store.ResetSubjectDevice, serial)
	if err != nil {
		return nil, "", apierr.InternalErr("reset lookup failed", err)
	}
	if pending {
		return nil, "", apierr.PreconditionFailedErr("a reset is pending for this device")
	}

	inv, err := reg.repo.GetDeviceInventoryBySerial(ctx, serial)
	if err != nil {
		return nil, "", apierr.NotFoundErr("device inventory item not found")
	}
	if inv.Status != store.InventoryFactoryNew {
		return nil, "", apierr.ConflictErr("device is already claimed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(inv.SetupCodeHash), []byte(setupCode)); err != nil {
		reg.registerFailure(ctx, "device:"+serial)
		return nil, "", apierr.AuthFailedErr("invalid setup code")
	}
	reg.clearFailures(ctx, "device:"+serial)

	credential, credentialHash, err := newCredential()
	if err != nil {
		return nil, "", apierr.InternalErr("failed to generate mqtt credential", err)
	}

	dev, err := reg.repo.ClaimDevice(ctx, serial, homeID, roomID, credentialHash)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyClaimed) {
			return nil, "", apierr.ConflictErr("device is already claimed")
		}
		return nil, "", apierr.InternalErr("claim failed", err)
	}
	return dev, credential, nil
}

// RevokeDevice implements revoke(deviceId, type): records a
// ResetRequest (the precondition ClaimDevice checks against a racing
// claim) and enqueues a management command; the FACTORY_RESET type's
// acked-side-effects (lifecycle flip, inventory release) are completed
// by HandleResetAck once the device confirms.
func (reg *Registry) RevokeDevice(ctx context.Context, deviceDBID uint64, resetType string) error {
	dev, err := reg.repo.GetDeviceByID(ctx, deviceDBID)
	if err != nil {
		return apierr.NotFoundErr("device not found")
	}
	action := "reconnect"
	if resetType == store.ResetFactoryReset {
		action = "factory_reset"
	}
	if dev.Serial != "" {
		if err := reg.repo.CreateResetRequest(ctx, store.ResetSubjectDevice, dev.Serial, resetType); err != nil {
			return apierr.InternalErr("failed to record reset request", err)
		}
	}
	if _, err := reg.orch.Submit(ctx, dev.ID, action, orchestrator.Input{}); err != nil {
		return err
	}
	return nil
}

// HandleResetAck resolves the ResetRequest RevokeDevice recorded and,
// when ok is true (a successful FACTORY_RESET ack; the process's ack
// dispatcher passes false for a reconnect), completes the FACTORY_RESET side effects
// (§4.A): unbind the Device and flip its inventory row back to
// FACTORY_NEW. Wired by process startup alongside the orchestrator's
// own ack handler since this is a side effect of a successful command,
// not the command state machine itself.
func (reg *Registry) HandleResetAck(ctx context.Context, deviceDBID uint64, ok bool) error {
	dev, err := reg.repo.GetDeviceByID(ctx, deviceDBID)
	if err != nil {
		return err
	}
	if dev.Serial != "" {
		if err := reg.repo.CompleteResetRequest(ctx, store.ResetSubjectDevice, dev.Serial); err != nil {
			return err
		}
	}
	if !ok {
		return nil
	}
	if err := reg.repo.UnbindDevice(ctx, deviceDBID); err != nil {
		return err
	}
	if dev.Serial != "" {
		return reg.repo.ReleaseDeviceInventory(ctx, dev.Serial)
	}
	return nil
}

func (reg *Registry) isLocked(ctx context.Context, key string) (bool, int64, error) {
	ttl, err := reg.rdb.TTL(ctx, "inventory:lockout:"+key).Result()
	if err != nil && err != redis.Nil {
		return false, 0, err
	}
	if ttl > 0 {
		return true, int64(ttl.Seconds()), nil
	}
	return false, 0, nil
}

func (reg *Registry) registerFailure(ctx context.Context, key string) {
	failKey := "inventory:fail:" + key
	count, err := reg.rdb.Incr(ctx, failKey).Result()
	if err != nil {
		return
	}
	reg.rdb.Expire(ctx, failKey, lockoutWindow)
	if int(count) >= maxClaimFailures {
		reg.rdb.Set(ctx, "inventory:lockout:"+key, "1", lockoutWindow)
	}
}

func (reg *Registry) clearFailures(ctx context.Context, key string) {
	reg.rdb.Del(ctx, "inventory:fail:"+key)
}

// newSetupCode generates a short human-typeable code (base32, no
// padding) alongside its bcrypt hash; the plaintext is returned to the
// caller exactly once and never persisted.
func newSetupCode() (plaintext, hash string, err error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	plaintext = base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)[:16]
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return plaintext, string(h), nil
}

// newCredential generates the MQTT credential secret issued on
// successful claim (§4.A): longer than a setup code since it's a
// long-lived wire-auth secret, not something a person types in.
func newCredential() (plaintext, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	plaintext = base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return plaintext, string(h), nil
}
