package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/client/models"
	"github.com/dmitrijs2005/chatvault/internal/client/session"
	"github.com/dmitrijs2005/chatvault/internal/logging"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
)

// ErrCurrentDevice is returned when asked to revoke the device in use; sign
// out instead.
var ErrCurrentDevice = errors.New("cannot revoke the current device")

// DeviceRegistry lists and revokes the devices signed in to the account.
// Revocation is a server mutation only: no key material changes locally.
type DeviceRegistry struct {
	client   client.Client
	session  *session.Session
	deviceID string
	logger   logging.Logger
	items    *collection[models.Device]
}

func NewDeviceRegistry(c client.Client, s *session.Session, deviceID string, l logging.Logger) *DeviceRegistry {
	d := &DeviceRegistry{
		client:   c,
		session:  s,
		deviceID: deviceID,
		logger:   logging.OrNop(l).With("module", "devices"),
		items:    newCollection(func(dev models.Device) string { return dev.ID }, nil),
	}
	s.OnLock(d.items.clear)
	return d
}

func (d *DeviceRegistry) CurrentID() string { return d.deviceID }

func (d *DeviceRegistry) Observe(ctx context.Context) <-chan []models.Device {
	return d.items.observe(ctx)
}

// Register labels the current device. The label is sealed under the master
// key, so the session has to be unlocked.
func (d *DeviceRegistry) Register(ctx context.Context, label string) error {
	sealed, err := sealUnderMaster(d.session, label)
	if err != nil {
		return err
	}
	if err := d.client.Mutate(ctx, rpc.DevicesRegister, rpc.DeviceRegistration{EncryptedLabel: sealed[0]}, nil); err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	d.items.update(func(dev models.Device) (models.Device, bool) {
		if dev.ID != d.deviceID {
			return dev, false
		}
		dev.Label, dev.LabelLocked = label, false
		return dev, true
	})
	return nil
}

func (d *DeviceRegistry) toDevice(ctx context.Context, in rpc.Device) models.Device {
	dev := models.Device{
		ID:         in.ID,
		Current:    in.ID == d.deviceID,
		Revoked:    in.Revoked,
		CreatedAt:  in.CreatedAt,
		LastSeenAt: in.LastSeenAt,
	}
	if in.EncryptedLabel.IsZero() {
		return dev
	}
	plain, err := openUnderMaster(d.session, in.EncryptedLabel)
	switch {
	case err == nil:
		dev.Label = plain[0]
	case errors.Is(err, session.ErrLocked):
		dev.LabelLocked = true
	default:
		d.logger.Warn(ctx, "device label does not decrypt", "device_id", in.ID, "error", err)
		dev.LabelLocked = true
	}
	return dev
}

// List fetches the devices, decrypting labels when the session is unlocked.
func (d *DeviceRegistry) List(ctx context.Context) ([]models.Device, error) {
	var list rpc.DeviceList
	if err := d.client.Query(ctx, rpc.DevicesList, rpc.Empty{}, &list); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	out := make([]models.Device, 0, len(list.Devices))
	for _, in := range list.Devices {
		out = append(out, d.toDevice(ctx, in))
	}
	if d.session.IsUnlocked() {
		d.items.replace(out)
	}
	return out, nil
}

// Revoke signs deviceID out of the account. The current device cannot be
// revoked this way.
func (d *DeviceRegistry) Revoke(ctx context.Context, deviceID string) error {
	if deviceID == d.deviceID {
		return ErrCurrentDevice
	}
	if err := d.client.Mutate(ctx, rpc.DevicesRevoke, rpc.ByID{ID: deviceID}, nil); err != nil {
		return fmt.Errorf("revoke device %s: %w", deviceID, err)
	}
	d.items.update(func(dev models.Device) (models.Device, bool) {
		if dev.ID != deviceID {
			return dev, false
		}
		dev.Revoked = true
		return dev, true
	})
	return nil
}
