package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatvault/internal/common"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
	"github.com/dmitrijs2005/chatvault/internal/dbx"
	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"github.com/dmitrijs2005/chatvault/internal/server/models"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/repomanager"
)

// DeviceService tracks the installations signed in to an account.
// Revoking a device deletes its refresh tokens; the master key is not
// rotated.
type DeviceService struct {
	repomanager repomanager.RepositoryManager
}

func NewDeviceService(m repomanager.RepositoryManager) *DeviceService {
	return &DeviceService{repomanager: m}
}

func toDevice(d *models.Device) rpc.Device {
	return rpc.Device{
		ID:             d.ID,
		EncryptedLabel: cryptox.Envelope{Ciphertext: d.Label, Nonce: d.LabelNonce},
		CreatedAt:      d.CreatedAt,
		LastSeenAt:     d.LastSeenAt,
		Revoked:        d.Revoked,
	}
}

// Register stores the encrypted label of the calling device. The device row
// itself is created at login.
func (s *DeviceService) Register(ctx context.Context, userID, deviceID string, label cryptox.Envelope) error {
	if err := checkEnvelope("device label", &label); err != nil {
		return err
	}
	err := s.repomanager.Devices(s.repomanager.Conn()).SetLabel(ctx, userID, deviceID, label.Ciphertext, label.Nonce)
	if err != nil {
		return fmt.Errorf("error labelling device %s: %w", deviceID, err)
	}
	return nil
}

func (s *DeviceService) List(ctx context.Context, userID string) ([]rpc.Device, error) {
	rows, err := s.repomanager.Devices(s.repomanager.Conn()).List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing devices: %w", err)
	}
	result := make([]rpc.Device, 0, len(rows))
	for _, d := range rows {
		result = append(result, toDevice(d))
	}
	return result, nil
}

// Revoke marks deviceID revoked and deletes its refresh tokens in one
// transaction. Its outstanding access tokens are refused by IsRevoked.
func (s *DeviceService) Revoke(ctx context.Context, userID, deviceID string) error {
	return s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Devices(tx).Revoke(ctx, userID, deviceID); err != nil {
			return fmt.Errorf("error revoking device %s: %w", deviceID, err)
		}
		if err := s.repomanager.RefreshTokens(tx).DeleteByDevice(ctx, userID, deviceID); err != nil {
			return fmt.Errorf("error deleting refresh tokens of %s: %w", deviceID, err)
		}
		return nil
	})
}

// IsRevoked reports whether deviceID has been revoked. Unknown devices are
// not revoked.
func (s *DeviceService) IsRevoked(ctx context.Context, userID, deviceID string) (bool, error) {
	d, err := s.repomanager.Devices(s.repomanager.Conn()).Get(ctx, userID, deviceID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("error loading device %s: %w", deviceID, err)
	}
	return d.Revoked, nil
}
