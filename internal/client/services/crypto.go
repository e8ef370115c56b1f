package services

import (
	"github.com/dmitrijs2005/chatvault/internal/client/session"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
)

// sealUnderMaster seals every string in plain under the master key, in order.
func sealUnderMaster(s *session.Session, plain ...string) ([]cryptox.Envelope, error) {
	out := make([]cryptox.Envelope, len(plain))
	err := s.WithMasterKey(func(mk []byte) error {
		for i, p := range plain {
			e, err := cryptox.SealString(p, mk)
			if err != nil {
				return err
			}
			out[i] = e
		}
		return nil
	})
	return out, err
}

// openUnderMaster is the inverse of sealUnderMaster.
func openUnderMaster(s *session.Session, sealed ...cryptox.Envelope) ([]string, error) {
	out := make([]string, len(sealed))
	err := s.WithMasterKey(func(mk []byte) error {
		for i, e := range sealed {
			p, err := e.OpenString(mk)
			if err != nil {
				return err
			}
			out[i] = p
		}
		return nil
	})
	return out, err
}
