package session

import (
	"context"

	"github.com/Hussein-Mazeh/VaultCore/auth"
	"github.com/Hussein-Mazeh/VaultCore/internal/audit"
)

// EnableBiometrics sets up biometric unlock for the vault: after
// re-authentication and a biometric prompt, the master password is escrowed
// under a random wrapping key held in the OS credential store. Requires an
// unlocked vault so the config mirror can be written.
func (s *Session) EnableBiometrics(password string) error {
	eng, err := s.Engine()
	if err != nil {
		return err
	}
	if err := s.reauthenticate(password); err != nil {
		return err
	}
	if err := s.escrow.Enable(auth.NormalizePassword(password), eng); err != nil {
		return err
	}
	s.trail.Record(audit.OpBioEnabled, audit.ResultSuccess, "")
	return nil
}

// DisableBiometrics removes the escrow. Best effort and valid while locked:
// the sidecar and the OS credential entry are deleted either way, and the
// config mirror goes too when the vault happens to be open.
func (s *Session) DisableBiometrics() error {
	eng, _ := s.Engine()
	if err := s.escrow.Disable(eng); err != nil {
		return err
	}
	s.trail.Record(audit.OpBioDisabled, audit.ResultSuccess, "")
	return nil
}

// IsBiometricsEnabled reports whether an escrow exists for this vault.
func (s *Session) IsBiometricsEnabled() bool {
	return s.escrow.Enabled()
}

// UnlockWithBiometrics recovers the master password through the biometric
// prompt and feeds it through the normal unlock flow, throttle and second
// factor included. Biometric unlock layers on top of the password path,
// never beside it.
func (s *Session) UnlockWithBiometrics(ctx context.Context) (totpRequired bool, err error) {
	password, err := s.escrow.MasterPassword("Unlock the vault")
	if err != nil {
		s.trail.Record(audit.OpBioUnlock, audit.ResultFailure, err.Error())
		return false, err
	}
	totpRequired, err = s.Unlock(ctx, password)
	if err != nil {
		s.trail.Record(audit.OpBioUnlock, audit.ResultFailure, err.Error())
		return false, err
	}
	s.trail.Record(audit.OpBioUnlock, audit.ResultSuccess, "")
	return totpRequired, nil
}
