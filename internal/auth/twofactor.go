package auth

import (
	"context"
	"fmt"
)

// TwoFactorSetup is the enrollment material returned by SetupTwoFactor. The
// secret stays pending until confirmed with a valid code.
type TwoFactorSetup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"qrCodeUri"`
}

// SetupTwoFactor generates and stores a pending TOTP secret for the user.
// The flag stays off until EnableTwoFactor confirms with a live code; calling
// setup again while pending simply rotates the secret. Conflict only once
// 2FA is actually enabled.
func (s *Service) SetupTwoFactor(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, fmt.Errorf("%w: two-factor already enabled", ErrConflict)
	}
	secret, err := GenerateTOTPSecret()
	if err != nil {
		return nil, err
	}
	disabled := false
	if _, err := s.store.Users(ctx).Update(ctx, userID, UserUpdate{
		TwoFactorSecret:  &secret,
		TwoFactorEnabled: &disabled,
	}); err != nil {
		return nil, err
	}
	return &TwoFactorSetup{
		Secret:          secret,
		ProvisioningURI: ProvisioningURI(secret, user.Username),
	}, nil
}

// CheckTwoFactorCode verifies a code against the user's stored secret without
// changing any state.
func (s *Service) CheckTwoFactorCode(ctx context.Context, userID, code string) (bool, error) {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.TwoFactorSecret == "" {
		return false, fmt.Errorf("%w: two-factor not set up", ErrInvalidInput)
	}
	return VerifyTOTPCode(user.TwoFactorSecret, code, s.now()), nil
}

// EnableTwoFactor confirms a pending secret with a live code and turns the
// flag on. From this point Login demands the second step.
func (s *Service) EnableTwoFactor(ctx context.Context, userID, code string) error {
	ok, err := s.CheckTwoFactorCode(ctx, userID, code)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: invalid two-factor code", ErrInvalidInput)
	}
	enabled := true
	_, err = s.store.Users(ctx).Update(ctx, userID, UserUpdate{TwoFactorEnabled: &enabled})
	return err
}

// DisableTwoFactor turns 2FA off after re-verifying a live code, and discards
// the secret so a later re-enable starts a fresh enrollment.
func (s *Service) DisableTwoFactor(ctx context.Context, userID, code string) error {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorSecret == "" {
		return fmt.Errorf("%w: two-factor not set up", ErrInvalidInput)
	}
	if !VerifyTOTPCode(user.TwoFactorSecret, code, s.now()) {
		return fmt.Errorf("%w: invalid two-factor code", ErrInvalidInput)
	}
	disabled := false
	empty := ""
	_, err = s.store.Users(ctx).Update(ctx, userID, UserUpdate{
		TwoFactorEnabled: &disabled,
		TwoFactorSecret:  &empty,
	})
	return err
}
