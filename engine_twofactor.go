package auth

import "context"

// TwoFactorStatus reports the caller's enrollment state.
type TwoFactorStatus struct {
	Enabled              bool `json:"enabled"`
	BackupCodesRemaining int  `json:"backupCodesRemaining"`
}

// TwoFactorSetup starts enrollment: a fresh secret is generated and parked
// server-side until TwoFactorEnable confirms the authenticator produces the
// right codes. Calling it again replaces the pending secret.
func (e *Engine) TwoFactorSetup(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	if err := e.enforceLimit(ctx, "2fa:manage:"+userID, e.config.RateLimit.TwoFactorManage); err != nil {
		return nil, err
	}

	cred, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cred.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.enroll.Put(ctx, userID, secret, e.config.TOTP.EnrollmentTTL); err != nil {
		return nil, err
	}

	return &TwoFactorSetup{
		SecretBase32:    secretBase32,
		ProvisioningURI: e.totp.ProvisionURI(secretBase32, cred.Email),
	}, nil
}

// TwoFactorEnable confirms a pending enrollment with a code from the new
// authenticator. On success the secret becomes active and a set of
// single-use backup codes is returned; the plaintext codes exist only in
// this return value.
func (e *Engine) TwoFactorEnable(ctx context.Context, userID, code string) ([]string, error) {
	if err := e.enforceLimit(ctx, "2fa:verify:"+userID, e.config.RateLimit.TwoFactorVerify); err != nil {
		return nil, err
	}

	secret, err := e.enroll.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if secret == nil {
		return nil, ErrEnrollmentNotFound
	}
	valid, err := e.totp.VerifyCode(secret, code, e.now())
	if err != nil || !valid {
		return nil, ErrTwoFactorCodeInvalid
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	cred, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cred.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	plain, records, err := e.generateBackupCodes(userID)
	if err != nil {
		return nil, err
	}
	cred.TwoFactorEnabled = true
	cred.TwoFactorSecret = secret
	cred.TwoFactorBackupCodes = records
	if err := e.store.Save(ctx, cred); err != nil {
		return nil, err
	}
	_ = e.enroll.Delete(ctx, userID)

	e.metrics.inc(MetricTwoFactorEnrollments)
	e.audit.emit(AuditEvent{Type: AuditTwoFactorEnabled, UserID: userID, IP: ClientIP(ctx), At: e.now()})
	return plain, nil
}

// TwoFactorDisable turns enrollment off. The password is required so a
// hijacked session cannot silently strip the second factor. Secret and
// backup codes go in the same save.
func (e *Engine) TwoFactorDisable(ctx context.Context, userID, currentPassword string) error {
	if err := e.enforceLimit(ctx, "2fa:manage:"+userID, e.config.RateLimit.TwoFactorManage); err != nil {
		return err
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	cred, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !cred.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	ok, err := e.hasher.Verify(currentPassword, cred.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}

	cred.TwoFactorEnabled = false
	cred.TwoFactorSecret = nil
	cred.TwoFactorBackupCodes = nil
	if err := e.store.Save(ctx, cred); err != nil {
		return err
	}

	e.metrics.inc(MetricTwoFactorDisables)
	e.audit.emit(AuditEvent{Type: AuditTwoFactorDisabled, UserID: userID, IP: ClientIP(ctx), At: e.now()})
	return nil
}

// TwoFactorState reports whether the account is enrolled and how many
// backup codes remain unspent.
func (e *Engine) TwoFactorState(ctx context.Context, userID string) (*TwoFactorStatus, error) {
	cred, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &TwoFactorStatus{
		Enabled:              cred.TwoFactorEnabled,
		BackupCodesRemaining: len(cred.TwoFactorBackupCodes),
	}, nil
}

// RegenerateBackupCodes replaces the backup code set. A current TOTP code
// is required; spent and unspent old codes all stop working.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if err := e.enforceLimit(ctx, "2fa:manage:"+userID, e.config.RateLimit.TwoFactorManage); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	cred, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cred.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	valid, err := e.totp.VerifyCode(cred.TwoFactorSecret, code, e.now())
	if err != nil || !valid {
		return nil, ErrTwoFactorCodeInvalid
	}

	plain, records, err := e.generateBackupCodes(userID)
	if err != nil {
		return nil, err
	}
	cred.TwoFactorBackupCodes = records
	if err := e.store.Save(ctx, cred); err != nil {
		return nil, err
	}

	e.audit.emit(AuditEvent{Type: AuditBackupCodesRotated, UserID: userID, IP: ClientIP(ctx), At: e.now()})
	return plain, nil
}
