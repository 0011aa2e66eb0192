package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/share-recovery/backup"
	"github.com/ruteri/share-recovery/cryptoutils"
	"github.com/ruteri/share-recovery/interfaces"
	"github.com/ruteri/share-recovery/kms"
)

// BackupService stores one encrypted share per account. Implemented by
// backup.Client and by the HTTP client in api/backuphandler.
type BackupService interface {
	Save(ctx context.Context, sess *interfaces.Session, plaintext string, knownID string) (backup.SaveResult, error)
	Fetch(ctx context.Context, sess *interfaces.Session, knownID string) (backup.FetchResult, error)
	Delete(ctx context.Context, sess *interfaces.Session, knownID string) (backup.DeleteResult, error)
}

// KeyProvider gives access to the threshold key of a user.
type KeyProvider interface {
	Create(ctx context.Context, userID string, threshold, shares int) (interfaces.ThresholdKey, []interfaces.Share, error)
	Open(ctx context.Context, userID string) (interfaces.ThresholdKey, error)
	Reset(ctx context.Context, userID string) error
}

type keyringProvider struct {
	svc *kms.KeyringService
}

// NewKeyringProvider exposes a kms.KeyringService as a KeyProvider.
func NewKeyringProvider(svc *kms.KeyringService) KeyProvider {
	return &keyringProvider{svc: svc}
}

func (p *keyringProvider) Create(ctx context.Context, userID string, threshold, shares int) (interfaces.ThresholdKey, []interfaces.Share, error) {
	keyring, issued, err := p.svc.Create(ctx, userID, threshold, shares)
	if err != nil {
		return nil, nil, err
	}
	return keyring, issued, nil
}

func (p *keyringProvider) Open(ctx context.Context, userID string) (interfaces.ThresholdKey, error) {
	keyring, err := p.svc.Open(ctx, userID)
	if err != nil {
		return nil, err
	}
	return keyring, nil
}

func (p *keyringProvider) Reset(ctx context.Context, userID string) error {
	return p.svc.Reset(ctx, userID)
}

// Channel is a source a share can be pulled from.
type Channel string

const (
	ChannelDevice Channel = "device"
	ChannelManual Channel = "manual"
	ChannelBackup Channel = "backup"
)

// StepReport is the outcome of pulling a share from one channel.
type StepReport struct {
	Channel Channel                   `json:"channel"`
	State   interfaces.ThresholdState `json:"state"`
	Err     error                     `json:"-"`
	Error   string                    `json:"error,omitempty"`
}

// RecoveryReport lists every channel tried by Recover, in order, and the
// coordinator status after the last one.
type RecoveryReport struct {
	Steps  []StepReport `json:"steps"`
	Status Status       `json:"status"`
}

// Ready reports whether the key was reconstructed.
func (r *RecoveryReport) Ready() bool {
	return r.Status.State == StateReady
}

// EnrollResult holds the shares of a newly created key that were not placed
// on the device or in the backup. They must be handed to the user.
type EnrollResult struct {
	DeviceShareIndex int
	BackupID         string
	ManualMnemonics  []string
}

// Session is the state of one user's recovery attempt. It is created by
// Login or Enroll and passed to every Flow call.
type Session struct {
	mu              sync.Mutex
	cred            interfaces.Credentials
	coordinator     *Coordinator
	backupSession   *interfaces.Session
	backupID        string
	deviceShareUsed bool
	manualShare     *interfaces.Share
	closed          bool
}

// UserID is the identity the session logged in as.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred.UserID
}

// Coordinator returns the reconstruction state machine of this session.
func (s *Session) Coordinator() *Coordinator {
	return s.coordinator
}

// BackupID returns the remembered backup artifact id, if any.
func (s *Session) BackupID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backupID
}

// FlowConfig wires a Flow. Identity and Keys are required. Without Backup
// or Devices the corresponding channels are skipped.
type FlowConfig struct {
	Identity interfaces.Authenticator
	// BackupAuth is used lazily on the first backup call. When nil, the
	// identity credentials are used for the backup store as well.
	BackupAuth interfaces.Authenticator
	Keys       KeyProvider
	Backup     BackupService
	Devices    interfaces.DeviceShareStore
	Log        *slog.Logger
}

// Flow decides which channel to pull the next share from and feeds it to
// the session's coordinator.
type Flow struct {
	identity   interfaces.Authenticator
	backupAuth interfaces.Authenticator
	keys       KeyProvider
	backup     BackupService
	devices    interfaces.DeviceShareStore
	log        *slog.Logger
}

// NewFlow validates cfg and returns a Flow. A missing logger falls back to
// slog.Default.
func NewFlow(cfg FlowConfig) (*Flow, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("%w: identity authenticator is required", interfaces.ErrConfiguration)
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("%w: key provider is required", interfaces.ErrConfiguration)
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Flow{
		identity:   cfg.Identity,
		backupAuth: cfg.BackupAuth,
		keys:       cfg.Keys,
		backup:     cfg.Backup,
		devices:    cfg.Devices,
		log:        log,
	}, nil
}

func (f *Flow) login(ctx context.Context) (interfaces.Credentials, error) {
	cred, err := f.identity.Login(ctx)
	if err != nil {
		if errors.Is(err, interfaces.ErrLoginDeclined) {
			f.log.Info("Login declined")
			return interfaces.Credentials{}, err
		}
		return interfaces.Credentials{}, interfaces.Typed(err)
	}
	if cred.UserID == "" {
		return interfaces.Credentials{}, fmt.Errorf("%w: identity provider returned no user id", interfaces.ErrAuthentication)
	}
	return cred, nil
}

func (f *Flow) newSession(ctx context.Context, cred interfaces.Credentials, key interfaces.ThresholdKey) (*Session, error) {
	log := f.log.With(slog.String("user", interfaces.AccountKey(cred.UserID)))
	coordinator := NewCoordinator(key, log)
	sess := &Session{cred: cred, coordinator: coordinator}
	if f.backupAuth == nil && cred.AccessToken != "" {
		sess.backupSession = interfaces.NewSession(cred)
	}
	if _, err := coordinator.Start(ctx); err != nil {
		return sess, err
	}
	return sess, nil
}

// Login authenticates the user, opens their key and starts the
// coordinator. A declined login returns ErrLoginDeclined; a user without a
// key gets ErrNotFound and should Enroll.
func (f *Flow) Login(ctx context.Context) (*Session, error) {
	cred, err := f.login(ctx)
	if err != nil {
		return nil, err
	}

	key, err := f.keys.Open(ctx, cred.UserID)
	if err != nil {
		return nil, interfaces.Typed(err)
	}

	sess, err := f.newSession(ctx, cred, key)
	if err != nil && sess.coordinator.State() == StateStart {
		return nil, err
	}
	return sess, err
}

// Enroll creates a new key for the user. The first share is cached on the
// device and the second saved to the backup store when those are
// configured; all remaining shares are returned as mnemonics.
func (f *Flow) Enroll(ctx context.Context, threshold, shares int) (*Session, *EnrollResult, error) {
	cred, err := f.login(ctx)
	if err != nil {
		return nil, nil, err
	}

	key, issued, err := f.keys.Create(ctx, cred.UserID, threshold, shares)
	if err != nil {
		return nil, nil, interfaces.Typed(err)
	}

	sess, err := f.newSession(ctx, cred, key)
	if err != nil {
		return nil, nil, err
	}

	result := &EnrollResult{}
	remaining := issued

	if f.devices != nil && len(remaining) > 0 {
		if err := f.devices.Put(ctx, cred.UserID, remaining[0]); err != nil {
			return sess, nil, interfaces.Typed(err)
		}
		result.DeviceShareIndex = remaining[0].Index
		remaining = remaining[1:]
	}

	if f.backup != nil && len(remaining) > 0 {
		mnemonic, err := cryptoutils.ShareToMnemonic(remaining[0])
		if err != nil {
			return sess, nil, err
		}
		saved, err := f.saveBackup(ctx, sess, mnemonic)
		if err != nil {
			return sess, nil, err
		}
		result.BackupID = saved.ID
		remaining = remaining[1:]
	}

	for _, share := range remaining {
		mnemonic, err := cryptoutils.ShareToMnemonic(share)
		if err != nil {
			return sess, nil, err
		}
		result.ManualMnemonics = append(result.ManualMnemonics, mnemonic)
	}

	f.log.Info("Enrolled new key",
		slog.Int("threshold", threshold),
		slog.Int("shares", shares),
		slog.String("backupID", result.BackupID))
	return sess, result, nil
}

// acquire locks sess for the duration of a flow call. The caller unlocks.
func acquire(sess *Session) error {
	if sess == nil {
		return fmt.Errorf("%w: not logged in", interfaces.ErrInvalidState)
	}
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return fmt.Errorf("%w: not logged in", interfaces.ErrInvalidState)
	}
	return nil
}

// UseDeviceShare submits the share cached on this device. It is submitted
// at most once per session.
func (f *Flow) UseDeviceShare(ctx context.Context, sess *Session) (interfaces.ThresholdState, error) {
	if err := acquire(sess); err != nil {
		return interfaces.ThresholdState{}, err
	}
	defer sess.mu.Unlock()
	return f.useDeviceShare(ctx, sess)
}

func (f *Flow) useDeviceShare(ctx context.Context, sess *Session) (interfaces.ThresholdState, error) {
	if f.devices == nil {
		return sess.coordinator.Status().Threshold, fmt.Errorf("%w: no device share store", interfaces.ErrConfiguration)
	}
	if sess.deviceShareUsed {
		return sess.coordinator.Status().Threshold, fmt.Errorf("%w: device share already used", interfaces.ErrInvalidState)
	}

	share, err := f.devices.Get(ctx, sess.cred.UserID)
	if err != nil {
		return sess.coordinator.Status().Threshold, interfaces.Typed(err)
	}
	sess.deviceShareUsed = true
	return sess.coordinator.SubmitShare(ctx, share)
}

// SetManualShare parses a share typed by the user, either a mnemonic or the
// index:hex form. It is submitted by SubmitManualShare or Recover.
func (f *Flow) SetManualShare(sess *Session, text string) error {
	share, err := cryptoutils.ParseShare(text)
	if err != nil {
		return err
	}
	if err := acquire(sess); err != nil {
		return err
	}
	defer sess.mu.Unlock()
	sess.manualShare = &share
	return nil
}

// SubmitManualShare feeds the share stored by SetManualShare to the
// coordinator.
func (f *Flow) SubmitManualShare(ctx context.Context, sess *Session) (interfaces.ThresholdState, error) {
	if err := acquire(sess); err != nil {
		return interfaces.ThresholdState{}, err
	}
	defer sess.mu.Unlock()
	return f.submitManualShare(ctx, sess)
}

func (f *Flow) submitManualShare(ctx context.Context, sess *Session) (interfaces.ThresholdState, error) {
	if sess.manualShare == nil {
		return sess.coordinator.Status().Threshold, fmt.Errorf("%w: no manual share provided", interfaces.ErrInvalidState)
	}
	share := *sess.manualShare
	sess.manualShare = nil
	return sess.coordinator.SubmitShare(ctx, share)
}

// backupSession authenticates against the backup store on first use.
func (f *Flow) backupSession(ctx context.Context, sess *Session) (*interfaces.Session, error) {
	if f.backup == nil {
		return nil, fmt.Errorf("%w: no backup store configured", interfaces.ErrConfiguration)
	}
	if sess.backupSession.Authenticated() {
		return sess.backupSession, nil
	}

	auth := f.backupAuth
	if auth == nil {
		auth = f.identity
	}
	cred, err := auth.Login(ctx)
	if err != nil {
		if errors.Is(err, interfaces.ErrLoginDeclined) {
			return nil, err
		}
		return nil, interfaces.Typed(err)
	}
	// The backup account is always the logged in user's.
	cred.UserID = sess.cred.UserID
	sess.backupSession = interfaces.NewSession(cred)
	if !sess.backupSession.Authenticated() {
		return nil, fmt.Errorf("%w: backup login returned no token", interfaces.ErrAuthentication)
	}
	return sess.backupSession, nil
}

func (f *Flow) saveBackup(ctx context.Context, sess *Session, mnemonic string) (backup.SaveResult, error) {
	bs, err := f.backupSession(ctx, sess)
	if err != nil {
		return backup.SaveResult{}, err
	}
	saved, err := f.backup.Save(ctx, bs, mnemonic, sess.backupID)
	if err != nil {
		return backup.SaveResult{}, err
	}
	sess.backupID = saved.ID
	return saved, nil
}

// RestoreFromBackup fetches the backed up share and submits it.
func (f *Flow) RestoreFromBackup(ctx context.Context, sess *Session) (interfaces.ThresholdState, error) {
	if err := acquire(sess); err != nil {
		return interfaces.ThresholdState{}, err
	}
	defer sess.mu.Unlock()
	return f.restoreFromBackup(ctx, sess)
}

func (f *Flow) restoreFromBackup(ctx context.Context, sess *Session) (interfaces.ThresholdState, error) {
	current := sess.coordinator.Status().Threshold
	if sess.coordinator.State() != StateAwaitingShares {
		return current, fmt.Errorf("%w: cannot accept shares in state %s", interfaces.ErrInvalidState, sess.coordinator.State())
	}

	bs, err := f.backupSession(ctx, sess)
	if err != nil {
		return current, err
	}

	fetched, err := f.backup.Fetch(ctx, bs, sess.backupID)
	if err != nil {
		return current, err
	}
	sess.backupID = fetched.ID

	share, err := cryptoutils.ParseShare(fetched.Plaintext)
	if err != nil {
		return current, err
	}
	return sess.coordinator.SubmitShare(ctx, share)
}

// Recover pulls shares from the device, then the manual share if useManual
// is set, then the backup, stopping as soon as the key is reconstructed.
// Channel failures are recorded in the report and do not stop the flow.
func (f *Flow) Recover(ctx context.Context, sess *Session, useManual bool) (*RecoveryReport, error) {
	if err := acquire(sess); err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()

	report := &RecoveryReport{}
	step := func(ch Channel, fn func(context.Context, *Session) (interfaces.ThresholdState, error)) {
		if sess.coordinator.State() != StateAwaitingShares {
			return
		}
		st, err := fn(ctx, sess)
		r := StepReport{Channel: ch, State: st, Err: err}
		if err != nil {
			r.Error = err.Error()
			f.log.Warn("Recovery step failed", slog.String("channel", string(ch)), slog.String("kind", interfaces.ErrorKind(err)), "err", err)
		}
		report.Steps = append(report.Steps, r)
	}

	if f.devices != nil && !sess.deviceShareUsed {
		step(ChannelDevice, f.useDeviceShare)
	}
	if useManual && sess.manualShare != nil {
		step(ChannelManual, f.submitManualShare)
	}
	if f.backup != nil {
		step(ChannelBackup, f.restoreFromBackup)
	}

	report.Status = sess.coordinator.Status()
	return report, nil
}

// BackupNewShare issues a new share of the reconstructed key and saves it
// to the backup store, replacing the previous backup.
func (f *Flow) BackupNewShare(ctx context.Context, sess *Session) (backup.SaveResult, error) {
	if err := acquire(sess); err != nil {
		return backup.SaveResult{}, err
	}
	defer sess.mu.Unlock()

	if f.backup == nil {
		return backup.SaveResult{}, fmt.Errorf("%w: no backup store configured", interfaces.ErrConfiguration)
	}

	share, err := sess.coordinator.GenerateShare(ctx)
	if err != nil {
		return backup.SaveResult{}, err
	}
	mnemonic, err := cryptoutils.ShareToMnemonic(share)
	if err != nil {
		return backup.SaveResult{}, err
	}

	saved, err := f.saveBackup(ctx, sess, mnemonic)
	if err != nil {
		return backup.SaveResult{}, err
	}
	f.log.Info("Backed up new share", slog.Int("index", share.Index), slog.String("id", saved.ID), slog.Bool("created", saved.Created))
	return saved, nil
}

// CaptureDeviceShare issues a new share of the reconstructed key and caches
// it on this device.
func (f *Flow) CaptureDeviceShare(ctx context.Context, sess *Session) (interfaces.Share, error) {
	if err := acquire(sess); err != nil {
		return interfaces.Share{}, err
	}
	defer sess.mu.Unlock()

	if f.devices == nil {
		return interfaces.Share{}, fmt.Errorf("%w: no device share store", interfaces.ErrConfiguration)
	}

	share, err := sess.coordinator.GenerateShare(ctx)
	if err != nil {
		return interfaces.Share{}, err
	}
	if err := f.devices.Put(ctx, sess.cred.UserID, share); err != nil {
		return interfaces.Share{}, interfaces.Typed(err)
	}
	f.log.Info("Cached new device share", slog.Int("index", share.Index))
	return share, nil
}

// Logout discards the session, the collected shares and any reconstructed
// key.
func (f *Flow) Logout(sess *Session) {
	if sess == nil {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	f.logout(sess)
}

func (f *Flow) logout(sess *Session) {
	if sess.coordinator != nil {
		sess.coordinator.Reset()
	}
	sess.backupSession.Invalidate()
	sess.backupSession = nil
	sess.backupID = ""
	sess.deviceShareUsed = false
	sess.manualShare = nil
	sess.cred = interfaces.Credentials{}
	sess.closed = true
}

// CriticalReset irreversibly deletes the user's key metadata, then makes a
// best-effort attempt to delete the backup and the device share before
// logging out. Only the key reset can fail the operation.
func (f *Flow) CriticalReset(ctx context.Context, sess *Session) error {
	if err := acquire(sess); err != nil {
		return err
	}
	defer sess.mu.Unlock()

	userID := sess.cred.UserID
	if err := f.keys.Reset(ctx, userID); err != nil {
		return interfaces.Typed(err)
	}

	if f.backup != nil {
		if bs, err := f.backupSession(ctx, sess); err != nil {
			f.log.Warn("Skipping backup cleanup", "err", err)
		} else if res, err := f.backup.Delete(ctx, bs, sess.backupID); err != nil {
			f.log.Warn("Failed to delete backup", "err", err)
		} else {
			f.log.Info("Backup cleanup", slog.Bool("deleted", res.Deleted))
		}
	}

	if f.devices != nil {
		if err := f.devices.Delete(ctx, userID); err != nil && !errors.Is(err, interfaces.ErrNotFound) {
			f.log.Warn("Failed to delete device share", "err", err)
		}
	}

	f.logout(sess)
	f.log.Warn("Account reset")
	return nil
}

// SessionStatus is what the status command prints for a session.
type SessionStatus struct {
	UserID              string `json:"user_id"`
	Coordinator         Status `json:"coordinator"`
	BackupID            string `json:"backup_id,omitempty"`
	BackupAuthenticated bool   `json:"backup_authenticated"`
	DeviceShareUsed     bool   `json:"device_share_used"`
	ManualSharePending  bool   `json:"manual_share_pending"`
}

// Status snapshots the session. It fails with ErrInvalidState once the
// session is closed.
func (f *Flow) Status(sess *Session) (SessionStatus, error) {
	if err := acquire(sess); err != nil {
		return SessionStatus{}, err
	}
	defer sess.mu.Unlock()

	return SessionStatus{
		UserID:              sess.cred.UserID,
		Coordinator:         sess.coordinator.Status(),
		BackupID:            sess.backupID,
		BackupAuthenticated: sess.backupSession.Authenticated(),
		DeviceShareUsed:     sess.deviceShareUsed,
		ManualSharePending:  sess.manualShare != nil,
	}, nil
}
