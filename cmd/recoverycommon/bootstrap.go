package recoverycommon

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/share-recovery/api/backuphandler"
	"github.com/ruteri/share-recovery/backup"
	"github.com/ruteri/share-recovery/cmd/flags"
	"github.com/ruteri/share-recovery/cryptoutils"
	"github.com/ruteri/share-recovery/identity"
	"github.com/ruteri/share-recovery/interfaces"
	"github.com/ruteri/share-recovery/kms"
	"github.com/ruteri/share-recovery/recovery"
	"github.com/ruteri/share-recovery/storage"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const deviceSaltLen = 16

// NewBackupClient builds a backup client over the configured document store.
// The encryption password is mandatory.
func NewBackupClient(cCtx *cli.Context, logger *slog.Logger) (*backup.Client, error) {
	password := cCtx.String(flags.EncryptionPasswordFlag.Name)
	if password == "" {
		return nil, fmt.Errorf("%w: encryption password is not set (--%s or MNEMONIC_ENCRYPTION_PASSWORD)", interfaces.ErrConfiguration, flags.EncryptionPasswordFlag.Name)
	}
	cipher, err := cryptoutils.NewPasswordCipher(password)
	if err != nil {
		return nil, err
	}

	loc, err := interfaces.NewStoreLocation(cCtx.String(flags.BackupStoreFlag.Name))
	if err != nil {
		return nil, err
	}
	store, err := storage.NewStoreFactory(logger).DocumentStoreFor(loc)
	if err != nil {
		return nil, fmt.Errorf("could not create backup store: %w", err)
	}

	return backup.NewClient(store, cipher, logger)
}

// NewBackupService returns a remote backup client when --backup-url is set
// and a local one otherwise.
func NewBackupService(cCtx *cli.Context, logger *slog.Logger) (recovery.BackupService, error) {
	if url := cCtx.String(flags.BackupURLFlag.Name); url != "" {
		logger.Info("Using remote backup server", slog.String("url", url))
		return backuphandler.NewClient(url), nil
	}
	client, err := NewBackupClient(cCtx, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func NewKeyringService(cCtx *cli.Context, logger *slog.Logger) (*kms.KeyringService, error) {
	uris := cCtx.StringSlice(flags.MetadataStoreFlag.Name)
	locations := make([]interfaces.StoreLocation, 0, len(uris))
	for _, uri := range uris {
		loc, err := interfaces.NewStoreLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}

	store, err := storage.NewStoreFactory(logger).CreateMultiMetadataStore(locations)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrConfiguration, err)
	}
	return kms.NewKeyringService(store, logger), nil
}

// OpenDeviceStore opens the local device share database. With a passphrase
// the database is encrypted at rest; the key salt lives next to it.
func OpenDeviceStore(cCtx *cli.Context, logger *slog.Logger) (*storage.BadgerDeviceStore, error) {
	dbPath := cCtx.String(flags.DeviceDBFlag.Name)
	if err := os.MkdirAll(dbPath, 0o700); err != nil {
		return nil, fmt.Errorf("could not create device db directory: %w", err)
	}

	config := storage.BadgerConfig{DBPath: dbPath}
	if passphrase := cCtx.String(flags.DevicePassphraseFlag.Name); passphrase != "" {
		salt, err := loadOrCreateSalt(dbPath + ".salt")
		if err != nil {
			return nil, err
		}
		config.EncryptionKey = cryptoutils.DeriveDeviceKey(passphrase, salt)
	} else {
		logger.Warn("Device share database is not encrypted, set --device-passphrase")
	}

	return storage.NewBadgerDeviceStore(config, logger)
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != deviceSaltLen {
			return nil, fmt.Errorf("%w: device salt file %s is corrupt", interfaces.ErrConfiguration, path)
		}
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("could not read device salt: %w", err)
	}

	salt = make([]byte, deviceSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("could not write device salt: %w", err)
	}
	return salt, nil
}

// NewAuthenticators picks the identity login from the flags: a refresh token,
// a fixed access token, or an interactive prompt, in that order. The backup
// authenticator is nil unless a separate backup token is given.
func NewAuthenticators(cCtx *cli.Context) (identityAuth, backupAuth interfaces.Authenticator) {
	userID := cCtx.String(flags.UserIDFlag.Name)

	switch {
	case cCtx.String(flags.OAuthRefreshTokenFlag.Name) != "":
		cfg := &oauth2.Config{
			ClientID:     cCtx.String(flags.OAuthClientIDFlag.Name),
			ClientSecret: cCtx.String(flags.OAuthClientSecretFlag.Name),
			Endpoint:     google.Endpoint,
		}
		identityAuth = &identity.OAuth2Authenticator{
			UserID: userID,
			Source: cfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cCtx.String(flags.OAuthRefreshTokenFlag.Name)}),
		}
	case cCtx.String(flags.AccessTokenFlag.Name) != "":
		identityAuth = &identity.StaticAuthenticator{Cred: interfaces.Credentials{
			UserID:      userID,
			AccessToken: cCtx.String(flags.AccessTokenFlag.Name),
		}}
	default:
		identityAuth = identity.NewPromptAuthenticator(os.Stdin, os.Stderr, userID)
	}

	if token := cCtx.String(flags.BackupAccessTokenFlag.Name); token != "" {
		backupAuth = &identity.StaticAuthenticator{Cred: interfaces.Credentials{UserID: userID, AccessToken: token}}
	}
	return identityAuth, backupAuth
}

// SetupFlow wires the recovery flow from the flags. The returned close
// function releases the device database.
func SetupFlow(cCtx *cli.Context, logger *slog.Logger) (*recovery.Flow, func(), error) {
	keys, err := NewKeyringService(cCtx, logger)
	if err != nil {
		return nil, nil, err
	}

	backupService, err := NewBackupService(cCtx, logger)
	if err != nil {
		// Recovery can still proceed from the device and manual shares
		logger.Warn("Backup is not available", "err", err)
	}

	devices, err := OpenDeviceStore(cCtx, logger)
	if err != nil {
		return nil, nil, err
	}

	identityAuth, backupAuth := NewAuthenticators(cCtx)
	cfg := recovery.FlowConfig{
		Identity:   identityAuth,
		BackupAuth: backupAuth,
		Keys:       recovery.NewKeyringProvider(keys),
		Devices:    devices,
		Log:        logger,
	}
	if backupService != nil {
		cfg.Backup = backupService
	}

	flow, err := recovery.NewFlow(cfg)
	if err != nil {
		devices.Close()
		return nil, nil, err
	}

	return flow, func() {
		if err := devices.Close(); err != nil {
			logger.Error("Failed to close device store", "err", err)
		}
	}, nil
}
