package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/share-recovery/api"
	"github.com/ruteri/share-recovery/common"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.ServerConfig {
	return api.ServerConfig{
		ListenAddr:    listenAddr,
		MetricsAddr:   cCtx.String(MetricsAddrFlag.Name),
		EnablePprof:   cCtx.Bool(PprofFlag.Name),
		Log:           logger,
		DrainDuration: time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
	}.WithDefaults()
}

var RpcAddrFlag = &cli.StringFlag{
	Name:    "rpc-addr",
	Value:   "http://127.0.0.1:8545",
	Usage:   "address to connect to RPC",
	EnvVars: []string{"RPC_ADDR"},
}

var EncryptionPasswordFlag = &cli.StringFlag{
	Name:    "encryption-password",
	Usage:   "password used to encrypt backed up share mnemonics",
	EnvVars: []string{"MNEMONIC_ENCRYPTION_PASSWORD"},
}

var BackupStoreFlag = &cli.StringFlag{
	Name:  "backup-store",
	Value: "gdrive://",
	Usage: "document store URI for encrypted backups (gdrive://, s3://, vault://, file://, mem://)",
}

var BackupURLFlag = &cli.StringFlag{
	Name:  "backup-url",
	Usage: "base URL of a backup server. When set, the password stays on the server and --backup-store is ignored",
}

var MetadataStoreFlag = &cli.StringSliceFlag{
	Name:  "metadata-store",
	Value: cli.NewStringSlice("file://./data/keys"),
	Usage: "metadata store URI for threshold key metadata (file://, consul://); repeat to replicate",
}

var DeviceDBFlag = &cli.StringFlag{
	Name:  "device-db",
	Value: "./data/device",
	Usage: "path of the local device share database",
}

var DevicePassphraseFlag = &cli.StringFlag{
	Name:    "device-passphrase",
	Usage:   "passphrase to encrypt the device share database at rest",
	EnvVars: []string{"DEVICE_PASSPHRASE"},
}

var UserIDFlag = &cli.StringFlag{
	Name:    "user-id",
	Usage:   "account identifier at the identity provider",
	EnvVars: []string{"RECOVERY_USER_ID"},
}

var AccessTokenFlag = &cli.StringFlag{
	Name:    "access-token",
	Usage:   "identity provider access token; prompted for when empty",
	EnvVars: []string{"RECOVERY_ACCESS_TOKEN"},
}

var BackupAccessTokenFlag = &cli.StringFlag{
	Name:    "backup-access-token",
	Usage:   "separate access token for the backup store; the identity token is reused when empty",
	EnvVars: []string{"BACKUP_ACCESS_TOKEN"},
}

var OAuthClientIDFlag = &cli.StringFlag{
	Name:    "oauth-client-id",
	Usage:   "OAuth2 client id used with --oauth-refresh-token",
	EnvVars: []string{"OAUTH_CLIENT_ID"},
}

var OAuthClientSecretFlag = &cli.StringFlag{
	Name:    "oauth-client-secret",
	Usage:   "OAuth2 client secret used with --oauth-refresh-token",
	EnvVars: []string{"OAUTH_CLIENT_SECRET"},
}

var OAuthRefreshTokenFlag = &cli.StringFlag{
	Name:    "oauth-refresh-token",
	Usage:   "OAuth2 refresh token; access tokens are minted from it instead of --access-token",
	EnvVars: []string{"OAUTH_REFRESH_TOKEN"},
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var CommonFlags = append([]cli.Flag{
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}, LogFlags...)

var IdentityFlags = []cli.Flag{
	UserIDFlag,
	AccessTokenFlag,
	BackupAccessTokenFlag,
	OAuthClientIDFlag,
	OAuthClientSecretFlag,
	OAuthRefreshTokenFlag,
}

var StoreFlags = []cli.Flag{
	EncryptionPasswordFlag,
	BackupStoreFlag,
	BackupURLFlag,
	MetadataStoreFlag,
	DeviceDBFlag,
	DevicePassphraseFlag,
}
