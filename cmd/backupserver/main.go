package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/share-recovery/api/backuphandler"
	"github.com/ruteri/share-recovery/api/server"
	"github.com/ruteri/share-recovery/cmd/flags"
	"github.com/ruteri/share-recovery/cmd/recoverycommon"
	"github.com/ruteri/share-recovery/identity"
	"github.com/urfave/cli/v2"
)

var BackupServiceLogFlag = flags.LogServiceFlagFn("backup")

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var TokenAudienceFlag = &cli.StringFlag{
	Name:    "token-audience",
	EnvVars: []string{"GOOGLE_OAUTH_CLIENT_ID"},
	Usage:   "OAuth client id access tokens must be issued to (empty accepts any client)",
}

var TokeninfoEndpointFlag = &cli.StringFlag{
	Name:  "tokeninfo-endpoint",
	Usage: "override the Google OAuth2 API base URL used to verify tokens",
}

func main() {
	app := &cli.App{
		Name:  "backup-server",
		Usage: "Serve the encrypted share backup API",
		Flags: append([]cli.Flag{
			ListenAddrFlag,
			flags.EncryptionPasswordFlag,
			flags.BackupStoreFlag,
			TokenAudienceFlag,
			TokeninfoEndpointFlag,
			BackupServiceLogFlag,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String(ListenAddrFlag.Name)

			// Setup logger
			logger := flags.SetupLogger(cCtx)

			// A missing password is fatal: nothing could be encrypted
			backupClient, err := recoverycommon.NewBackupClient(cCtx, logger)
			if err != nil {
				logger.Error("Failed to configure backup", "err", err)
				return err
			}

			verifier := identity.NewGoogleTokenVerifier(cCtx.String(TokenAudienceFlag.Name))
			verifier.Endpoint = cCtx.String(TokeninfoEndpointFlag.Name)
			if verifier.Audience == "" {
				logger.Warn("No token audience configured, tokens issued to any client are accepted")
			}

			handler, err := backuphandler.NewHandler(backupClient, verifier, logger)
			if err != nil {
				logger.Error("Failed to create handler", "err", err)
				return err
			}

			srv, err := server.New(flags.ConfigureServer(cCtx, logger, listenAddr), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			srv.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			srv.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
