package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/share-recovery/cmd/flags"
	"github.com/ruteri/share-recovery/cmd/recoverycommon"
	"github.com/ruteri/share-recovery/interfaces"
	"github.com/ruteri/share-recovery/recovery"
	"github.com/ruteri/share-recovery/wallet"
	"github.com/urfave/cli/v2"
)

var RecoveryServiceLogFlag = flags.LogServiceFlagFn("recovery")

var flagThreshold = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
	Usage: "number of shares needed to reconstruct the key",
}

var flagShares = &cli.IntFlag{
	Name:  "shares",
	Value: 3,
	Usage: "number of shares to issue",
}

var flagShare = &cli.StringFlag{
	Name:    "share",
	Usage:   "a share mnemonic or hex-encoded share to submit before the backup",
	EnvVars: []string{"RECOVERY_SHARE"},
}

var flagMessage = &cli.StringFlag{
	Name:     "message",
	Required: true,
	Usage:    "message to sign",
}

var flagConfirm = &cli.BoolFlag{
	Name:  "yes-delete-everything",
	Usage: "confirm the irreversible account reset",
}

// runtime holds what every subcommand needs once the flags are parsed.
type runtime struct {
	flow   *recovery.Flow
	logger *slog.Logger
	close  func()
}

func setup(cCtx *cli.Context) (*runtime, error) {
	logger := flags.SetupLogger(cCtx)
	flow, closeFn, err := recoverycommon.SetupFlow(cCtx, logger)
	if err != nil {
		logger.Error("Failed to set up recovery", "err", err)
		return nil, err
	}
	return &runtime{flow: flow, logger: logger, close: closeFn}, nil
}

// unlock logs in and runs recovery until the key is reconstructed.
func (rt *runtime) unlock(ctx context.Context, cCtx *cli.Context) (*recovery.Session, *recovery.RecoveryReport, error) {
	sess, err := rt.flow.Login(ctx)
	if err != nil {
		if sess == nil {
			return nil, nil, err
		}
		rt.logger.Warn("Login completed with errors", "err", err)
	}

	manual := cCtx.String(flagShare.Name)
	if manual != "" {
		if err := rt.flow.SetManualShare(sess, manual); err != nil {
			rt.flow.Logout(sess)
			return nil, nil, err
		}
	}

	report, err := rt.flow.Recover(ctx, sess, manual != "")
	if err != nil {
		rt.flow.Logout(sess)
		return nil, nil, err
	}
	if !report.Ready() {
		printJSON(report)
		rt.flow.Logout(sess)
		return nil, report, fmt.Errorf("%w: key not reconstructed, %d more share(s) needed", interfaces.ErrInvalidState, report.Status.Threshold.RequiredShares)
	}
	return sess, report, nil
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}

func withRuntime(fn func(ctx context.Context, cCtx *cli.Context, rt *runtime) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		rt, err := setup(cCtx)
		if err != nil {
			return err
		}
		defer rt.close()
		return fn(cCtx.Context, cCtx, rt)
	}
}

func withUnlocked(fn func(ctx context.Context, cCtx *cli.Context, rt *runtime, sess *recovery.Session) error) cli.ActionFunc {
	return withRuntime(func(ctx context.Context, cCtx *cli.Context, rt *runtime) error {
		sess, _, err := rt.unlock(ctx, cCtx)
		if err != nil {
			return err
		}
		defer rt.flow.Logout(sess)
		return fn(ctx, cCtx, rt, sess)
	})
}

func main() {
	app := &cli.App{
		Name:           "recovery",
		Usage:          "Manage and recover a threshold-shared signing key",
		DefaultCommand: "status",
		Flags:          append(append(append([]cli.Flag{RecoveryServiceLogFlag}, flags.LogFlags...), flags.IdentityFlags...), flags.StoreFlags...),
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "create a new key and distribute its shares",
				Flags: []cli.Flag{flagThreshold, flagShares},
				Action: withRuntime(func(ctx context.Context, cCtx *cli.Context, rt *runtime) error {
					sess, result, err := rt.flow.Enroll(ctx, cCtx.Int(flagThreshold.Name), cCtx.Int(flagShares.Name))
					if sess != nil {
						defer rt.flow.Logout(sess)
					}
					if err != nil {
						return err
					}

					fmt.Println("Key created for", sess.UserID())
					if result.DeviceShareIndex != 0 {
						fmt.Println("Device share:", result.DeviceShareIndex)
					}
					if result.BackupID != "" {
						fmt.Println("Backup:", result.BackupID)
					}
					for i, mnemonic := range result.ManualMnemonics {
						fmt.Printf("Share %d (write this down):\n  %s\n", i+1, mnemonic)
					}
					return nil
				}),
			},
			{
				Name:  "status",
				Usage: "show the threshold state of the account",
				Action: withRuntime(func(ctx context.Context, cCtx *cli.Context, rt *runtime) error {
					sess, err := rt.flow.Login(ctx)
					if sess == nil {
						return err
					}
					defer rt.flow.Logout(sess)
					if err != nil {
						rt.logger.Warn("Login completed with errors", "err", err)
					}

					status, err := rt.flow.Status(sess)
					if err != nil {
						return err
					}
					printJSON(status)
					return nil
				}),
			},
			{
				Name:  "recover",
				Usage: "collect shares from the device, the --share flag and the backup",
				Flags: []cli.Flag{flagShare},
				Action: withUnlocked(func(ctx context.Context, cCtx *cli.Context, rt *runtime, sess *recovery.Session) error {
					status, err := rt.flow.Status(sess)
					if err != nil {
						return err
					}
					printJSON(status)
					return nil
				}),
			},
			{
				Name:  "backup-share",
				Usage: "issue a new share and replace the backup with it",
				Flags: []cli.Flag{flagShare},
				Action: withUnlocked(func(ctx context.Context, cCtx *cli.Context, rt *runtime, sess *recovery.Session) error {
					saved, err := rt.flow.BackupNewShare(ctx, sess)
					if err != nil {
						return err
					}
					fmt.Println("Backup saved:", saved.ID)
					return nil
				}),
			},
			{
				Name:  "device-share",
				Usage: "issue a new share and cache it on this device",
				Flags: []cli.Flag{flagShare},
				Action: withUnlocked(func(ctx context.Context, cCtx *cli.Context, rt *runtime, sess *recovery.Session) error {
					share, err := rt.flow.CaptureDeviceShare(ctx, sess)
					if err != nil {
						return err
					}
					fmt.Println("Device share cached:", share.Index)
					return nil
				}),
			},
			{
				Name:  "sign-message",
				Usage: "sign a message with the reconstructed key",
				Flags: []cli.Flag{flagShare, flagMessage},
				Action: withUnlocked(func(ctx context.Context, cCtx *cli.Context, rt *runtime, sess *recovery.Session) error {
					signer, err := sess.Coordinator().Signer()
					if err != nil {
						return err
					}
					sig, err := signer.SignMessage([]byte(cCtx.String(flagMessage.Name)))
					if err != nil {
						return err
					}
					fmt.Println(hexutil.Encode(sig))
					return nil
				}),
			},
			{
				Name:  "balance",
				Usage: "show the balance of the reconstructed key's address",
				Flags: []cli.Flag{flagShare, flags.RpcAddrFlag},
				Action: withUnlocked(func(ctx context.Context, cCtx *cli.Context, rt *runtime, sess *recovery.Session) error {
					signer, err := sess.Coordinator().Signer()
					if err != nil {
						return err
					}

					rpcAddress := cCtx.String(flags.RpcAddrFlag.Name)
					rt.logger.Info("Connecting to Ethereum RPC", "address", rpcAddress)
					ethClient, err := ethclient.Dial(rpcAddress)
					if err != nil {
						rt.logger.Error("Failed to dial RPC", "err", err)
						return err
					}
					defer ethClient.Close()

					balance, err := signer.Balance(ctx, ethClient)
					if err != nil {
						return err
					}
					fmt.Printf("%s: %s ETH\n", signer.Address(), wallet.FormatEther(balance))
					return nil
				}),
			},
			{
				Name:  "reset",
				Usage: "irreversibly delete the key, the backup and the device share",
				Flags: []cli.Flag{flagConfirm},
				Action: withRuntime(func(ctx context.Context, cCtx *cli.Context, rt *runtime) error {
					if !cCtx.Bool(flagConfirm.Name) {
						return errors.New("refusing to reset without --yes-delete-everything")
					}
					sess, err := rt.flow.Login(ctx)
					if sess == nil {
						return err
					}
					if err := rt.flow.CriticalReset(ctx, sess); err != nil {
						rt.flow.Logout(sess)
						return err
					}
					fmt.Println("Account reset")
					return nil
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
