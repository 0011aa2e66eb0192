// Package main (cmd/recovery) is the command line front end of the recovery
// flow.
//
// "init" creates a key and spreads its shares over the device, the backup
// store and the printed mnemonics. The other commands log in, gather shares
// from the device, an optional --share and the backup, and act with the
// reconstructed key.
//
// Example usage:
//
//	recovery --user-id=alice@example.com --metadata-store=file://./keys init --threshold=2 --shares=3
//	recovery --user-id=alice@example.com recover --share="abandon ability ..."
//	recovery --user-id=alice@example.com balance --rpc-addr=https://rpc.example.org
//
// Without --access-token or --oauth-refresh-token the access token is
// prompted for on the terminal.
package main
