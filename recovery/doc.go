// Package recovery coordinates collecting shares from the device, from the
// user and from the encrypted backup until a threshold key can be
// reconstructed.
//
// # Coordinator
//
// A Coordinator owns one reconstruction attempt:
//
//	start -> awaiting_shares -> reconstructing -> ready
//	                                          \-> failed
//
// It never counts shares itself. After each accepted share it asks the
// threshold key how many are still required and reconstructs once, at the
// point that number first reaches zero. A failed reconstruction is terminal
// until Reset.
//
// # Flow
//
// Flow implements the user-facing sequence on top of the coordinator. All
// per-user state lives in a Session returned by Login or Enroll:
//
//	sess, err := flow.Login(ctx)
//	report, err := flow.Recover(ctx, sess, false)
//	if report.Ready() {
//	    signer, _ := sess.Coordinator().Signer()
//	}
//
// Recover tries the device share, then the manual share when requested, then
// the backup. A failing channel is recorded in the report and the next one is
// tried. The backup store is authenticated lazily on first use.
package recovery
