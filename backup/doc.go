// Package backup stores one share per account as an encrypted, named
// document in a remote document store.
//
// Save, Fetch and Delete accept the document ID returned by an earlier call.
// When the ID is empty or stale the artifact is looked up by name, so callers
// never need to persist the ID and Save never creates a second artifact while
// one is discoverable. Delete of a missing artifact succeeds with Deleted set
// to false.
package backup
