// Package internal contains helper utilities that are intentionally private
// to the auth module: secure random token generation, backup-code hashing,
// and the keyed mutex used to serialize per-user credential updates.
package internal
