// Package password provides Argon2id hashing in PHC string format and the
// password strength policy enforced on registration, change, and reset.
package password
