// Package jwt issues and verifies the signed, self-contained bearer tokens
// used by the auth engine. Access and refresh tokens are signed with
// distinct secrets so compromise of one role's key cannot forge the other.
package jwt
