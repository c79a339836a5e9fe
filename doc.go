// Package auth is the credential lifecycle and abuse-control engine for the
// recipe book service: password login, access/refresh token pairs,
// single-use password-reset and email-verification tokens, TOTP two-factor
// authentication with backup codes, and sliding-window rate limiting.
//
// The Engine is storage-agnostic: callers supply a UserStore for credential
// records, a Mailer for outbound delivery, and optionally a CascadeDeleter
// for account deletion. Rate limit counters default to an in-process
// sliding-window backend and can be swapped for the Redis backend when
// multiple instances must share budgets.
//
// Endpoints that can reveal account existence (login, password reset) use a
// single generic failure message and a response latency floor so neither the
// body nor the timing distinguishes existing from non-existing accounts.
package auth
