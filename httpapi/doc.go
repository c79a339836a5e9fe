// Package httpapi translates HTTP semantics into Engine calls: JSON request
// decoding, the response envelope, the error-to-status taxonomy, rate limit
// headers, and bearer token enforcement. All decisions belong to the Engine;
// this package only adapts them to the wire.
package httpapi
