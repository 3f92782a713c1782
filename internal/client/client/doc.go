// Package client talks to the sessionkeeper server.
//
// GRPCClient implements Client over gRPC with the JSON codec. Tokens live in
// a credentials.Store: Login saves them, and an interceptor attaches the
// access token to authenticated calls. When the server answers that the
// access token expired, the interceptor rotates the refresh token once and
// retries the call. If the session itself is rejected, the registered
// forced-logout hook runs and the call fails with common.ErrForcedLogout.
//
// Transport failures map to ErrUnavailable, other authentication failures to
// ErrUnauthorized.
package client
