// Package common contains shared constants and sentinel errors used across
// sessionkeeper components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// TokenExpiredMessage is the status message the server attaches to
// Unauthenticated responses caused by an expired access token. Clients key
// their transparent refresh on it.
const TokenExpiredMessage = "token expired"
