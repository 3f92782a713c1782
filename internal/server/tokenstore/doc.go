// Package tokenstore holds the durable backends of the token authority:
// PostgreSQL, Redis and an in-process map. Each one makes Rotate atomic with
// respect to concurrent rotations of the same predecessor.
package tokenstore
