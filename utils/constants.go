package utils

import (
	"time"
)

// Service token constants
const (
	// ServiceTokenTTL is the default lifetime of a service access token (24 hours)
	ServiceTokenTTL = 24 * time.Hour

	// ServiceTokenType is the token_type claim carried by service tokens
	ServiceTokenType = "service"

	// RevokedTokenKey is the redis key (after prefix) marking a revoked token id
	RevokedTokenKey = "token:revoked:%s"
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400

	// DefaultAPIKeyHeader is the header that carries the static API key
	DefaultAPIKeyHeader = "X-API-Key"
)

// Audience and delivery constants
const (
	// AudienceSQLMaxLength is the longest accepted audience SQL fragment after trimming
	AudienceSQLMaxLength = 100_000

	// AudienceResolveCeiling bounds an sql target resolved without an explicit limit
	AudienceResolveCeiling = 500_000

	// AudiencePreviewDefaultLimit is used when a preview request carries no limit
	AudiencePreviewDefaultLimit = 1000

	// AudiencePreviewMaxLimit caps the limit of a preview request
	AudiencePreviewMaxLimit = 10_000

	// AudiencePreviewSampleSize is the number of ids echoed back by a preview
	AudiencePreviewSampleSize = 50

	// DeliveryChunkSize bounds the id list of a single delivery query
	DeliveryChunkSize = 1000

	// DefaultDeliveryListLimit and MaxDeliveryListLimit bound delivery listing
	DefaultDeliveryListLimit = 200
	MaxDeliveryListLimit     = 1000

	// DefaultBroadcastListLimit and MaxBroadcastListLimit bound broadcast listing
	DefaultBroadcastListLimit = 100
	MaxBroadcastListLimit     = 1000

	// MaterializeLockKey is the redis key (after prefix) guarding materialize per broadcast
	MaterializeLockKey = "broadcast:%d:materialize:lock"

	// MaterializeLockTTL is the default lifetime of a materialize lock
	MaterializeLockTTL = 2 * time.Minute
)
