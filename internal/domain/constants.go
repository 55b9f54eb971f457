package domain

import "time"

// Durable storage keys for the token pair.
const (
	AccessTokenKey  = "accessToken"
	RefreshTokenKey = "refreshToken"
)

// Upstream endpoints consumed by the client, relative to the base URL.
const (
	LoginPath    = "/users/login"
	RegisterPath = "/users/register"
	RefreshPath  = "/users/refresh"
	UsersPath    = "/users"
	UploadPath   = "/storage/upload"

	// UploadField is the multipart field name the storage endpoint reads files from.
	UploadField = "files"
)

// Timeout contracts
const (
	DefaultRequestTimeout = 10 * time.Second // Per-request deadline when the request sets none
	RefreshTimeout        = 10 * time.Second // Deadline for the shared refresh call
	RedisTimeout          = 2 * time.Second  // Max time for Redis operations
	ShutdownOTELTimeout   = 5 * time.Second  // Flush budget for exporters on exit
)

// Limits
const (
	MaxResponseBytes = 32 << 20 // Responses larger than this are truncated and rejected
)
