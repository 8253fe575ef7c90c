package common

// AuthorizationHeaderName carries the bearer token on outbound requests.
const AuthorizationHeaderName = "Authorization"

// MultiPathSeparator joins file names and paths of a multi-file clip.
const MultiPathSeparator = ":::"

// DeviceIDKey is the metadata key holding the per-installation identifier.
const DeviceIDKey = "device_id"
