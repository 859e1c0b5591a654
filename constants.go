package keyproxy

// Version is the version of keyproxy.
const Version = "1.0.0"

// DefaultTarget is the upstream API requests are forwarded to by default.
const DefaultTarget = "https://api.anthropic.com"

// HeaderAPIKey is the default header name carrying the api key.
const HeaderAPIKey = "x-api-key"

// maxDrainBytes bounds how much of a discarded response body is read so the
// connection can be reused.
const maxDrainBytes = 4 << 10
