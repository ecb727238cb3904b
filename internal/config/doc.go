// Package config handles configuration loading for hostchat-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable expansion.
// Unset fields get defaults and the result is validated before use.
//
// # Configuration File
//
// The file is read from the path given with --config, otherwise from
// $HOSTCHAT_CONFIG, otherwise from hostchat/config.yaml under the user config
// directory. `hostchat-gateway init` writes Example there.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${HOSTCHAT_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// Duration fields (delivery.write_wait, delivery.ping_period, delivery.pong_wait,
// profiles.cache_ttl, profiles.timeout, server.shutdown_timeout) use Go duration
// syntax such as "3s" or "10m".
package config
