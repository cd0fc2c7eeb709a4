// Package cronguard provides embedded assets for the cronguard command.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML], which "cronguard init-config" writes out.
package cronguard

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml, embedded at
// build time. It is generated from config.ExampleConfig by cmd/genconfig.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
