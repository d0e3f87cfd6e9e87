// Package api embeds the OpenAPI description of the Keygate HTTP API.
package api

import _ "embed"

// OpenAPI is the contents of openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPI []byte
