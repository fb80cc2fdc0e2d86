// Package spec ships the OpenAPI document with the binary so the API can
// serve its own contract.
package spec

import _ "embed"

//go:embed openapi.yaml
var OpenAPI []byte
