// Package static embeds documents served as-is by the HTTP layer.
package static

import _ "embed"

// GuideMd is the API walkthrough for integrators, served at /guide.md.
//
//go:embed guide.md
var GuideMd string
