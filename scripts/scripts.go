// Package scripts embeds the built-in SCRIPT matchers so binaries work
// without a scripts directory on disk. Pass FS to injectpoint.WithScriptsFS.
package scripts

import "embed"

// FS holds matchers/*.risor.
//
//go:embed matchers/*.risor
var FS embed.FS
