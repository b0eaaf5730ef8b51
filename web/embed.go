// Package web embeds the operator console: a single page that creates a
// session, drives its playback controls and renders the UI channel.
package web

import "embed"

// Content holds the embedded console files.
//
//go:embed index.html
var Content embed.FS
