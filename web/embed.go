package web

import "embed"

// FS contains all embedded web assets (the live view page).
//
//go:embed index.html
var FS embed.FS
