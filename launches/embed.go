package launches

import "embed"

// Bundled holds the launch definitions shipped with the binary.
//
//go:embed *.json
var Bundled embed.FS
