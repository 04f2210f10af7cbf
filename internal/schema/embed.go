package schema

import "embed"

// bundled holds the default schema tree compiled into the binary, the
// third tier of the path resolution order in spec §4.1. Grounded on
// madhatter5501-Factory's internal/web/server.go go:embed usage.
//
//go:embed embedded
var bundled embed.FS

const bundledRoot = "embedded"
