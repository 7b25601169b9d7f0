// Package configs provides embedded configuration assets for foldermcp.
//
// Assets are embedded at build time with go:embed so they are available in
// every distribution: source builds, binary releases, and package managers.
//
// Files:
//   - config.example.yaml: the annotated user config template written by
//     `foldermcp config init` to ~/.foldermcp/config.yaml
//   - models.yaml: the curated embedding model catalog consumed by
//     internal/model at startup
package configs

import _ "embed"

// UserConfigTemplate is the annotated template for ~/.foldermcp/config.yaml.
//
//go:embed config.example.yaml
var UserConfigTemplate string

// ModelCatalogYAML is the curated embedding model catalog. The daemon never
// fetches catalog data over the network; updating the catalog means shipping
// a new binary.
//
//go:embed models.yaml
var ModelCatalogYAML []byte
