package assets

import _ "embed"

// Astro holds the aspect table and body speed ranks.
//
//go:embed astro.yaml
var Astro []byte

// Content holds the phrase pools the daily message is assembled from.
//
//go:embed content.yaml
var Content []byte
