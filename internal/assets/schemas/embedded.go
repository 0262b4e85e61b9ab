// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so validation works regardless of the
// working directory or installation location.
package schemasassets

import _ "embed"

// SearchJobSchema is the embedded search-job manifest JSON schema.
//
//go:embed search-job.schema.json
var SearchJobSchema []byte
