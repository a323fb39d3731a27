package proxy

import "fmt"

// Sentinel error constructors for the proxy's own failure modes.
// Backend transport/status failures are reported through
// internal/backend.Client and internal/backend.StatusError instead;
// these cover only the request-decoding boundary the pipeline itself
// owns.

var errMissingQuery = fmt.Errorf("proxy: request has no q parameter")
