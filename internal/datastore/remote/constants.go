package remote

import "time"

const (
	apiPrefix          = "/v1"
	realtimePath       = apiPrefix + "/realtime"
	defaultHTTPTimeout = 10 * time.Second
	defaultReadTimeout = 75 * time.Second
	writeWait          = 5 * time.Second
	defaultReconnects  = 5
	defaultBackoff     = 500 * time.Millisecond
	maxErrorBody       = 512
)
