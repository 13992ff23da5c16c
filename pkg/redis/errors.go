package redis

import "errors"

var (
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not answer PING within the connect timeout")
	ErrEmptyConnectionURL           = errors.New("empty redis connection URL")
	ErrHealthcheckFailed            = errors.New("redis healthcheck failed")
	// ErrKeyMissing is joined to ErrHealthcheckFailed when a required key is absent.
	ErrKeyMissing = errors.New("required redis key does not exist")
)
