package utils

import "errors"

// ----------------- storage ------------------
var (
	ErrStorageEmptyHostName       = errors.New("host name is empty")
	ErrStorageInvalidPortNumber   = errors.New("port number is empty")
	ErrStorageEmptyUsername       = errors.New("username is empty")
	ErrStorageEmptyPassword       = errors.New("password is empty")
	ErrStorageInvalidDatabaseName = errors.New("database name is empty")
	ErrStorageInvalidSslMode      = errors.New("SSL mode is invalid")
	ErrStorageInvalidPoolSize     = errors.New("pool size is invalid")
	ErrStorageInvalidTimeout      = errors.New("timeout is invalid")
)

// ----------------- sync service ------------------
var (
	ErrInvalidSyncType  = errors.New("invalid sync type")
	ErrInvalidBatchSize = errors.New("invalid batch size")
	ErrJobNotFound      = errors.New("sync job not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrMirrorNotFound   = errors.New("offer mirror not found")
	ErrVersionConflict  = errors.New("version conflict on conditional update")
)

// ----------------- webhook processor ------------------
var (
	ErrEventNotFound         = errors.New("webhook event not found")
	ErrEventAlreadyProcessed = errors.New("webhook event already processed")
	ErrEmptyExternalEventID  = errors.New("external event id is empty")
)
