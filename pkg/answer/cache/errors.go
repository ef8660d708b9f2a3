package cache

import "errors"

var (
	// ErrDecompressionFailed marks a stored payload that could not be decoded
	ErrDecompressionFailed = errors.New("payload decompression failed")

	// ErrEntryTooLarge is returned when a single entry exceeds the byte budget
	ErrEntryTooLarge = errors.New("entry exceeds cache byte budget")

	// ErrCacheCleared is returned by Set when persistence could not recover
	// from a quota failure and the cache was emptied
	ErrCacheCleared = errors.New("cache cleared after unrecoverable quota failure")

	// ErrSerializationFailed wraps answer encoding failures
	ErrSerializationFailed = errors.New("serialization failed")
)
