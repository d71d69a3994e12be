package util

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"
)

// NewID returns 32 hex characters of randomness, optionally prefixed.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

var lastTimeID atomic.Int64

// TimeID returns a millisecond timestamp id, the format the chart editor
// uses for cards it creates. Ids are strictly increasing within the process.
func TimeID(now time.Time) string {
	next := now.UnixMilli()
	for {
		last := lastTimeID.Load()
		if next <= last {
			next = last + 1
		}
		if lastTimeID.CompareAndSwap(last, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}
