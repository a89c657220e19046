package query

import (
	"reflect"
	"time"
)

// Entry is the last known outcome of fetching one key.
// Callers only ever receive copies; the Cache is the sole mutator.
type Entry struct {
	// Data is the last successfully fetched value. It is nil if the key was never
	// fetched successfully or the last attempt failed.
	Data any
	// Err is the failure of the last completed attempt.
	Err error
	// IsLoading is true while an attempt, including its retries, is in flight.
	IsLoading bool
	// LastFetched is when the last attempt completed. The zero value means no
	// attempt has completed yet.
	LastFetched time.Time
}

// Fetched reports whether an attempt for this entry has ever completed.
func (e Entry) Fetched() bool {
	return !e.LastFetched.IsZero()
}

// Age returns how long ago the last attempt completed, relative to now.
func (e Entry) Age(now time.Time) time.Duration {
	if !e.Fetched() {
		return 0
	}
	return now.Sub(e.LastFetched)
}

// isStale is true when the entry has never completed or its age has reached
// staleTime. An age equal to staleTime is stale, so a zero staleTime never hits.
func (e *Entry) isStale(now time.Time, staleTime time.Duration) bool {
	return e == nil || !e.Fetched() || now.Sub(e.LastFetched) >= staleTime
}

// hasUsableData reports whether Data may be served from the cache. nil, "",
// numeric zero, false and nil references are empty; structs and arrays always
// count as data, even at their zero value.
func (e *Entry) hasUsableData() bool {
	if e == nil || e.Data == nil {
		return false
	}
	v := reflect.ValueOf(e.Data)
	switch v.Kind() {
	case reflect.String:
		return v.Len() > 0
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return !v.IsZero()
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
		return !v.IsNil()
	default:
		return true
	}
}
