// Package dedupe provides a time-bounded, size-bounded cache. As a set it
// suppresses repeated events within a window; with values it memoizes lookups.
package dedupe
