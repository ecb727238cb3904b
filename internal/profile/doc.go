// Package profile resolves marketplace user IDs to display names and avatars.
//
// The marketplace user service is the source of truth; HTTPLookup calls
// GET {base}/user/{id}. CachingLookup memoizes results for a TTL and
// StaticLookup serves fixed profiles for development and tests.
//
// Callers that only need a label use DisplayName, which degrades to
// PlaceholderName instead of failing.
package profile
