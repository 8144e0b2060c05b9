// Package credential acquires and caches the OAuth bearer token used for
// shadow queries.
//
// A Cache holds one token and its expiry. Token returns it while it is valid
// for longer than the refresh margin; otherwise one refresh runs on behalf of
// every concurrent caller (golang.org/x/sync/singleflight). A refresh tries
// the refresh_token grant first and falls back to the password grant. A failed
// refresh leaves the previous token in place.
//
// An optional TokenStore shares the token between replicas. RedisStore is the
// shared implementation; without a store the token lives only in memory.
package credential
