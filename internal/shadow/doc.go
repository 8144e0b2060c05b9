// Package shadow retrieves the latest sensor snapshot for a device from the
// remote device-twin GraphQL endpoint.
//
// Client.Fetch issues exactly one request per call and never retries; the
// poll driver decides what a failure means. Every failure mode (transport,
// non-2xx, unparseable body, GraphQL errors, missing shadow, empty data) is
// reported as a *FetchError so callers can attribute it to the device.
//
// The returned Snapshot satisfies compute.Lookup: a key is looked up exactly
// first, then as a gjson dotted path into the raw data document.
package shadow
