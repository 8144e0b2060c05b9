// Package tlscheck inspects the leaf certificates of the upstream HTTPS
// endpoints (token exchange and shadow GraphQL) so an expiring certificate
// shows up on the health endpoint before token exchanges start failing.
package tlscheck
