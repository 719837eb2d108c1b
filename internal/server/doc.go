// Package server hosts the backend's HTTP listeners.
//
// The data server runs every request through the active security filter
// chain before the application routes. The admin server exposes health,
// readiness, Prometheus metrics and a description of the active chain, and
// is never placed behind the chain.
package server
