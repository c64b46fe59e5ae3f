// Package server exposes a Runtime over HTTP: the administration API under
// /_moc/api, Prometheus metrics, and every other path handed to the
// dispatcher.
package server
