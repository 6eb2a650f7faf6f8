// Package api exposes job status, result and export queries and dataset
// uploads over HTTP. Handlers translate requests into service calls and map
// service errors onto status codes without leaking internal detail.
package api
