// Package ws streams live trace activity to viewer clients.
//
// A single Hub owns every connection. Publish serializes a notice once
// and fans it out to per-client buffered channels; a client that cannot
// drain its buffer loses notices rather than slowing the hub or other
// clients. Dropped notices are counted, never retried. The stream is
// one-way: inbound frames are read only to detect disconnects and
// answer pings.
//
// Example Usage:
//
//	hub := ws.NewHub(logger, metrics)
//	router.GET("/stream", hub.HandleConnection)
//	hub.Publish(activity)
package ws
