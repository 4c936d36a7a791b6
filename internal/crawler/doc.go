// Package crawler implements the breadth-first follow-graph crawl: the
// visited set, the worker pool and the engine that seeds, drains and shuts
// down a run. Probes, sinks and writers plug in through the interfaces
// declared here.
package crawler
