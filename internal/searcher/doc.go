// Package searcher holds the reusable scratch state of a graph or exhaustive
// search: bounded priority queues and a visited set.
package searcher
