// Package arena stores fixed-size item records off the Go heap.
//
// Records live in anonymous memory mappings allocated in chunks, so their
// addresses never move once handed out. Callers pin the arena while they hold
// a record outside the owner's lock; Close defers unmapping until the last
// pin is dropped.
package arena
