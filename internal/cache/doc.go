// Package cache holds recently read blob blocks in memory, charged against
// the process resource controller.
package cache
