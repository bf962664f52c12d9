// Package reaper runs a periodic sweeper per project that reclaims
// expired leases back into the queue.
package reaper
