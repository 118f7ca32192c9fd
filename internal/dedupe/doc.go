// Package dedupe remembers keys that have already been handled, bounded by
// age and count.
//
// The task stream client records every task id that reached a terminal
// status here, so a late event or a repeated subscription for a finished
// task is recognized and ignored. Entries expire lazily on access; there is
// no background goroutine to stop.
package dedupe
