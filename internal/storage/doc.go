// Package storage keeps an append-only audit log of recording lifecycle
// events (scheduled, canceled, fired) and catalog reloads.
//
// The OS scheduler stays the source of truth for pending recordings; the
// audit log only answers "what happened" after jobs have left the queue.
package storage
