// Package download fetches remote images over HTTP with resumable range
// requests.
//
// Every chunk is synced to the destination before a sidecar
// (<dest>.isoforge-state) records the new offset together with the running
// digest, so a restarted process continues exactly where the last durable
// write ended. Transient network faults are retried with exponential
// backoff; a completed transfer is checked against the declared checksum and
// a mismatch poisons the sidecar so the next fetch starts from zero.
//
// At most one fetch may write a destination at a time, enforced both inside
// the process and across processes through an advisory lock file.
package download
