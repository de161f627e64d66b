// Package events carries progress and state-transition notices from a flash
// job to any number of presentation layers.
//
// A Bus belongs to exactly one job. Publishers never wait on consumers; slow
// subscribers lose intermediate progress samples but always observe every
// phase change and the terminal event.
package events
