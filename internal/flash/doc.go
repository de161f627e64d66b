// Package flash drives one image onto one removable block device.
//
// The Engine owns every FlashJob from StartJob to its terminal phase. A job
// walks Idle, Preparing, Writing, Verifying and Done; Failed is reachable
// from any non-terminal phase and Cancelled only from Preparing or Writing.
// Transitions outside that table are rejected.
//
// Safety checks run twice: synchronously in StartJob so an obviously wrong
// target fails before a handle exists, and again against a fresh device
// listing immediately before the device is opened. The first block of the
// image is written last so an interrupted write never leaves a
// bootable-looking header behind. Verification re-reads exactly the bytes
// written with the page cache dropped and compares digests.
//
// Devices are locked per process by ID; a second job against a held device
// fails with DeviceBusy instead of queuing.
package flash
