// Package checksum computes and compares streaming digests of image files and
// device contents.
//
// Inputs are always streamed through a fixed buffer so multi-gigabyte images
// never sit in memory. Mismatches surface as faults.ChecksumMismatch with
// both digests attached; nothing here retries.
package checksum
