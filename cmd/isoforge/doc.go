// Command isoforge downloads ISO images and writes them to removable drives.
//
// Subcommands list candidate devices (optionally watching for hotplug),
// fetch images with resume, flash an image with read-back verification,
// and show the job history. All engine work happens in internal packages;
// this command only parses flags, asks for confirmation and renders events.
package main
