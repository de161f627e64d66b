// Package device enumerates whole-disk block devices and decides which of
// them may be overwritten.
//
// Two backends exist: lsblk key/value output (preferred, it sees stacked
// devices such as LVM and dm-crypt) and sysfs through ghw. Both feed the same
// Policy, which rejects in order: disks hosting the running system, disks the
// OS does not flag removable, and disks smaller than the image. Listings are
// sorted by label under Unicode collation with the device path as tiebreak.
//
// Monitor reports hotplug changes from the udev netlink socket so callers can
// refresh a listing; it never supplies device details itself.
package device
