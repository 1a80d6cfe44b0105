// Package disc talks to physical optical drives.
//
// It probes tray state with the CDROM_DRIVE_STATUS ioctl, classifies a loaded
// disc by mounting it read-only and looking for VIDEO_TS or BDMV, ejects
// media once a job finishes, and provides the per-device lock that keeps
// classification and extraction from touching a drive at the same time.
package disc
