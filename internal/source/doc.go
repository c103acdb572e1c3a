// Package source implements the signal sources observed by the workstation
// services: file usage from inotify and procfs, window titles and display
// power polled from X11 command line tools, and command execution for
// buttons.
package source
