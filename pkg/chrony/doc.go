// Package chrony renders and applies the configuration of the chrony NTP
// daemon.
//
// Time sources are written as URLs (ntp://host[:port][?opt=val&...] or
// nts://host[:ntsport][?opt=val&...]) and rendered as pool directives. NTS
// server credentials are materialized in a numbered certificate store that is
// synchronized with a minimal number of file writes. Chrony.Apply is the only
// place that restarts the daemon, and only when the rendered configuration or
// the store changed.
package chrony
