// Package buildinfo holds build-time metadata that is not part of the user
// configuration.
package buildinfo

import "fmt"

const unknown = "unknown"

// Context carries values stamped into the binary with -ldflags.
type Context struct {
	Version   string
	BuildDate string
}

// GetVersion returns the build version or "unknown".
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return unknown
	}
	return c.Version
}

// GetBuildDate returns the build date or "unknown".
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return unknown
	}
	return c.BuildDate
}

// UserAgent identifies SpineScan on outbound requests.
func (c *Context) UserAgent() string {
	return fmt.Sprintf("spinescan/%s", c.GetVersion())
}
