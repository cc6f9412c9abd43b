package smtp

import (
	"strings"
)

// Names of the ESMTP extensions known to this package.
const (
	ExtStartTLS   = "STARTTLS"
	ExtPipelining = "PIPELINING"
	Ext8BitMIME   = "8BITMIME"
	ExtSize       = "SIZE"
	ExtSMTPUTF8   = "SMTPUTF8"
	ExtEnhanced   = "ENHANCEDSTATUSCODES"
	ExtHelp       = "HELP"
)

// Extension is one ESMTP capability advertised in the EHLO reply, optionally with a parameter
// (e.g. SIZE carries the maximum message size).
type Extension struct {
	Name  string
	Param string
}

// Line returns the EHLO reply line of the extension, e.g. "SIZE 2097152" or "STARTTLS".
func (ext Extension) Line() string {
	if ext.Param == "" {
		return ext.Name
	}
	return ext.Name + " " + ext.Param
}

/*
ExtensionSet is the ordered set of ESMTP extensions enabled for a session. The membership at the
time of EHLO dictates the EHLO reply lines verbatim. Enable, Disable and Reset are the only mutators.
*/
type ExtensionSet struct {
	list []Extension
}

// Enable adds the extension to the set, replacing an already enabled extension of the same name.
func (set *ExtensionSet) Enable(ext Extension) {
	for i, existing := range set.list {
		if strings.EqualFold(existing.Name, ext.Name) {
			set.list[i] = ext
			return
		}
	}
	set.list = append(set.list, ext)
}

// Disable removes the named extension from the set.
func (set *ExtensionSet) Disable(name string) {
	for i, existing := range set.list {
		if strings.EqualFold(existing.Name, name) {
			set.list = append(set.list[:i], set.list[i+1:]...)
			return
		}
	}
}

// Contains returns true only if the named extension is enabled.
func (set *ExtensionSet) Contains(name string) bool {
	for _, existing := range set.list {
		if strings.EqualFold(existing.Name, name) {
			return true
		}
	}
	return false
}

// Lines returns one EHLO reply line per enabled extension.
func (set *ExtensionSet) Lines() []string {
	lines := make([]string, 0, len(set.list))
	for _, ext := range set.list {
		lines = append(lines, ext.Line())
	}
	return lines
}

// Reset replaces the entire membership of the set.
func (set *ExtensionSet) Reset(exts ...Extension) {
	set.list = make([]Extension, 0, len(exts))
	for _, ext := range exts {
		set.Enable(ext)
	}
}

// Len returns the number of enabled extensions.
func (set *ExtensionSet) Len() int {
	return len(set.list)
}
