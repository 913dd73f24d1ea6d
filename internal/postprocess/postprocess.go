// Package postprocess turns compiled code into the final artifact text.
package postprocess

import (
	"regexp"
	"strings"
)

// Header opens every generated artifact.
const Header = "// Do not edit this file; automatically generated by blocklybuild.\n" +
	"'use strict';\n"

// AllowedHolders are the rights-holders whose Apache-2.0 notices may be
// stripped from compiled output. Notices of anyone else are kept verbatim.
var AllowedHolders = []string{
	"Google LLC",
	"Massachusetts Institute of Technology",
}

// Finalize returns the artifact content for compiled code: the header, a
// blank line, and the processed code.
func Finalize(code string, remove *regexp.Regexp) string {
	return Header + "\n" + Process(code, remove)
}

// Process removes every match of remove (when non-nil) and then strips
// allow-listed licence blocks.
func Process(code string, remove *regexp.Regexp) string {
	if remove != nil {
		code = remove.ReplaceAllString(code, "")
	}
	return StripLicences(code, AllowedHolders)
}

// StripLicences removes every Apache-2.0 licence block attributed to one of
// holders. Removal repeats until nothing matches, so the result is stable
// under a second application.
func StripLicences(code string, holders []string) string {
	for {
		out, changed := stripOnce(code, holders)
		if !changed {
			return out
		}
		code = out
	}
}

func stripOnce(code string, holders []string) (string, bool) {
	var b strings.Builder
	changed := false
	for {
		i := strings.Index(code, licenceOpen)
		if i < 0 {
			b.WriteString(code)
			break
		}
		b.WriteString(code[:i])
		code = code[i:]

		lic, n, ok := ParseLicence(code)
		if ok && lic.HeldBy(holders) {
			code = code[n:]
			changed = true
			continue
		}
		b.WriteString(licenceOpen)
		code = code[len(licenceOpen):]
	}
	return b.String(), changed
}
