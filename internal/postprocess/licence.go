package postprocess

import (
	"slices"
	"strings"
)

const (
	licenceOpen  = "/*"
	licenceClose = "*/"

	copyrightPrefix   = " Copyright "
	allRightsReserved = " All rights reserved.\n"
)

// apacheBody is the fixed Apache-2.0 paragraph between the copyright line
// and the closing delimiter, as the optimizer preserves it.
const apacheBody = ` Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

   http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
`

// Licence is a recognized Apache-2.0 notice block.
type Licence struct {
	Year              string
	Holder            string
	AllRightsReserved bool
}

// HeldBy reports whether the notice belongs to one of holders.
func (l Licence) HeldBy(holders []string) bool {
	return slices.Contains(holders, l.Holder)
}

// ParseLicence recognizes a licence block at the start of s and returns it
// with its length in bytes. The block is, line by line: the opening
// delimiter, a blank line, " Copyright <year> <holder>", an optional
// " All rights reserved.", the fixed Apache-2.0 paragraph, and the closing
// delimiter.
func ParseLicence(s string) (Licence, int, bool) {
	var lic Licence

	rest, ok := strings.CutPrefix(s, licenceOpen+"\n\n")
	if !ok {
		return lic, 0, false
	}

	line, rest, ok := strings.Cut(rest, "\n")
	if !ok {
		return lic, 0, false
	}
	lic.Year, lic.Holder, ok = parseCopyright(line)
	if !ok {
		return lic, 0, false
	}

	if r, found := strings.CutPrefix(rest, allRightsReserved); found {
		rest = r
		lic.AllRightsReserved = true
	}

	if rest, ok = strings.CutPrefix(rest, apacheBody); !ok {
		return lic, 0, false
	}
	if rest, ok = strings.CutPrefix(rest, licenceClose); !ok {
		return lic, 0, false
	}

	return lic, len(s) - len(rest), true
}

// parseCopyright splits " Copyright <digits> <holder>".
func parseCopyright(line string) (year, holder string, ok bool) {
	rest, ok := strings.CutPrefix(line, copyrightPrefix)
	if !ok {
		return "", "", false
	}
	year, holder, ok = strings.Cut(rest, " ")
	if !ok || year == "" || holder == "" {
		return "", "", false
	}
	for _, r := range year {
		if r < '0' || r > '9' {
			return "", "", false
		}
	}
	return year, holder, true
}
