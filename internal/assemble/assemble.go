// Package assemble turns an ordered file list into a build artifact: a
// loader script for the uncompressed form, or a payload of named code
// fragments for the optimizing compiler.
package assemble

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ShimName labels the synthetic fragment that declares externally defined
// namespaces for the optimizer.
const ShimName = "[goog.provide]"

// versionPlaceholder is the value the designated version file carries in
// source form.
const versionPlaceholder = "'uncompiled'"

// typeRequire matches one goog.requireType statement, with an optional
// variable binding.
const typeRequire = `(?:(?:const|let|var)\s+[^=;\n]+=\s*)?\bgoog\.requireType\([^)]*\);?`

var (
	requireTypeLineRe = regexp.MustCompile(`(?m)^[ \t]*` + typeRequire + `[ \t]*(?:\n|$)`)
	requireTypeRe     = regexp.MustCompile(`[ \t]*` + typeRequire)
)

// Fragment is one named unit of code submitted to the optimizer.
type Fragment struct {
	Name string
	Code string
}

// Payload is the ordered list of fragments for one compressed artifact.
type Payload struct {
	Fragments []Fragment
}

// Names returns the fragment names in submission order. Diagnostics from
// the optimizer refer to fragments by this index.
func (p *Payload) Names() []string {
	names := make([]string, len(p.Fragments))
	for i, f := range p.Fragments {
		names[i] = f.Name
	}
	return names
}

// Size returns the total number of code bytes in the payload.
func (p *Payload) Size() int {
	n := 0
	for _, f := range p.Fragments {
		n += len(f.Code)
	}
	return n
}

// Options controls per-file preprocessing of a payload.
type Options struct {
	// Version is injected into VersionFile by replacing
	// "<VersionSymbol> = 'uncompiled';".
	Version       string
	VersionFile   string
	VersionSymbol string

	// StripTypeRequires removes goog.requireType statements, which the
	// optimizer does not need.
	StripTypeRequires bool

	// Shims are namespaces declared in a leading synthetic fragment.
	Shims []string

	// Exclude drops files whose path starts with any of these prefixes.
	Exclude []string
}

// Build reads files (slash-separated, relative to base) in order and
// returns the payload to compile.
func Build(base string, files []string, opts Options) (*Payload, error) {
	p := &Payload{}
	if len(opts.Shims) > 0 {
		p.Fragments = append(p.Fragments, ShimFragment(opts.Shims))
	}

	for _, file := range files {
		if excluded(file, opts.Exclude) {
			continue
		}
		code, err := ReadSource(filepath.Join(base, filepath.FromSlash(file)))
		if err != nil {
			return nil, err
		}
		if opts.VersionFile != "" && file == opts.VersionFile {
			code = injectVersion(code, opts.VersionSymbol, opts.Version)
		}
		if opts.StripTypeRequires {
			code = StripTypeRequires(code)
		}
		p.Fragments = append(p.Fragments, Fragment{Name: file, Code: code})
	}

	return p, nil
}

// StripTypeRequires removes goog.requireType statements. A statement on a
// line of its own takes the line with it; other code on the line is kept.
func StripTypeRequires(code string) string {
	code = requireTypeLineRe.ReplaceAllString(code, "")
	return requireTypeRe.ReplaceAllString(code, "")
}

// ShimFragment declares names so the optimizer's closed-world analysis
// accepts references to symbols the host page defines.
func ShimFragment(names []string) Fragment {
	var b strings.Builder
	b.WriteByte('\n')
	for _, name := range names {
		fmt.Fprintf(&b, "goog.provide('%s');\n", name)
	}
	return Fragment{Name: ShimName, Code: b.String()}
}

// ReadSource reads a file and normalizes it to UTF-8. A UTF-8 or UTF-16
// byte order mark selects the decoder and is dropped; invalid UTF-8 is
// replaced with U+FFFD.
func ReadSource(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return NormalizeEncoding(raw)
}

// NormalizeEncoding decodes raw source bytes into a UTF-8 string.
func NormalizeEncoding(raw []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, raw)
	if err != nil {
		return "", fmt.Errorf("decoding source: %w", err)
	}
	return string(out), nil
}

func injectVersion(code, symbol, version string) string {
	if symbol == "" {
		return code
	}
	from := symbol + " = " + versionPlaceholder + ";"
	to := fmt.Sprintf("%s = '%s';", symbol, version)
	return strings.Replace(code, from, to, 1)
}

func excluded(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
