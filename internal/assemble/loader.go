package assemble

import (
	"fmt"
	"path"
	"strings"

	"github.com/G33kDude/pxt-blockly/internal/model"
)

// ClosureBaseFile is the Closure bootstrap file whose directory anchors
// every goog.addDependency path.
const ClosureBaseFile = "goog/base.js"

// LoaderOptions configures the uncompressed loader script.
type LoaderOptions struct {
	// BaseDir is the directory holding Closure's base.js, relative to the
	// project root and slash-separated.
	BaseDir string
	// Entry is the namespace required once all dependencies are registered.
	Entry string
}

// FindClosureBase returns the directory of the module whose path ends in
// goog/base.js. The input order does not matter: when several paths match,
// the lexicographically smallest wins.
func FindClosureBase(paths []string) (string, bool) {
	found := ""
	for _, p := range paths {
		if p != ClosureBaseFile && !strings.HasSuffix(p, "/"+ClosureBaseFile) {
			continue
		}
		if found == "" || p < found {
			found = p
		}
	}
	if found == "" {
		return "", false
	}
	return path.Dir(found), true
}

// Loader renders the script that registers every module with the Closure
// loader at run time. Modules are emitted in the order given, which must
// already respect dependencies. The result follows the generated-file
// header.
func Loader(modules []model.Module, opts LoaderOptions) string {
	var b strings.Builder
	b.WriteString(loaderPrologue)
	for _, m := range modules {
		b.WriteString(DepsLine(m, opts.BaseDir))
		b.WriteByte('\n')
	}
	b.WriteString("\n// Load Blockly.\n")
	fmt.Fprintf(&b, "goog.require('%s');\n", opts.Entry)
	fmt.Fprintf(&b, loaderEpilogue, path.Join("/", opts.BaseDir, "base.js"))
	return b.String()
}

// DepsLine renders one goog.addDependency registration.
func DepsLine(m model.Module, baseDir string) string {
	opts := "{}"
	if m.GoogModule {
		opts = "{'module': 'goog'}"
	}
	return fmt.Sprintf("goog.addDependency('%s', %s, %s, %s);",
		relativeTo(baseDir, m.Path), jsList(m.Provides), jsList(m.Requires), opts)
}

// relativeTo returns target relative to dir, both slash-separated and
// relative to the same root.
func relativeTo(dir, target string) string {
	if dir == "" || dir == "." {
		return target
	}
	from := strings.Split(path.Clean(dir), "/")
	to := strings.Split(path.Clean(target), "/")

	common := 0
	for common < len(from) && common < len(to)-1 && from[common] == to[common] {
		common++
	}

	parts := make([]string, 0, len(from)-common+len(to)-common)
	for range from[common:] {
		parts = append(parts, "..")
	}
	parts = append(parts, to[common:]...)
	return strings.Join(parts, "/")
}

func jsList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "'" + n + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

const loaderPrologue = `
this.IS_NODE_JS = !!(typeof module !== 'undefined' && module.exports);

this.BLOCKLY_DIR = (function(root) {
  if (!root.IS_NODE_JS) {
    // Find name of current directory.
    var scripts = document.getElementsByTagName('script');
    var re = new RegExp('(.+)[\/]blockly_(.*)uncompressed\.js$');
    for (var i = 0, script; script = scripts[i]; i++) {
      var match = re.exec(script.src);
      if (match) {
        return match[1];
      }
    }
    alert('Could not detect Blockly\'s directory name.');
  }
  return '';
})(this);

this.BLOCKLY_BOOT = function(root) {
  // Execute after Closure has loaded.
`

const loaderEpilogue = `
delete root.BLOCKLY_DIR;
delete root.BLOCKLY_BOOT;
delete root.IS_NODE_JS;
};

if (this.IS_NODE_JS) {
  this.BLOCKLY_BOOT(this);
  module.exports = Blockly;
} else {
  document.write('<script src="' + this.BLOCKLY_DIR +
      '%s"></script>');
  document.write('<script>this.BLOCKLY_BOOT(this);</script>');
}
`
