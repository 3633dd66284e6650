// Package bpath canonicalizes paths in the Ustr representation used
// throughout the kernel. It did not survive retrieval from the teacher
// repository even though fd.Cwd_t.Canonicalpath calls bpath.Canonicalize;
// rebuilt here in ustr's own idiom (byte-slice manipulation, component
// splitting via Ustr.Split) rather than by round-tripping through
// path/filepath and Go strings.
package bpath

import "ustr"

// Canonicalize resolves '.' and '..' components and collapses repeated
// slashes, returning an absolute path. Callers (fd.Cwd_t.Fullpath) are
// expected to have already prefixed a relative path with the current
// working directory, so path here is taken as already rooted.
func Canonicalize(path ustr.Ustr) ustr.Ustr {
	comps := path.Split()

	var out []ustr.Ustr
	for _, c := range comps {
		switch {
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}

	ret := ustr.Ustr{'/'}
	for i, c := range out {
		if i > 0 {
			ret = append(ret, '/')
		}
		ret = append(ret, c...)
	}
	return ret
}

// Split is a thin re-export of Ustr.Split kept here so callers that only
// import bpath for path manipulation don't also need ustr.
func Split(path ustr.Ustr) []ustr.Ustr {
	return path.Split()
}

// Join concatenates a directory path and a single component.
func Join(dir, name ustr.Ustr) ustr.Ustr {
	if dir.Eq(ustr.MkUstrRoot()) {
		return append(ustr.Ustr{'/'}, name...)
	}
	return dir.Extend(name)
}
