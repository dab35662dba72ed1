// Package ustr provides the kernel's byte-string name type. Subsystems
// that come up before the heap does (resource arenas, slab zones) still
// want printable names, so a name is a plain byte slice truncated in
// place rather than a Go string assembled at run time.
package ustr

// Ustr is an immutable byte string naming a kernel object.
type Ustr []uint8

// MkUstr returns the empty name.
func MkUstr() Ustr {
	return Ustr{}
}

// MkUstrSlice truncates a fixed-size name buffer at its first NUL, the
// form names arrive in from boot-time tables.
func MkUstrSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return buf[:i]
		}
	}
	return buf
}

// MkUstrNum renders v in decimal.
func MkUstrNum(v uint64) Ustr {
	if v == 0 {
		return Ustr{'0'}
	}
	var buf [20]uint8
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = uint8('0' + v%10)
		v /= 10
	}
	return Ustr(buf[i:])
}

// Eq reports whether us and s contain identical bytes.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// Extend returns a new name of the form "us-suffix", leaving us itself
// untouched; derived objects (a slab zone named after its cache) build
// their names this way.
func (us Ustr) Extend(suffix Ustr) Ustr {
	tmp := make(Ustr, len(us), len(us)+1+len(suffix))
	copy(tmp, us)
	tmp = append(tmp, '-')
	return append(tmp, suffix...)
}

// ExtendNum returns "us-<n>", the naming scheme of size-class zones.
func (us Ustr) ExtendNum(n uint64) Ustr {
	return us.Extend(MkUstrNum(n))
}

// IndexByte returns the index of b in the name, or -1 if not present.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String converts the name for diagnostic output.
func (us Ustr) String() string {
	return string(us)
}
