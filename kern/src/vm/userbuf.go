package vm

import (
	"sync"

	"bounds"
	"defs"
	"res"
)

// Userbuf_t assists reading and writing user memory through the page
// fault path rather than a raw pointer, so a fault partway through a
// large copy is resolved exactly like any other fault instead of
// panicking the kernel.
type Userbuf_t struct {
	userva int
	len    int
	off    int
	as     *Vm_t
}

// Ub_init initializes the buffer for the given address space.
func (ub *Userbuf_t) Ub_init(as *Vm_t, uva, length int) {
	if length < 0 {
		panic("negative length")
	}
	ub.userva = uva
	ub.len = length
	ub.off = 0
	ub.as = as
}

// Remain returns the number of unread bytes left in the buffer.
func (ub *Userbuf_t) Remain() int { return ub.len - ub.off }

// Totalsz reports the total size of the buffer in bytes.
func (ub *Userbuf_t) Totalsz() int { return ub.len }

// Uioread copies data from user memory into dst.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	return ub.tx(dst, false)
}

// Uiowrite copies data from src into user memory.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	return ub.tx(src, true)
}

// tx copies the min of either the provided buffer or the buffer's
// remaining length, one page-resolved access at a time so a fault midway
// leaves the buffer's offset in a restartable state. Each access faults
// the page in (Fault serializes against the address space itself) and
// then moves the bytes through the resolved frame.
func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		if !res.Resadd_noblock(bounds.B_USERBUF_T__TX) {
			return ret, defs.ENOHEAP
		}
		va := uintptr(ub.userva + ub.off)
		flags := FaultPresent | FaultUser
		if write {
			flags |= FaultWrite
		}
		if err := ub.as.Fault(va, flags); err != 0 {
			res.Resgive(bounds.B_USERBUF_T__TX)
			return ret, err
		}
		res.Resgive(bounds.B_USERBUF_T__TX)

		pgoff := int(va % PageSize)
		n := PageSize - pgoff
		if n > len(buf) {
			n = len(buf)
		}
		if n > ub.len-ub.off {
			n = ub.len - ub.off
		}
		pte, ok := ub.as.Pmap.Walk(va)
		if !ok {
			return ret, defs.EFAULT
		}
		pg := ub.as.phys.PageBytes(pte.Pfn)
		if write {
			copy(pg[pgoff:pgoff+n], buf[:n])
		} else {
			copy(buf[:n], pg[pgoff:pgoff+n])
		}
		buf = buf[n:]
		ub.off += n
		ret += n
	}
	return ret, 0
}

type ioVec struct {
	uva uintptr
	sz  int
}

// Useriovec_t represents a sequence of user buffers.
type Useriovec_t struct {
	iovs []ioVec
	tsz  int
	as   *Vm_t
}

// Iov_init records niovs buffers, each described by (uva, sz), against as.
func (iov *Useriovec_t) Iov_init(as *Vm_t, bufs []struct {
	Uva uintptr
	Sz  int
}) defs.Err_t {
	if len(bufs) > 10 {
		return defs.EINVAL
	}
	iov.tsz = 0
	iov.iovs = make([]ioVec, len(bufs))
	iov.as = as
	for i, b := range bufs {
		iov.iovs[i] = ioVec{uva: b.Uva, sz: b.Sz}
		iov.tsz += b.Sz
	}
	return 0
}

// Remain returns the number of bytes remaining across all iovecs.
func (iov *Useriovec_t) Remain() int {
	ret := 0
	for i := range iov.iovs {
		ret += iov.iovs[i].sz
	}
	return ret
}

// Totalsz returns the total number of bytes described by the iovec array.
func (iov *Useriovec_t) Totalsz() int { return iov.tsz }

func (iov *Useriovec_t) tx(buf []uint8, touser bool) (int, defs.Err_t) {
	ub := &Userbuf_t{}
	did := 0
	for len(buf) > 0 && len(iov.iovs) > 0 {
		if !res.Resadd_noblock(bounds.B_USERIOVEC_T__TX) {
			return did, defs.ENOHEAP
		}
		cur := &iov.iovs[0]
		ub.Ub_init(iov.as, int(cur.uva), cur.sz)
		var c int
		var err defs.Err_t
		if touser {
			c, err = ub.tx(buf, true)
		} else {
			c, err = ub.tx(buf, false)
		}
		res.Resgive(bounds.B_USERIOVEC_T__TX)
		cur.uva += uintptr(c)
		cur.sz -= c
		if cur.sz == 0 {
			iov.iovs = iov.iovs[1:]
		}
		buf = buf[c:]
		did += c
		if err != 0 {
			return did, err
		}
	}
	return did, 0
}

// Uioread reads into dst from the set of user buffers.
func (iov *Useriovec_t) Uioread(dst []uint8) (int, defs.Err_t) {
	return iov.tx(dst, false)
}

// Uiowrite writes src to the user buffers.
func (iov *Useriovec_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	return iov.tx(src, true)
}

// Fakeubuf_t implements the same interface as Userbuf_t but operates on a
// kernel buffer, used when the kernel needs to treat internal memory like
// user memory (for code paths shared between the two).
type Fakeubuf_t struct {
	fbuf []uint8
	len  int
}

// Fake_init sets up the fake buffer with the provided slice.
func (fb *Fakeubuf_t) Fake_init(buf []uint8) {
	fb.fbuf = buf
	fb.len = len(fb.fbuf)
}

func (fb *Fakeubuf_t) Remain() int   { return len(fb.fbuf) }
func (fb *Fakeubuf_t) Totalsz() int  { return fb.len }

func (fb *Fakeubuf_t) tx(buf []uint8, tofbuf bool) (int, defs.Err_t) {
	var c int
	if tofbuf {
		c = copy(fb.fbuf, buf)
	} else {
		c = copy(buf, fb.fbuf)
	}
	fb.fbuf = fb.fbuf[c:]
	return c, 0
}

func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t)  { return fb.tx(dst, false) }
func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) { return fb.tx(src, true) }

// Ubpool provides reusable Userbuf_t structures to reduce allocations
// under load.
var Ubpool = sync.Pool{New: func() any { return new(Userbuf_t) }}
