package vm

import "sync"

const amapChunkPages = 32

// Anon is one logical anonymous page: copy-on-write state shared by every
// region that still refers to it. While Resident, Page names the backing
// frame; otherwise the page has no physical home yet (it reads as zero
// until first touched).
type Anon struct {
	mu       sync.Mutex
	Refcnt   int32
	Resident bool
	Page     uintptr // physical frame number once resident, via mem.Pfn_t
}

// amapChunk holds amapChunkPages consecutive anon slots; amaps grow one
// chunk at a time so a sparsely touched region doesn't pay for anon
// pointers it never uses.
type amapChunk struct {
	anons [amapChunkPages]*Anon
}

// Amap is a sparse array of Anon pointers, one per page offset into the
// object it belongs to, indexed in fixed-size chunks allocated on first
// touch.
type Amap struct {
	mu     sync.Mutex
	chunks map[uintptr]*amapChunk
}

// NewAmap returns an empty amap.
func NewAmap() *Amap {
	return &Amap{chunks: make(map[uintptr]*amapChunk)}
}

// AnonAt returns the anon at page index pgidx, allocating its chunk (but
// not the anon itself) if this is the first reference into that chunk.
func (a *Amap) AnonAt(pgidx uintptr) *Anon {
	a.mu.Lock()
	defer a.mu.Unlock()
	chunkIdx := pgidx / amapChunkPages
	off := pgidx % amapChunkPages
	c, ok := a.chunks[chunkIdx]
	if !ok {
		c = &amapChunk{}
		a.chunks[chunkIdx] = c
	}
	return c.anons[off]
}

// SetAnonAt installs an into the amap at page index pgidx.
func (a *Amap) SetAnonAt(pgidx uintptr, an *Anon) {
	a.mu.Lock()
	defer a.mu.Unlock()
	chunkIdx := pgidx / amapChunkPages
	off := pgidx % amapChunkPages
	c, ok := a.chunks[chunkIdx]
	if !ok {
		c = &amapChunk{}
		a.chunks[chunkIdx] = c
	}
	c.anons[off] = an
}

// Each calls fn once for every populated anon in the amap, with the page
// index it was installed at. Used by Fork to find which physical frames
// need their existing mappings downgraded after amap_copy shares them.
func (a *Amap) Each(fn func(pgidx uintptr, an *Anon)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for chunkIdx, c := range a.chunks {
		for off, an := range c.anons {
			if an != nil {
				fn(chunkIdx*amapChunkPages+uintptr(off), an)
			}
		}
	}
}

// Copy is amap_copy: it returns a new amap whose slots reference the same
// anons, each with its reference count incremented, so the copy shares
// every populated page copy-on-write instead of duplicating it. Either
// side's first write then replaces the anon in its own amap only.
func (a *Amap) Copy() *Amap {
	a.mu.Lock()
	defer a.mu.Unlock()
	na := NewAmap()
	for chunkIdx, c := range a.chunks {
		nc := &amapChunk{}
		for off, an := range c.anons {
			if an == nil {
				continue
			}
			an.mu.Lock()
			an.Refcnt++
			an.mu.Unlock()
			nc.anons[off] = an
		}
		na.chunks[chunkIdx] = nc
	}
	return na
}
