// Package hashtable implements the address-keyed hash table the kernel
// indexes allocated resources with: reads are lock-free, writers take a
// per-bucket lock, and every bucket's chain is kept sorted by hash so
// inserts and deletes stop early. The resource allocator uses one to
// find an allocated segment from nothing but its base address when the
// segment is freed.
package hashtable

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

type elem_t struct {
	key     uintptr
	value   any
	keyHash uint32
	next    *elem_t
}

type bucket_t struct {
	sync.Mutex
	first *elem_t
}

// Hashtable_t maps addresses to values across a fixed set of buckets.
type Hashtable_t struct {
	table []*bucket_t
}

// MkHash allocates a table with size buckets.
func MkHash(size int) *Hashtable_t {
	ht := &Hashtable_t{table: make([]*bucket_t, size)}
	for i := range ht.table {
		ht.table[i] = &bucket_t{}
	}
	return ht
}

// Pair_t is one key/value tuple returned by Elems.
type Pair_t struct {
	Key   uintptr
	Value any
}

func (ht *Hashtable_t) bucket(kh uint32) *bucket_t {
	return ht.table[int(kh%uint32(len(ht.table)))]
}

// Get looks key up without taking any lock; safe against concurrent
// Set/Del because chain pointers are only ever published whole, via
// storeptr.
func (ht *Hashtable_t) Get(key uintptr) (any, bool) {
	kh := khash(key)
	for e := loadptr(&ht.bucket(kh).first); e != nil; e = loadptr(&e.next) {
		if e.keyHash == kh && e.key == key {
			return e.value, true
		}
	}
	return nil, false
}

// Set inserts key/value, keeping the bucket chain sorted by hash. It
// returns the existing value and false if key was already present.
func (ht *Hashtable_t) Set(key uintptr, value any) (any, bool) {
	kh := khash(key)
	b := ht.bucket(kh)
	b.Lock()
	defer b.Unlock()

	add := func(last *elem_t) {
		if last == nil {
			storeptr(&b.first, &elem_t{key: key, value: value, keyHash: kh, next: b.first})
		} else {
			storeptr(&last.next, &elem_t{key: key, value: value, keyHash: kh, next: last.next})
		}
	}

	var last *elem_t
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && e.key == key {
			return e.value, false
		}
		if kh < e.keyHash {
			break
		}
		last = e
	}
	add(last)
	return value, true
}

// Del removes key; deleting a key that was never inserted is a caller
// bug and panics.
func (ht *Hashtable_t) Del(key uintptr) {
	kh := khash(key)
	b := ht.bucket(kh)
	b.Lock()
	defer b.Unlock()

	var last *elem_t
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && e.key == key {
			if last == nil {
				storeptr(&b.first, e.next)
			} else {
				storeptr(&last.next, e.next)
			}
			return
		}
		if kh < e.keyHash {
			break
		}
		last = e
	}
	panic("hashtable: del of non-existing key")
}

// Size counts the stored elements.
func (ht *Hashtable_t) Size() int {
	n := 0
	for _, b := range ht.table {
		b.Lock()
		for e := b.first; e != nil; e = e.next {
			n++
		}
		b.Unlock()
	}
	return n
}

// Elems returns every key/value pair currently stored.
func (ht *Hashtable_t) Elems() []Pair_t {
	var p []Pair_t
	for _, b := range ht.table {
		b.Lock()
		for e := b.first; e != nil; e = e.next {
			p = append(p, Pair_t{Key: e.key, Value: e.value})
		}
		b.Unlock()
	}
	return p
}

// Iter applies f to each pair, stopping early (and reporting true) the
// first time f returns true.
func (ht *Hashtable_t) Iter(f func(uintptr, any) bool) bool {
	for _, b := range ht.table {
		for e := loadptr(&b.first); e != nil; e = loadptr(&e.next) {
			if f(e.key, e.value) {
				return true
			}
		}
	}
	return false
}

// khash scrambles an address key. Bases handed out by the allocators
// are page- or quantum-aligned, so the low bits carry no entropy until
// multiplied through.
func khash(key uintptr) uint32 {
	h := uint64(key) * 0x9e3779b97f4a7c15
	return uint32(h >> 32)
}

// Chain pointers are read lock-free by Get, so every pointer a reader
// can follow is published with StorePointer; whether that is sufficient
// without a memory fence is architecture-dependent, and holds on the
// amd64 ordering model this kernel targets.
func loadptr(e **elem_t) *elem_t {
	ptr := (*unsafe.Pointer)(unsafe.Pointer(e))
	return (*elem_t)(atomic.LoadPointer(ptr))
}

func storeptr(p **elem_t, n *elem_t) {
	ptr := (*unsafe.Pointer)(unsafe.Pointer(p))
	atomic.StorePointer(ptr, unsafe.Pointer(n))
}
