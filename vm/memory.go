package vm

import "encoding/binary"

// StackSize is the default stack reservation in bytes (spec.md §6).
const StackSize uint32 = 4096

// heapBase separates Malloc handles from memory-image addresses. A
// handle is never aliased against the bounds-checked image, closing
// the VM's address space per spec.md §9: "Malloc returns opaque
// handles from a side table keyed by integer IDs, not real addresses".
const heapBase uint32 = 0x40000000

// Memory is the VM's byte-addressed image: the assembled data blob
// followed by STACK_SIZE bytes of stack, per spec.md §3.4. Unlike the
// original source (which stores live host pointers in registers and
// dereferences them directly), every access here goes through
// translate, which is the single point that can raise BadAddress.
type Memory struct {
	bytes []byte
	heap  map[uint32][]byte
	next  uint32
}

// NewMemory builds the image for a freshly compiled program: data at
// offset 0, followed by stackSize bytes of zero-filled stack.
func NewMemory(data []byte, stackSize uint32) *Memory {
	bytes := make([]byte, uint32(len(data))+stackSize)
	copy(bytes, data)
	return &Memory{bytes: bytes, heap: make(map[uint32][]byte), next: heapBase}
}

// Len is the size of the addressable image (data blob + stack),
// excluding any Malloc'd heap handles.
func (m *Memory) Len() uint32 {
	return uint32(len(m.bytes))
}

// translate resolves addr to a byte slice of the requested width,
// whether addr falls inside the image or inside a live Malloc
// allocation. It is the sole gate for out-of-range accesses.
func (m *Memory) translate(addr uint32, width Width) ([]byte, error) {
	n := width.Bytes()
	if addr < uint32(len(m.bytes)) {
		end := uint64(addr) + uint64(n)
		if end > uint64(len(m.bytes)) {
			return nil, ErrBadAddress
		}
		return m.bytes[addr:end], nil
	}

	for base, alloc := range m.heap {
		if addr >= base && addr-base < uint32(len(alloc)) {
			off := addr - base
			end := uint64(off) + uint64(n)
			if end > uint64(len(alloc)) {
				return nil, ErrBadAddress
			}
			return alloc[off:end], nil
		}
	}

	return nil, ErrBadAddress
}

// ReadWidth reads a width-sized little-endian value at addr.
func (m *Memory) ReadWidth(addr uint32, width Width) (uint32, error) {
	b, err := m.translate(addr, width)
	if err != nil {
		return 0, err
	}
	switch width {
	case Width8:
		return uint32(b[0]), nil
	case Width16:
		return uint32(binary.LittleEndian.Uint16(b)), nil
	default:
		return binary.LittleEndian.Uint32(b), nil
	}
}

// WriteWidth writes a width-sized little-endian value at addr.
func (m *Memory) WriteWidth(addr uint32, width Width, value uint32) error {
	b, err := m.translate(addr, width)
	if err != nil {
		return err
	}
	switch width {
	case Width8:
		b[0] = byte(value)
	case Width16:
		binary.LittleEndian.PutUint16(b, uint16(value))
	default:
		binary.LittleEndian.PutUint32(b, value)
	}
	return nil
}

// ReadCString reads bytes starting at addr until (and excluding) the
// first NUL, for PrintStr.
func (m *Memory) ReadCString(addr uint32) ([]byte, error) {
	var out []byte
	for {
		b, err := m.translate(addr, Width8)
		if err != nil {
			return nil, err
		}
		if b[0] == 0 {
			return out, nil
		}
		out = append(out, b[0])
		addr++
	}
}

// Malloc allocates size bytes from the host allocator and returns a
// handle to store in R0. The allocation escapes the VM's
// bounds-checked image, as spec.md §4.3 requires.
func (m *Memory) Malloc(size uint32) uint32 {
	handle := m.next
	if size == 0 {
		size = 1
	}
	m.next += size
	m.heap[handle] = make([]byte, size)
	return handle
}

// Free releases the allocation at handle. Freeing anything not
// returned by Malloc (or already freed) raises BadFree — redesigned
// per spec.md §9 from the original source's unchecked "undefined
// behaviour" into a checked runtime fault.
func (m *Memory) Free(handle uint32) error {
	if _, ok := m.heap[handle]; !ok {
		return ErrBadFree
	}
	delete(m.heap, handle)
	return nil
}
