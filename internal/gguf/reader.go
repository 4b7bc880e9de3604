package gguf

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/mmap"
)

// ErrTruncated is returned when the container ends before a declared field.
var ErrTruncated = errors.New("gguf: truncated file")

// Reader provides read access to a GGUF image, either memory-mapped from a
// file or held in memory.
type Reader struct {
	path     string
	mmap     *mmap.ReaderAt
	data     []byte
	header   Header
	metadata map[string]Metadata
	tensors  map[string]*TensorDesc
	order    []string // tensor names in file order
	dataOff  int64    // offset where tensor data begins
}

// TensorDesc describes a tensor with its location in the image.
// Shape is row-major (outermost dimension first).
type TensorDesc struct {
	Name   string
	DType  DType
	Shape  []int
	Offset int64 // relative to the data section
	Size   int64 // size in bytes
}

// NumElements returns the product of the shape.
func (d *TensorDesc) NumElements() int {
	n := 1
	for _, s := range d.Shape {
		n *= s
	}
	return n
}

// Open memory-maps a GGUF file and parses its header, metadata and tensor
// directory.
func Open(path string) (*Reader, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	data := make([]byte, m.Len())
	if _, err := m.ReadAt(data, 0); err != nil {
		m.Close()
		return nil, fmt.Errorf("read mmap: %w", err)
	}

	r := newReader(data)
	r.path = path
	r.mmap = m
	if err := r.parse(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// OpenBytes parses an in-memory GGUF image. The slice must not be modified
// while the reader is in use.
func OpenBytes(data []byte) (*Reader, error) {
	r := newReader(data)
	if err := r.parse(); err != nil {
		return nil, err
	}
	return r, nil
}

func newReader(data []byte) *Reader {
	return &Reader{
		data:     data,
		metadata: make(map[string]Metadata),
		tensors:  make(map[string]*TensorDesc),
	}
}

// Close releases the mapping. It is a no-op for in-memory readers.
func (r *Reader) Close() error {
	if r.mmap == nil {
		return nil
	}
	err := r.mmap.Close()
	r.mmap = nil
	return err
}

// Path returns the file the reader was opened from, or "" for OpenBytes.
func (r *Reader) Path() string { return r.path }

// need fails unless n bytes are available at offset.
func (r *Reader) need(offset, n int) error {
	if offset < 0 || n < 0 || offset+n > len(r.data) || offset+n < offset {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, offset, len(r.data))
	}
	return nil
}

// parse reads the GGUF header, metadata, and tensor info
func (r *Reader) parse() error {
	offset := 0

	if err := r.need(0, 24); err != nil {
		return fmt.Errorf("header: %w", err)
	}

	r.header.Magic = byteOrder.Uint32(r.data[offset:])
	offset += 4
	if r.header.Magic != GGUFMagic {
		return fmt.Errorf("invalid magic: 0x%08x", r.header.Magic)
	}

	r.header.Version = byteOrder.Uint32(r.data[offset:])
	offset += 4
	if r.header.Version != GGUFVersion {
		return fmt.Errorf("unsupported version: %d", r.header.Version)
	}

	r.header.TensorCount = byteOrder.Uint64(r.data[offset:])
	offset += 8

	r.header.MetadataKVSize = byteOrder.Uint64(r.data[offset:])
	offset += 8

	for i := uint64(0); i < r.header.MetadataKVSize; i++ {
		md, n, err := r.readMetadata(offset)
		if err != nil {
			return fmt.Errorf("read metadata %d: %w", i, err)
		}
		r.metadata[md.Key] = md
		offset += n
	}

	for i := uint64(0); i < r.header.TensorCount; i++ {
		ti, n, err := r.readTensorInfo(offset)
		if err != nil {
			return fmt.Errorf("read tensor info %d: %w", i, err)
		}
		offset += n

		elemSize := ti.DType.ElementSize()
		if elemSize == 0 {
			return fmt.Errorf("tensor %s: unsupported dtype %s", ti.Name, ti.DType)
		}

		// ggml stores the innermost dimension first.
		shape := make([]int, len(ti.Dims))
		total := int64(1)
		for j, dim := range ti.Dims {
			shape[len(ti.Dims)-1-j] = int(dim)
			total *= int64(dim)
		}

		if _, dup := r.tensors[ti.Name]; dup {
			return fmt.Errorf("duplicate tensor %s", ti.Name)
		}
		r.tensors[ti.Name] = &TensorDesc{
			Name:   ti.Name,
			DType:  ti.DType,
			Shape:  shape,
			Offset: int64(ti.Offset),
			Size:   total * int64(elemSize),
		}
		r.order = append(r.order, ti.Name)
	}

	r.dataOff = int64(align(offset, Alignment))

	for _, name := range r.order {
		desc := r.tensors[name]
		if end := r.dataOff + desc.Offset + desc.Size; end > int64(len(r.data)) {
			return fmt.Errorf("tensor %s: %w", name, ErrTruncated)
		}
	}
	return nil
}

func (r *Reader) readString(offset int) (string, int, error) {
	if err := r.need(offset, 8); err != nil {
		return "", offset, err
	}
	n := byteOrder.Uint64(r.data[offset:])
	offset += 8
	if n > uint64(len(r.data)) {
		return "", offset, fmt.Errorf("%w: string length %d", ErrTruncated, n)
	}
	if err := r.need(offset, int(n)); err != nil {
		return "", offset, err
	}
	return string(r.data[offset : offset+int(n)]), offset + int(n), nil
}

// readMetadata reads a single metadata key-value pair
func (r *Reader) readMetadata(offset int) (Metadata, int, error) {
	start := offset
	md := Metadata{}

	var err error
	if md.Key, offset, err = r.readString(offset); err != nil {
		return md, 0, err
	}

	if err := r.need(offset, 4); err != nil {
		return md, 0, err
	}
	md.Type = MetadataValueType(byteOrder.Uint32(r.data[offset:]))
	offset += 4

	md.Value, offset, err = r.readMetadataValue(offset, md.Type)
	if err != nil {
		return md, 0, fmt.Errorf("%s: %w", md.Key, err)
	}

	return md, offset - start, nil
}

var scalarSize = map[MetadataValueType]int{
	MetadataUint8: 1, MetadataInt8: 1, MetadataBool: 1,
	MetadataUint16: 2, MetadataInt16: 2,
	MetadataUint32: 4, MetadataInt32: 4, MetadataFloat32: 4,
	MetadataUint64: 8, MetadataInt64: 8, MetadataFloat64: 8,
}

// readMetadataValue reads a metadata value
func (r *Reader) readMetadataValue(offset int, typ MetadataValueType) (interface{}, int, error) {
	if n, ok := scalarSize[typ]; ok {
		if err := r.need(offset, n); err != nil {
			return nil, offset, err
		}
	}
	switch typ {
	case MetadataUint8:
		return r.data[offset], offset + 1, nil
	case MetadataInt8:
		return int8(r.data[offset]), offset + 1, nil
	case MetadataUint16:
		return byteOrder.Uint16(r.data[offset:]), offset + 2, nil
	case MetadataInt16:
		return int16(byteOrder.Uint16(r.data[offset:])), offset + 2, nil
	case MetadataUint32:
		return byteOrder.Uint32(r.data[offset:]), offset + 4, nil
	case MetadataInt32:
		return int32(byteOrder.Uint32(r.data[offset:])), offset + 4, nil
	case MetadataFloat32:
		return math.Float32frombits(byteOrder.Uint32(r.data[offset:])), offset + 4, nil
	case MetadataUint64:
		return byteOrder.Uint64(r.data[offset:]), offset + 8, nil
	case MetadataInt64:
		return int64(byteOrder.Uint64(r.data[offset:])), offset + 8, nil
	case MetadataFloat64:
		return math.Float64frombits(byteOrder.Uint64(r.data[offset:])), offset + 8, nil
	case MetadataBool:
		return r.data[offset] != 0, offset + 1, nil
	case MetadataString:
		return r.readString(offset)
	case MetadataArray:
		if err := r.need(offset, 12); err != nil {
			return nil, offset, err
		}
		arrType := MetadataValueType(byteOrder.Uint32(r.data[offset:]))
		offset += 4
		arrLen := byteOrder.Uint64(r.data[offset:])
		offset += 8
		// Every element occupies at least one byte.
		if arrLen > uint64(len(r.data)-offset) {
			return nil, offset, fmt.Errorf("%w: array length %d", ErrTruncated, arrLen)
		}
		arr := make([]interface{}, arrLen)
		for i := uint64(0); i < arrLen; i++ {
			var err error
			arr[i], offset, err = r.readMetadataValue(offset, arrType)
			if err != nil {
				return nil, offset, err
			}
		}
		return arr, offset, nil
	default:
		return nil, offset, fmt.Errorf("unknown metadata type: %d", typ)
	}
}

// readTensorInfo reads tensor information
func (r *Reader) readTensorInfo(offset int) (TensorInfo, int, error) {
	start := offset
	ti := TensorInfo{}

	var err error
	if ti.Name, offset, err = r.readString(offset); err != nil {
		return ti, 0, err
	}

	if err := r.need(offset, 4); err != nil {
		return ti, 0, err
	}
	ti.NDim = byteOrder.Uint32(r.data[offset:])
	offset += 4
	if ti.NDim == 0 || ti.NDim > 4 {
		return ti, 0, fmt.Errorf("tensor %s: invalid dimension count %d", ti.Name, ti.NDim)
	}

	if err := r.need(offset, int(ti.NDim)*8+12); err != nil {
		return ti, 0, err
	}
	ti.Dims = make([]uint64, ti.NDim)
	for i := uint32(0); i < ti.NDim; i++ {
		ti.Dims[i] = byteOrder.Uint64(r.data[offset:])
		offset += 8
	}

	ti.DType = DType(byteOrder.Uint32(r.data[offset:]))
	offset += 4

	ti.Offset = byteOrder.Uint64(r.data[offset:])
	offset += 8

	return ti, offset - start, nil
}

// GetMetadata returns metadata value by key
func (r *Reader) GetMetadata(key string) (interface{}, bool) {
	md, ok := r.metadata[key]
	if !ok {
		return nil, false
	}
	return md.Value, true
}

// MetadataKeys returns all metadata keys in sorted order.
func (r *Reader) MetadataKeys() []string {
	keys := make([]string, 0, len(r.metadata))
	for k := range r.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns a string metadata value.
func (r *Reader) String(key string) (string, bool) {
	v, ok := r.GetMetadata(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Uint32 returns an integer metadata value stored as any unsigned or signed
// 32-bit type.
func (r *Reader) Uint32(key string) (uint32, bool) {
	v, ok := r.GetMetadata(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case uint32:
		return n, true
	case int32:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	default:
		return 0, false
	}
}

// Bool returns a boolean metadata value.
func (r *Reader) Bool(key string) (bool, bool) {
	v, ok := r.GetMetadata(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Float32 returns a float metadata value.
func (r *Reader) Float32(key string) (float32, bool) {
	v, ok := r.GetMetadata(key)
	if !ok {
		return 0, false
	}
	f, ok := v.(float32)
	return f, ok
}

// Strings returns a string array metadata value.
func (r *Reader) Strings(key string) ([]string, bool) {
	v, ok := r.GetMetadata(key)
	if !ok {
		return nil, false
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

// GetTensor returns tensor descriptor by name
func (r *Reader) GetTensor(name string) (*TensorDesc, bool) {
	desc, ok := r.tensors[name]
	return desc, ok
}

// ListTensors returns all tensor names in file order.
func (r *Reader) ListTensors() []string {
	return append([]string(nil), r.order...)
}

// GetTensorData returns a view of the tensor data as a byte slice
func (r *Reader) GetTensorData(name string) ([]byte, error) {
	desc, ok := r.tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor not found: %s", name)
	}

	offset := r.dataOff + desc.Offset
	if offset < 0 || offset+desc.Size > int64(len(r.data)) {
		return nil, fmt.Errorf("tensor data out of bounds: %s", name)
	}

	return r.data[offset : offset+desc.Size], nil
}

// Float64s decodes a tensor into float64 values in row-major order.
func (r *Reader) Float64s(name string) ([]float64, *TensorDesc, error) {
	desc, ok := r.tensors[name]
	if !ok {
		return nil, nil, fmt.Errorf("tensor not found: %s", name)
	}
	data, err := r.GetTensorData(name)
	if err != nil {
		return nil, nil, err
	}
	vals, err := NewTensorView(desc, data).Float64s()
	if err != nil {
		return nil, nil, err
	}
	return vals, desc, nil
}

// Header returns the GGUF header
func (r *Reader) Header() Header {
	return r.header
}
