package gguf

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
)

// Writer assembles a GGUF image in memory. Metadata keys and tensors are
// written in the order they were added; tensors are stored as F32.
type Writer struct {
	metadata []Metadata
	keys     map[string]int
	tensors  []writerTensor
	names    map[string]bool
}

type writerTensor struct {
	name  string
	shape []int
	data  []float64
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{keys: make(map[string]int), names: make(map[string]bool)}
}

func (w *Writer) set(key string, typ MetadataValueType, v interface{}) {
	md := Metadata{Key: key, Type: typ, Value: v}
	if i, ok := w.keys[key]; ok {
		w.metadata[i] = md
		return
	}
	w.keys[key] = len(w.metadata)
	w.metadata = append(w.metadata, md)
}

// SetString sets a string metadata value.
func (w *Writer) SetString(key, v string) { w.set(key, MetadataString, v) }

// SetUint32 sets an unsigned integer metadata value.
func (w *Writer) SetUint32(key string, v uint32) { w.set(key, MetadataUint32, v) }

// SetBool sets a boolean metadata value.
func (w *Writer) SetBool(key string, v bool) { w.set(key, MetadataBool, v) }

// SetFloat32 sets a float metadata value.
func (w *Writer) SetFloat32(key string, v float32) { w.set(key, MetadataFloat32, v) }

// SetStrings sets a string array metadata value.
func (w *Writer) SetStrings(key string, v []string) {
	w.set(key, MetadataArray, append([]string(nil), v...))
}

// AddTensor appends a row-major tensor. data must hold exactly the product
// of shape elements.
func (w *Writer) AddTensor(name string, shape []int, data []float64) error {
	if w.names[name] {
		return fmt.Errorf("duplicate tensor %s", name)
	}
	if len(shape) == 0 || len(shape) > 4 {
		return fmt.Errorf("tensor %s: invalid dimension count %d", name, len(shape))
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return fmt.Errorf("tensor %s: invalid shape %v", name, shape)
		}
		n *= d
	}
	if n != len(data) {
		return fmt.Errorf("tensor %s: shape %v needs %d values, got %d", name, shape, n, len(data))
	}
	w.names[name] = true
	w.tensors = append(w.tensors, writerTensor{name: name, shape: append([]int(nil), shape...), data: data})
	return nil
}

// Bytes returns the encoded image.
func (w *Writer) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile encodes the image to path.
func (w *Writer) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if _, err := w.WriteTo(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteTo implements io.WriterTo.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	e := &encoder{w: out}

	e.u32(GGUFMagic)
	e.u32(GGUFVersion)
	e.u64(uint64(len(w.tensors)))
	e.u64(uint64(len(w.metadata)))

	for _, md := range w.metadata {
		e.str(md.Key)
		e.u32(uint32(md.Type))
		e.value(md.Type, md.Value)
	}

	offset := 0
	for _, t := range w.tensors {
		e.str(t.name)
		e.u32(uint32(len(t.shape)))
		for i := len(t.shape) - 1; i >= 0; i-- {
			e.u64(uint64(t.shape[i]))
		}
		e.u32(uint32(DTypeF32))
		e.u64(uint64(offset))
		offset = align(offset+4*len(t.data), Alignment)
	}

	e.pad()
	for _, t := range w.tensors {
		for _, v := range t.data {
			e.u32(math.Float32bits(float32(v)))
		}
		e.pad()
	}
	return e.n, e.err
}

// encoder tracks the running offset so padding can be computed.
type encoder struct {
	w   io.Writer
	n   int64
	err error
	buf [8]byte
}

func (e *encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	n, err := e.w.Write(p)
	e.n += int64(n)
	e.err = err
}

func (e *encoder) u32(v uint32) {
	byteOrder.PutUint32(e.buf[:4], v)
	e.write(e.buf[:4])
}

func (e *encoder) u64(v uint64) {
	byteOrder.PutUint64(e.buf[:8], v)
	e.write(e.buf[:8])
}

func (e *encoder) str(s string) {
	e.u64(uint64(len(s)))
	e.write([]byte(s))
}

func (e *encoder) pad() {
	if rem := int(e.n) % Alignment; rem != 0 {
		e.write(make([]byte, Alignment-rem))
	}
}

func (e *encoder) value(typ MetadataValueType, v interface{}) {
	switch typ {
	case MetadataString:
		e.str(v.(string))
	case MetadataUint32:
		e.u32(v.(uint32))
	case MetadataFloat32:
		e.u32(math.Float32bits(v.(float32)))
	case MetadataBool:
		if v.(bool) {
			e.write([]byte{1})
		} else {
			e.write([]byte{0})
		}
	case MetadataArray:
		arr := v.([]string)
		e.u32(uint32(MetadataString))
		e.u64(uint64(len(arr)))
		for _, s := range arr {
			e.str(s)
		}
	default:
		if e.err == nil {
			e.err = fmt.Errorf("unsupported metadata type %d", typ)
		}
	}
}
