package scf

import (
	"errors"
	"io"
	"os"
	"sort"
	"sync"
)

const (
	writerPadBufSize  = 4096
	writerCopyBufSize = 1 << 20 // 1 MiB
)

// Writer builds an SCF file in a streaming fashion.
//
// The writer reserves space for the header up-front and patches it
// during Finalise. Large payloads (the ONNX graph) should go through
// WriteSectionFromReader to avoid buffering them in memory.
type Writer struct {
	f        *os.File
	sections []Section
	seen     map[SectionType]struct{}
	closed   bool

	padBuf  []byte
	copyBuf []byte

	mu sync.Mutex
}

// NewWriter creates a new SCF writer targeting the given file.
// It truncates the file and reserves space for the header.
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("scf: nil file")
	}

	// Make sure we always produce a file whose on-disk size matches header.FileSize.
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	w := &Writer{
		f:      f,
		seen:   make(map[SectionType]struct{}),
		padBuf: make([]byte, writerPadBufSize),
	}

	// Reserve fixed header bytes (actual bytes, not a seek hole).
	if err := w.writeZeros(scfHeaderSize); err != nil {
		return nil, err
	}

	// Keep the first section aligned for consumers that cast payloads.
	if err := w.alignTo(scfAlign); err != nil {
		return nil, err
	}

	return w, nil
}

// WriteSection writes a section payload and records it in the section table.
// Sections may be written in any order. A section type may only be written once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("scf: writer already finalised")
	}
	if _, ok := w.seen[typ]; ok {
		return errors.New("scf: duplicate section type")
	}

	// Align each section start for clean mmapping.
	if err := w.alignTo(scfAlign); err != nil {
		return err
	}

	offset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	if len(data) > 0 {
		if err := writeFull(w.f, data); err != nil {
			return err
		}
	}

	w.sections = append(w.sections, Section{
		Type:    uint32(typ),
		Version: version,
		Offset:  uint64(offset),
		Size:    uint64(len(data)),
	})
	w.seen[typ] = struct{}{}
	return nil
}

// WriteSectionFromReader copies the section payload from r into the file.
func (w *Writer) WriteSectionFromReader(typ SectionType, version uint32, r io.Reader) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.New("scf: writer already finalised")
	}
	if r == nil {
		return 0, errors.New("scf: nil reader")
	}
	if _, ok := w.seen[typ]; ok {
		return 0, errors.New("scf: duplicate section type")
	}

	if err := w.alignTo(scfAlign); err != nil {
		return 0, err
	}

	offset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	if w.copyBuf == nil {
		w.copyBuf = make([]byte, writerCopyBufSize)
	}
	written, err := io.CopyBuffer(w.f, r, w.copyBuf)
	if err != nil {
		return 0, err
	}

	w.sections = append(w.sections, Section{
		Type:    uint32(typ),
		Version: version,
		Offset:  uint64(offset),
		Size:    uint64(written),
	})
	w.seen[typ] = struct{}{}
	return uint64(written), nil
}

// Finalise writes the section directory and patches the header.
// After Finalise, the writer must not be used again.
func (w *Writer) Finalise() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("scf: writer already finalised")
	}
	w.closed = true

	// Deterministic directory ordering.
	sort.Slice(w.sections, func(i, j int) bool {
		return w.sections[i].Type < w.sections[j].Type
	})

	// Align section directory start.
	if err := w.alignTo(scfAlign); err != nil {
		return err
	}

	sectionDirOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	// Write section directory using explicit little-endian encoding.
	var secBuf [scfSectionSize]byte
	for i := range w.sections {
		if !encodeSection(secBuf[:], w.sections[i]) {
			return errors.New("scf: encode section failed")
		}
		if err := writeFull(w.f, secBuf[:]); err != nil {
			return err
		}
	}

	// Compute final file size and truncate to it (critical if target file was reused).
	fileSize, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := w.f.Truncate(fileSize); err != nil {
		return err
	}

	var header Header
	copy(header.Magic[:], Magic)
	header.Major = CurrentMajor
	header.Minor = CurrentMinor
	header.HeaderSize = scfHeaderSize
	header.SectionCount = uint32(len(w.sections))
	header.SectionDirOffset = uint64(sectionDirOffset)
	header.FileSize = uint64(fileSize)

	// Patch header at start of file.
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdrBuf [scfHeaderSize]byte
	if !encodeHeader(hdrBuf[:], header) {
		return errors.New("scf: encode header failed")
	}
	if err := writeFull(w.f, hdrBuf[:]); err != nil {
		return err
	}

	return w.f.Sync()
}

func (w *Writer) alignTo(n int64) error {
	if n <= 1 {
		return nil
	}
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	mod := pos % n
	if mod == 0 {
		return nil
	}
	pad := int(n - mod)
	return w.writeZeros(pad)
}

func (w *Writer) writeZeros(n int) error {
	if n <= 0 {
		return nil
	}
	buf := w.padBuf
	if len(buf) == 0 {
		buf = make([]byte, 4096)
	}
	for n > 0 {
		toWrite := min(n, len(buf))
		if err := writeFull(w.f, buf[:toWrite]); err != nil {
			return err
		}
		n -= toWrite
	}
	return nil
}
