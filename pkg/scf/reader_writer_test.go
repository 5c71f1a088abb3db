package scf

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenReaderAtRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.scf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteSection(SectionModelInfo, 1, []byte("model-info")); err != nil {
		t.Fatalf("write model info: %v", err)
	}
	if err := w.WriteSection(SectionModelData, 1, []byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("write model data: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close writer file: %v", err)
	}

	rf, err := os.Open(path)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer func() { _ = rf.Close() }()

	st, err := rf.Stat()
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	mf, err := OpenReaderAt(rf, st.Size())
	if err != nil {
		t.Fatalf("open readerat: %v", err)
	}
	defer func() {
		if cerr := mf.Close(); cerr != nil {
			t.Fatalf("close scf file: %v", cerr)
		}
	}()

	if mf.mmapped {
		t.Fatalf("OpenReaderAt should not mmap")
	}
	if mf.Header == nil {
		t.Fatalf("missing header")
	}
	if mf.Header.HeaderSize != scfHeaderSize {
		t.Fatalf("header size mismatch: got %d want %d", mf.Header.HeaderSize, scfHeaderSize)
	}

	infoSec := mf.Section(SectionModelInfo)
	if infoSec == nil {
		t.Fatalf("missing model info section")
	}
	got := mf.SectionData(infoSec)
	if !bytes.Equal(got, []byte("model-info")) {
		t.Fatalf("model info mismatch: got %q", string(got))
	}

	data, err := mf.SectionBytes(SectionModelData)
	if err != nil {
		t.Fatalf("section bytes: %v", err)
	}
	if !bytes.Equal(data, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("model data mismatch: got %v", data)
	}
	if _, err := mf.SectionBytes(SectionVocab); !errors.Is(err, ErrMissingSection) {
		t.Fatalf("expected ErrMissingSection, got %v", err)
	}
}

func TestHeaderAndSectionEncodingLittleEndian(t *testing.T) {
	t.Parallel()

	h := Header{
		Magic:            [4]byte{'S', 'C', 'F', 0},
		Major:            0x1122,
		Minor:            0x3344,
		HeaderSize:       scfHeaderSize,
		SectionCount:     7,
		SectionDirOffset: 0x0102030405060708,
		FileSize:         0x1112131415161718,
		Flags:            0x2122232425262728,
	}
	var hdrRaw [scfHeaderSize]byte
	if !encodeHeader(hdrRaw[:], h) {
		t.Fatalf("encode header failed")
	}
	if hdrRaw[4] != 0x22 || hdrRaw[5] != 0x11 {
		t.Fatalf("major is not little-endian: %x", hdrRaw[4:6])
	}
	if hdrRaw[16] != 0x08 || hdrRaw[23] != 0x01 {
		t.Fatalf("section dir offset is not little-endian: %x", hdrRaw[16:24])
	}
	decodedH, ok := decodeHeader(hdrRaw[:])
	if !ok {
		t.Fatalf("decode header failed")
	}
	if decodedH != h {
		t.Fatalf("header round-trip mismatch: got %+v want %+v", decodedH, h)
	}

	s := Section{
		Type:    0x11223344,
		Version: 0x55667788,
		Offset:  0x0102030405060708,
		Size:    0x1112131415161718,
	}
	var secRaw [scfSectionSize]byte
	if !encodeSection(secRaw[:], s) {
		t.Fatalf("encode section failed")
	}
	if secRaw[0] != 0x44 || secRaw[3] != 0x11 {
		t.Fatalf("section type is not little-endian: %x", secRaw[0:4])
	}
	if secRaw[8] != 0x08 || secRaw[15] != 0x01 {
		t.Fatalf("section offset is not little-endian: %x", secRaw[8:16])
	}
	decodedS, ok := decodeSection(secRaw[:])
	if !ok {
		t.Fatalf("decode section failed")
	}
	if decodedS != s {
		t.Fatalf("section round-trip mismatch: got %+v want %+v", decodedS, s)
	}
}

func TestOpenRejectsCorruptFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "model.scf")
	writeContainer(t, path)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read container: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(b []byte) []byte
		wantErr error
	}{
		{
			name: "bad magic",
			mutate: func(b []byte) []byte {
				b[0] = 'X'
				return b
			},
			wantErr: ErrInvalidMagic,
		},
		{
			name: "future major version",
			mutate: func(b []byte) []byte {
				b[4] = 0xFF
				return b
			},
			wantErr: ErrUnsupportedMajor,
		},
		{
			name: "truncated",
			mutate: func(b []byte) []byte {
				return b[:len(b)-1]
			},
			wantErr: ErrCorruptFile,
		},
		{
			name: "section out of bounds",
			mutate: func(b []byte) []byte {
				hdr, ok := decodeHeader(b)
				if !ok {
					t.Fatalf("decode header")
				}
				// Push the first directory entry's size past EOF.
				entry := b[hdr.SectionDirOffset : hdr.SectionDirOffset+scfSectionSize]
				sec, _ := decodeSection(entry)
				sec.Size = uint64(len(b)) + 1
				encodeSection(entry, sec)
				return b
			},
			wantErr: ErrCorruptFile,
		},
		{
			name: "misaligned section",
			mutate: func(b []byte) []byte {
				hdr, ok := decodeHeader(b)
				if !ok {
					t.Fatalf("decode header")
				}
				entry := b[hdr.SectionDirOffset : hdr.SectionDirOffset+scfSectionSize]
				sec, _ := decodeSection(entry)
				sec.Offset++
				encodeSection(entry, sec)
				return b
			},
			wantErr: ErrCorruptFile,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b := tc.mutate(append([]byte(nil), raw...))
			p := filepath.Join(dir, tc.name+".scf")
			if err := os.WriteFile(p, b, 0o644); err != nil {
				t.Fatalf("write mutated file: %v", err)
			}
			_, err := Open(p)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestWriterRejectsDuplicateSections(t *testing.T) {
	t.Parallel()

	f, err := os.Create(filepath.Join(t.TempDir(), "dup.scf"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() { _ = f.Close() }()

	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteSection(SectionVocab, 1, []byte("a\n")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := w.WriteSection(SectionVocab, 1, []byte("b\n")); err == nil {
		t.Fatalf("duplicate section type accepted")
	}
}

func writeContainer(t *testing.T, path string) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteSection(SectionModelData, 1, []byte("onnx-bytes-go-here")); err != nil {
		t.Fatalf("write model data: %v", err)
	}
	if err := w.WriteSection(SectionVocab, 1, []byte("a\nb\nc\n")); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
