// Package scf implements the Sumi Container Format.
//
// SCF is a single-file, memory-mappable bundle for portable OCR models:
// the exported ONNX graph, the vocabulary table, and a JSON model-info
// record travel together so a recognizer needs exactly one path. The
// format describes structure and data only and never implies runtime
// behaviour.
package scf

// SCF global constants must never change.
const (
	// Magic is the file magic for all SCF containers, encoded as "SCF\0".
	Magic = "SCF\x00"

	// CurrentMajor changes only on breaking format changes.
	CurrentMajor uint16 = 1

	// CurrentMinor may add new optional sections or fields.
	CurrentMinor uint16 = 0
)

type SectionType uint32

const (
	SectionModelInfo       SectionType = 0x0001
	SectionModelData       SectionType = 0x0002
	SectionVocab           SectionType = 0x0003
	SectionTokenizerConfig SectionType = 0x0004
)

// Header is the fixed little-endian file header. Flags are reserved
// and must be written as zero.
type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

// Section is one entry of the section directory.
type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (h *Header) Valid() bool {
	if string(h.Magic[:]) != Magic {
		return false
	}
	if h.HeaderSize < scfHeaderSize {
		return false
	}
	if h.SectionCount == 0 {
		return false
	}
	return true
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

// SectionTypeName returns a printable name for known section types.
func SectionTypeName(t SectionType) string {
	switch t {
	case SectionModelInfo:
		return "model_info"
	case SectionModelData:
		return "model_data"
	case SectionVocab:
		return "vocab"
	case SectionTokenizerConfig:
		return "tokenizer_config"
	default:
		return "unknown"
	}
}
