package scf

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid SCF magic")
	ErrUnsupportedMajor = errors.New("unsupported SCF major version")
	ErrCorruptFile      = errors.New("corrupt SCF file")
	ErrMissingSection   = errors.New("missing SCF section")
)
