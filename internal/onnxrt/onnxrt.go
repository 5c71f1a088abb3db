// Package onnxrt drives ONNX Runtime inference for recognition
// models. The runtime is linked only when building with -tags onnx;
// without the tag every entry point reports ErrUnavailable so the
// rest of the tool still works against container metadata.
package onnxrt

import "errors"

// ErrUnavailable is returned by builds without the onnx tag.
var ErrUnavailable = errors.New("onnx runtime not available: rebuild with -tags onnx")

// Available reports whether this build carries the runtime.
func Available() bool { return runtimeEnabled }

type Config struct {
	// ModelPath locates an .onnx file on disk. ModelData takes
	// precedence when non-nil, for models carried inside a container.
	ModelPath string
	ModelData []byte

	// LibraryPath overrides the ONNXRUNTIME_SHARED_LIBRARY_PATH
	// environment variable.
	LibraryPath string

	// Provider picks the execution provider: "", "cpu", "cuda",
	// "coreml", "directml" or "tensorrt". Unknown names fail at Open.
	Provider string
	DeviceID int

	// IntraOpThreads caps the runtime's per-op thread pool. Zero lets
	// the runtime decide.
	IntraOpThreads int

	// ImageShape supplies concrete image tensor dimensions when the
	// model declares dynamic ones.
	ImageShape []int64
}
