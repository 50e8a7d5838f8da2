package modelpool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// errStillWriting marks a file whose declared length exceeds its size on
// disk, the signature of a download that has not finished flushing.
var errStillWriting = errors.New("declared length exceeds file size")

// glbMagic is the binary glTF container magic, "glTF" little-endian.
const glbMagic = 0x46546C67

// glbHeaderSize covers magic, version and total length.
const glbHeaderSize = 12

// validateModelFile checks the binary container header of a model file
// before it is handed to the decoder.
func validateModelFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat model file: %w", err)
	}
	if info.Size() < glbHeaderSize {
		return fmt.Errorf("file too small for header: %d bytes", info.Size())
	}

	var header [glbHeaderSize]byte
	if _, err := f.Read(header[:]); err != nil {
		return fmt.Errorf("read model header: %w", err)
	}

	if binary.LittleEndian.Uint32(header[0:4]) != glbMagic {
		return errors.New("bad container magic")
	}

	declared := int64(binary.LittleEndian.Uint32(header[8:12]))
	actual := info.Size()
	switch {
	case declared > actual:
		return fmt.Errorf("%w: declared %d, have %d", errStillWriting, declared, actual)
	case declared < actual:
		return fmt.Errorf("length mismatch: declared %d, have %d", declared, actual)
	}
	return nil
}
