package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/arscape/artifact-engine/internal/model"
	"github.com/arscape/artifact-engine/internal/modelpool"
)

// GLB container constants.
const (
	glbMagic     = 0x46546C67
	glbChunkJSON = 0x4E4F534A
	glbChunkBIN  = 0x004E4942
)

// glbNode is the decoded form of a model file: the parsed scene document
// plus the binary buffer, shared read-only between clones. The renderer
// consumes these through the placement path.
type glbNode struct {
	doc      map[string]any
	binary   []byte
	centered bool
}

func (n *glbNode) Clone() modelpool.Node {
	// Buffers are immutable after decode, so clones share them.
	return &glbNode{doc: n.doc, binary: n.binary, centered: n.centered}
}

func (n *glbNode) Destroy() {}

// glbDecoder parses GLB containers from disk.
type glbDecoder struct{}

func (glbDecoder) Decode(path string, meta model.MediaMetadata) (modelpool.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 12 {
		return nil, fmt.Errorf("file too short for container header")
	}
	if binary.LittleEndian.Uint32(data[0:4]) != glbMagic {
		return nil, fmt.Errorf("bad container magic")
	}
	declared := binary.LittleEndian.Uint32(data[8:12])
	if int(declared) > len(data) {
		return nil, fmt.Errorf("declared length %d exceeds file size %d", declared, len(data))
	}

	node := &glbNode{centered: meta.CenterOnCentroid()}

	// Chunk table: 8-byte headers, JSON chunk first by convention.
	off := 12
	for off+8 <= int(declared) {
		length := int(binary.LittleEndian.Uint32(data[off : off+4]))
		kind := binary.LittleEndian.Uint32(data[off+4 : off+8])
		off += 8
		if off+length > int(declared) {
			return nil, fmt.Errorf("chunk overruns container")
		}
		payload := data[off : off+length]
		off += length

		switch kind {
		case glbChunkJSON:
			if err := json.Unmarshal(payload, &node.doc); err != nil {
				return nil, fmt.Errorf("scene document: %w", err)
			}
		case glbChunkBIN:
			node.binary = payload
		}
	}
	return node, nil
}
