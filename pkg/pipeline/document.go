package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"golang.org/x/exp/mmap"

	"github.com/dd0wney/cluso-circuit/pkg/attribution"
	"github.com/dd0wney/cluso-circuit/pkg/grouping"
)

// CompressedExt marks snappy-compressed documents.
const CompressedExt = ".sz"

// Output is the reduced circuit document.
type Output struct {
	PinnedNodeIDs []string          `json:"pinned_node_ids"`
	Supernodes    []OutputSupernode `json:"supernodes"`
	OriginalGraph json.RawMessage   `json:"original_graph"`
}

// OutputSupernode is one supernode in an Output.
type OutputSupernode struct {
	Label          string        `json:"label"`
	NodeIDs        []string      `json:"node_ids"`
	LayerRange     [2]int        `json:"layer_range"`
	FunctionalRole grouping.Role `json:"functional_role"`
	TotalInfluence float64       `json:"total_influence"`
}

// NewOutput assembles the output document. The original graph is echoed
// without re-decoding.
func NewOutput(pinned []string, supernodes []*grouping.Supernode, original json.RawMessage) *Output {
	out := &Output{
		PinnedNodeIDs: pinned,
		Supernodes:    make([]OutputSupernode, len(supernodes)),
		OriginalGraph: original,
	}
	if out.PinnedNodeIDs == nil {
		out.PinnedNodeIDs = []string{}
	}
	for i, sn := range supernodes {
		out.Supernodes[i] = OutputSupernode{
			Label:          sn.Label,
			NodeIDs:        sn.NodeIDs,
			LayerRange:     sn.LayerRange,
			FunctionalRole: sn.Role,
			TotalInfluence: sn.TotalInfluence,
		}
	}
	return out
}

// ReadFile reads a document through a read-only memory map. Files ending in
// CompressedExt are snappy-decoded.
func ReadFile(path string) ([]byte, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	data := make([]byte, r.Len())
	if _, err := r.ReadAt(data, 0); err != nil && r.Len() > 0 {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if strings.HasSuffix(path, CompressedExt) {
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", path, err)
		}
		return decoded, nil
	}
	return data, nil
}

// LoadDocument reads and decodes an attribution graph document.
func LoadDocument(path string) (*attribution.Document, error) {
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := attribution.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

// WriteJSON writes v as indented JSON, snappy-compressed when path ends in
// CompressedExt. The file is replaced atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return WriteFile(path, data)
}

// WriteFile writes raw bytes with the same compression and atomic replace
// rules as WriteJSON.
func WriteFile(path string, data []byte) error {
	if strings.HasSuffix(path, CompressedExt) {
		data = snappy.Encode(nil, data)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
