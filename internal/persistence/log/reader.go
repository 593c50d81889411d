package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"frostanchor.ai/internal/sim/anchors"
	"frostanchor.ai/internal/sim/voxel"
)

// AuditFiles lists the mutation audit files under dataDir in chronological order.
func AuditFiles(dataDir string) ([]string, error) {
	dir := filepath.Join(dataDir, "audit")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "mutations-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadMutations calls fn for every mutation in the audit files of dataDir, oldest first.
// It stops at the first error fn returns.
func ReadMutations(dataDir string, fn func(anchors.Mutation) error) error {
	files, err := AuditFiles(dataDir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := readMutationFile(path, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func readMutationFile(path string, fn func(anchors.Mutation) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		var m anchors.Mutation
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		dim, err := voxel.ParseDimension(m.DimID)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		m.Dim = dim
		if err := fn(m); err != nil {
			return err
		}
	}
	return sc.Err()
}
