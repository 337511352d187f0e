package staleness

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"promptloom/internal/execlog"
)

// DigestLength is the length of a rendered execution hash in hex characters.
const DigestLength = 32

// HashInputs are the declared inputs of the execution hash.
type HashInputs struct {
	Config       map[string]string
	TaskHash     string
	Files        []execlog.FileHash
	Dependencies []execlog.DependencyHash
}

// ComputeExecutionHash returns the truncated SHA-256 of in. Config keys and
// files are sorted; dependencies keep their declared order. Every field is
// length-prefixed.
func ComputeExecutionHash(in HashInputs) string {
	h := sha256.New()

	keys := make([]string, 0, len(in.Config))
	for k := range in.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeField(h, "config")
	writeCount(h, len(keys))
	for _, k := range keys {
		writeField(h, k)
		writeField(h, in.Config[k])
	}

	writeField(h, "task")
	writeField(h, in.TaskHash)

	files := make([]execlog.FileHash, len(in.Files))
	copy(files, in.Files)
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	writeField(h, "files")
	writeCount(h, len(files))
	for _, f := range files {
		writeField(h, f.Path)
		writeField(h, f.Hash)
	}

	writeField(h, "dependencies")
	writeCount(h, len(in.Dependencies))
	for _, dep := range in.Dependencies {
		writeField(h, dep.Workflow)
		writeField(h, dep.OutputHash)
	}

	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:DigestLength]
}

func writeField(h hash.Hash, value string) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(value)))
	h.Write(prefix[:])
	h.Write([]byte(value))
}

func writeCount(h hash.Hash, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	h.Write(buf[:])
}
