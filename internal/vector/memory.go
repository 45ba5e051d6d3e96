package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// snapshotExt is the file extension of a saved collection.
const snapshotExt = ".vec"

type memCollection struct {
	visible map[string]Row
	staged  []Row
}

// MemoryCollection is an in-process Collection. Inserts are staged and become
// visible on Flush. Collections can be persisted with Save and restored with Load.
type MemoryCollection struct {
	dimensions  int
	mu          sync.RWMutex
	collections map[string]*memCollection
}

// NewMemoryCollection creates an empty store for vectors of the given dimension.
func NewMemoryCollection(dimensions int) (*MemoryCollection, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryCollection{
		dimensions:  dimensions,
		collections: make(map[string]*memCollection),
	}, nil
}

// Dimensions returns the vector width.
func (m *MemoryCollection) Dimensions() int { return m.dimensions }

func (m *MemoryCollection) get(name string) *memCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{visible: make(map[string]Row)}
		m.collections[name] = c
	}
	return c
}

// Delete removes visible and staged rows matching f.
func (m *MemoryCollection) Delete(ctx context.Context, collection string, f Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.get(collection)
	n := 0
	for id, r := range c.visible {
		if f.Matches(r) {
			delete(c.visible, id)
			n++
		}
	}
	kept := c.staged[:0]
	for _, r := range c.staged {
		if f.Matches(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	c.staged = kept
	return n, nil
}

// Insert validates and stages rows. Nothing is staged if any row is invalid.
func (m *MemoryCollection) Insert(ctx context.Context, collection string, rows []Row) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	staged := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.ID == "" {
			return 0, errors.New("row id is required")
		}
		if len(r.Vector) != m.dimensions {
			return 0, fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", r.ID, len(r.Vector), m.dimensions)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, r.Vector)
		r.Vector = vec
		r.Text = truncateText(r.Text)
		staged = append(staged, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.get(collection)
	c.staged = append(c.staged, staged...)
	return len(staged), nil
}

// Flush publishes staged rows. A staged row replaces a visible row with the same id.
func (m *MemoryCollection) Flush(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.get(collection)
	for _, r := range c.staged {
		c.visible[r.ID] = r
	}
	c.staged = nil
	return nil
}

// Query returns visible rows matching f ordered by id.
func (m *MemoryCollection) Query(ctx context.Context, collection string, f Filter) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}
	var out []Row
	for _, r := range c.visible {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Size returns the number of visible rows in a collection.
func (m *MemoryCollection) Size(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.collections[collection]; ok {
		return len(c.visible)
	}
	return 0
}

// Save writes each collection's visible rows to dir/<collection>.vec. Format:
// dimension (4), n (4), then per row: id, doc_id, chunk_id, text as
// length-prefixed strings followed by the vector (dimension*4 bytes).
func (m *MemoryCollection) Save(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, c := range m.collections {
		if err := m.saveCollection(filepath.Join(dir, name+snapshotExt), c); err != nil {
			return fmt.Errorf("save collection %s: %w", name, err)
		}
	}
	return nil
}

func (m *MemoryCollection) saveCollection(path string, c *memCollection) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	ids := make([]string, 0, len(c.visible))
	for id := range c.visible {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	werr := func() error {
		if err := binary.Write(f, binary.LittleEndian, uint32(m.dimensions)); err != nil {
			return fmt.Errorf("write dimensions: %w", err)
		}
		if err := binary.Write(f, binary.LittleEndian, uint32(len(ids))); err != nil {
			return fmt.Errorf("write count: %w", err)
		}
		for _, id := range ids {
			r := c.visible[id]
			for _, s := range []string{r.ID, r.DocID, r.ChunkID, r.Text} {
				if err := writeString(f, s); err != nil {
					return err
				}
			}
			if _, err := f.Write(float32SliceToBytes(r.Vector)); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
		}
		return nil
	}()
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return werr
	}
	return os.Rename(tmp, path)
}

// Load restores every *.vec snapshot in dir, replacing the named collections.
// A missing directory is not an error. Dimensions must match.
func (m *MemoryCollection) Load(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), snapshotExt)
		c, err := m.loadCollection(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("load collection %s: %w", name, err)
		}
		m.mu.Lock()
		m.collections[name] = c
		m.mu.Unlock()
	}
	return nil
}

func (m *MemoryCollection) loadCollection(path string) (*memCollection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()
	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return nil, fmt.Errorf("dimension mismatch: file has %d, collection expects %d", dim, m.dimensions)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	c := &memCollection{visible: make(map[string]Row, n)}
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var fields [4]string
		for j := range fields {
			s, err := readString(f)
			if err != nil {
				return nil, err
			}
			fields[j] = s
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, fmt.Errorf("read vector: %w", err)
		}
		c.visible[fields[0]] = Row{
			ID:      fields[0],
			DocID:   fields[1],
			ChunkID: fields[2],
			Text:    fields[3],
			Vector:  bytesToFloat32Slice(buf),
		}
	}
	return c, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return fmt.Errorf("write string len: %w", err)
	}
	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("write string: %w", err)
	}
	return nil
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("read string len: %w", err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read string: %w", err)
	}
	return string(b), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Close is a no-op for MemoryCollection.
func (m *MemoryCollection) Close() error {
	return nil
}

var _ Collection = (*MemoryCollection)(nil)
