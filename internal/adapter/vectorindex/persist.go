package vectorindex

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/bintly"

	"kbrag/internal/adapter/fingerprint"
	"kbrag/internal/domain"
)

// Artifact suffixes appended to the index base path or URL.
const (
	VectorsSuffix = ".vec"
	ChunksSuffix  = ".docs"
)

const (
	vectorsMagic = "kbrag.vec.v2"
	chunksMagic  = "kbrag.docs.v2"
)

// ArtifactURLs returns the vectors and chunks artifact locations for base.
func ArtifactURLs(base string) (vectors, chunks string) {
	return base + VectorsSuffix, base + ChunksSuffix
}

// Exists reports whether both artifacts are present at base.
func Exists(ctx context.Context, base string) bool {
	fs := afs.New()
	vecURL, docsURL := ArtifactURLs(base)
	okVec, _ := fs.Exists(ctx, vecURL)
	okDocs, _ := fs.Exists(ctx, docsURL)
	return okVec && okDocs
}

// Save writes both artifacts. base may be a local path or any URL afs
// understands. Each artifact is written to a temporary object and moved
// into place; both headers carry the same pair token so Load can tell
// when they come from different saves.
func (x *FlatIndex) Save(ctx context.Context, base string) error {
	x.mu.RLock()
	if x.state == Uninitialized {
		x.mu.RUnlock()
		return ErrUninitialized
	}
	token := pairToken(x.vectors, x.chunks)
	vecData := encodeVectors(x.dim, x.vectors, len(x.chunks), token)
	docsData, err := encodeChunks(x.chunks, token)
	x.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode chunks: %w", err)
	}

	fs := afs.New()
	vecURL, docsURL := ArtifactURLs(base)
	if err := upload(ctx, fs, vecURL, vecData); err != nil {
		return fmt.Errorf("failed to write %s: %w", vecURL, err)
	}
	if err := upload(ctx, fs, docsURL, docsData); err != nil {
		return fmt.Errorf("failed to write %s: %w", docsURL, err)
	}
	return nil
}

// tempURL keeps the extension of URL; afs treats a destination with a
// different extension as a directory.
func tempURL(URL string) string {
	ext := path.Ext(URL)
	return strings.TrimSuffix(URL, ext) + ".tmp" + ext
}

func upload(ctx context.Context, fs afs.Service, URL string, data []byte) error {
	tmp := tempURL(URL)
	if err := fs.Upload(ctx, tmp, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := fs.Move(ctx, tmp, URL); err != nil {
		_ = fs.Delete(ctx, tmp)
		return err
	}
	return nil
}

// pairToken fingerprints the vector payload together with the chunk
// contents.
func pairToken(vectors []float32, chunks []domain.Chunk) string {
	buf := make([]byte, 0, len(vectors)*4)
	for _, v := range vectors {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	parts := make([]string, 0, len(chunks)+1)
	parts = append(parts, string(buf))
	for i := range chunks {
		parts = append(parts, chunks[i].Content)
	}
	return fingerprint.Of(parts...)
}

// Load restores both artifacts into an uninitialized index.
func (x *FlatIndex) Load(ctx context.Context, base string) error {
	if err := x.checkLoadable(); err != nil {
		return err
	}

	fs := afs.New()
	vecURL, docsURL := ArtifactURLs(base)

	vecData, err := download(ctx, fs, vecURL)
	if err != nil {
		return err
	}
	docsData, err := download(ctx, fs, docsURL)
	if err != nil {
		return err
	}

	dim, count, vecToken, vectors, err := decodeVectors(vecData)
	if err != nil {
		return err
	}
	if dim != x.dim {
		return fmt.Errorf("%w: %s stores dimension %d, expected %d", ErrDimensionMismatch, vecURL, dim, x.dim)
	}
	docsToken, chunks, err := decodeChunks(docsData)
	if err != nil {
		return err
	}
	if len(chunks) != count {
		return fmt.Errorf("%w: %d vectors but %d chunks", ErrCorrupt, count, len(chunks))
	}
	if vecToken != docsToken {
		return fmt.Errorf("%w: %s and %s come from different saves", ErrCorrupt, vecURL, docsURL)
	}
	if pairToken(vectors, chunks) != vecToken {
		return fmt.Errorf("%w: content does not match the stored fingerprint", ErrCorrupt)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.loadableLocked(); err != nil {
		return err
	}
	x.vectors = vectors
	x.chunks = chunks
	x.state = Populated
	return nil
}

func (x *FlatIndex) checkLoadable() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.loadableLocked()
}

func (x *FlatIndex) loadableLocked() error {
	switch x.state {
	case Uninitialized:
		return nil
	case Populated:
		return ErrAlreadyPopulated
	default:
		return fmt.Errorf("%w: load requires an uninitialized index, got %s", ErrInvalidState, x.state)
	}
}

// Open loads the index persisted at base into a new index.
func Open(ctx context.Context, base string, dim int) (*FlatIndex, error) {
	x, err := New(dim)
	if err != nil {
		return nil, err
	}
	if err := x.Load(ctx, base); err != nil {
		return nil, err
	}
	return x, nil
}

func download(ctx context.Context, fs afs.Service, URL string) ([]byte, error) {
	if ok, _ := fs.Exists(ctx, URL); !ok {
		return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, URL)
	}
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", URL, err)
	}
	return data, nil
}

func encodeVectors(dim int, vectors []float32, count int, token string) []byte {
	writers := bintly.NewWriters()
	w := writers.Get()
	defer writers.Put(w)

	w.String(vectorsMagic)
	w.String(token)
	w.Int(dim)
	w.Int(count)
	w.Float32s(vectors)
	return w.Bytes()
}

func decodeVectors(data []byte) (dim, count int, token string, vectors []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCorrupt, r)
		}
	}()

	readers := bintly.NewReaders()
	r := readers.Get()
	defer readers.Put(r)
	if err = r.FromBytes(data); err != nil {
		return 0, 0, "", nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var magic string
	r.String(&magic)
	if magic != vectorsMagic {
		return 0, 0, "", nil, fmt.Errorf("%w: unexpected vectors header %q", ErrCorrupt, magic)
	}
	r.String(&token)
	r.Int(&dim)
	r.Int(&count)
	if dim <= 0 || dim > len(data) || count < 0 {
		return 0, 0, "", nil, fmt.Errorf("%w: dimension %d, count %d", ErrCorrupt, dim, count)
	}
	// the payload length comes from the stream itself, never from count
	if count > len(data)/(4*dim) {
		return 0, 0, "", nil, fmt.Errorf("%w: count %d exceeds a %d byte artifact", ErrCorrupt, count, len(data))
	}

	var payload []float32
	r.Float32s(&payload)
	if len(payload) != dim*count {
		return 0, 0, "", nil, fmt.Errorf("%w: %d values for %d vectors of dimension %d", ErrCorrupt, len(payload), count, dim)
	}
	vectors = make([]float32, len(payload))
	copy(vectors, payload)
	return dim, count, token, vectors, nil
}

func encodeChunks(chunks []domain.Chunk, token string) ([]byte, error) {
	writers := bintly.NewWriters()
	w := writers.Get()
	defer writers.Put(w)

	w.String(chunksMagic)
	w.String(token)
	w.Int(len(chunks))
	for i := range chunks {
		encodeChunk(w, &chunks[i])
	}
	return w.Bytes(), nil
}

// encodeChunk writes the content followed by metadata grouped by value
// type. Values of other types are stored as strings.
func encodeChunk(w *bintly.Writer, c *domain.Chunk) {
	w.String(c.Content)

	var intKeys, floatKeys, stringKeys, timeKeys []string
	for k, v := range c.Metadata {
		switch v.(type) {
		case int, int64, int32:
			intKeys = append(intKeys, k)
		case float64, float32:
			floatKeys = append(floatKeys, k)
		case time.Time:
			timeKeys = append(timeKeys, k)
		default:
			stringKeys = append(stringKeys, k)
		}
	}
	for _, keys := range [][]string{intKeys, floatKeys, stringKeys, timeKeys} {
		sort.Strings(keys)
	}

	w.Int16(int16(len(intKeys)))
	for _, k := range intKeys {
		w.String(k)
		switch v := c.Metadata[k].(type) {
		case int:
			w.Int(v)
		case int64:
			w.Int(int(v))
		case int32:
			w.Int(int(v))
		}
	}

	w.Int16(int16(len(floatKeys)))
	for _, k := range floatKeys {
		w.String(k)
		switch v := c.Metadata[k].(type) {
		case float64:
			w.Float64(v)
		case float32:
			w.Float64(float64(v))
		}
	}

	w.Int16(int16(len(stringKeys)))
	for _, k := range stringKeys {
		w.String(k)
		w.String(domain.MetaString(c.Metadata, k))
	}

	w.Int16(int16(len(timeKeys)))
	for _, k := range timeKeys {
		w.String(k)
		w.Time(c.Metadata[k].(time.Time))
	}
}

func decodeChunks(data []byte) (token string, chunks []domain.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCorrupt, r)
		}
	}()

	readers := bintly.NewReaders()
	r := readers.Get()
	defer readers.Put(r)
	if err = r.FromBytes(data); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var magic string
	r.String(&magic)
	if magic != chunksMagic {
		return "", nil, fmt.Errorf("%w: unexpected chunks header %q", ErrCorrupt, magic)
	}
	r.String(&token)
	var count int
	r.Int(&count)
	// every chunk takes more than one byte of the artifact
	if count < 0 || count > len(data) {
		return "", nil, fmt.Errorf("%w: chunk count %d", ErrCorrupt, count)
	}

	chunks = make([]domain.Chunk, 0, min(count, 1024))
	for i := 0; i < count; i++ {
		var c domain.Chunk
		decodeChunk(r, &c)
		if c.Content == "" {
			return "", nil, fmt.Errorf("%w: chunk %d is empty", ErrCorrupt, i)
		}
		chunks = append(chunks, c)
	}
	return token, chunks, nil
}

func decodeChunk(r *bintly.Reader, c *domain.Chunk) {
	r.String(&c.Content)
	c.Metadata = make(map[string]any)

	var size int16
	r.Int16(&size)
	for i := 0; i < int(size); i++ {
		var key string
		var value int
		r.String(&key)
		r.Int(&value)
		c.Metadata[key] = value
	}

	r.Int16(&size)
	for i := 0; i < int(size); i++ {
		var key string
		var value float64
		r.String(&key)
		r.Float64(&value)
		c.Metadata[key] = value
	}

	r.Int16(&size)
	for i := 0; i < int(size); i++ {
		var key, value string
		r.String(&key)
		r.String(&value)
		c.Metadata[key] = value
	}

	r.Int16(&size)
	for i := 0; i < int(size); i++ {
		var key string
		var value time.Time
		r.String(&key)
		r.Time(&value)
		c.Metadata[key] = value
	}
}
