package builder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/andresmejia3/facevote/internal/types"
	"github.com/andresmejia3/facevote/internal/worker"
	"github.com/rs/zerolog"
)

// fakeDetector answers with the faces registered for the exact image bytes.
type fakeDetector struct {
	faces map[string][]types.DetectedFace
}

func (f *fakeDetector) Detect(_ context.Context, img []byte) ([]types.DetectedFace, error) {
	return f.faces[string(img)], nil
}

func (f *fakeDetector) Close() error { return nil }

// corpus builds a training tree on disk and the detector answers that go with it.
type corpus struct {
	t     *testing.T
	root  string
	faces map[string][]types.DetectedFace
	n     int
}

func newCorpus(t *testing.T) *corpus {
	return &corpus{t: t, root: t.TempDir(), faces: make(map[string][]types.DetectedFace)}
}

// add writes a unique PNG under rel and registers nFaces faces for it.
func (c *corpus) add(rel string, nFaces int) {
	c.t.Helper()
	c.n++
	// Unique dimensions keep each file's bytes distinct
	img := image.NewGray(image.Rect(0, 0, c.n, 1))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		c.t.Fatal(err)
	}
	path := filepath.Join(c.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		c.t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		c.t.Fatal(err)
	}

	var faces []types.DetectedFace
	for i := 0; i < nFaces; i++ {
		faces = append(faces, types.DetectedFace{
			Box: types.BoundingBox{0, 10, 10, 0},
			Vec: types.Embedding{float64(c.n), float64(i)},
		})
	}
	c.faces[buf.String()] = faces
}

func (c *corpus) factory() worker.Factory {
	return func(context.Context, int) (worker.Detector, error) {
		return &fakeDetector{faces: c.faces}, nil
	}
}

func testOpts() Options {
	return Options{Log: zerolog.Nop()}
}

func countLabels(labels []string) map[string]int {
	m := make(map[string]int)
	for _, l := range labels {
		m[l]++
	}
	return m
}

func TestBuildCountsPerLabel(t *testing.T) {
	c := newCorpus(t)
	c.add("alice/1.png", 1)
	c.add("alice/2.png", 1)
	c.add("bob/1.png", 1)

	store, err := Build(context.Background(), c.root, c.factory(), testOpts())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if store.Len() != 3 || len(store.Embeddings) != 3 {
		t.Fatalf("Expected 3 entries, got %d labels / %d embeddings", store.Len(), len(store.Embeddings))
	}
	counts := countLabels(store.Labels)
	if counts["alice"] != 2 || counts["bob"] != 1 {
		t.Errorf("Unexpected label counts %v", counts)
	}
}

func TestBuildZeroAndMultipleFaces(t *testing.T) {
	c := newCorpus(t)
	c.add("alice/empty.png", 0)
	c.add("alice/group.png", 3)

	store, err := Build(context.Background(), c.root, c.factory(), testOpts())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if store.Len() != 3 {
		t.Fatalf("Expected 3 entries from the group photo, got %d", store.Len())
	}
	for _, l := range store.Labels {
		if l != "alice" {
			t.Errorf("Expected every face labeled alice, got %q", l)
		}
	}
}

func TestBuildIgnoresRootFilesAndNesting(t *testing.T) {
	c := newCorpus(t)
	c.add("stray.png", 1)
	c.add("alice/1.png", 1)
	c.add("alice/nested/deep.png", 1)
	c.add(".git/objects.png", 1)
	os.WriteFile(filepath.Join(c.root, "alice", "notes.txt"), []byte("x"), 0644)

	store, err := Build(context.Background(), c.root, c.factory(), testOpts())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if store.Len() != 1 || store.Labels[0] != "alice" {
		t.Errorf("Expected only alice/1.png, got %v", store.Labels)
	}
}

func TestBuildSortedOrder(t *testing.T) {
	c := newCorpus(t)
	c.add("zed/b.png", 1)
	c.add("zed/a.png", 1)
	c.add("amy/c.png", 1)

	store, err := Build(context.Background(), c.root, c.factory(), testOpts())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := []string{"amy", "zed", "zed"}
	for i := range want {
		if store.Labels[i] != want[i] {
			t.Fatalf("Labels = %v, want %v", store.Labels, want)
		}
	}
	// zed/a.png was written second, so its embedding starts with 2
	if store.Embeddings[1][0] != 2 {
		t.Errorf("Expected zed/a.png before zed/b.png, got embedding %v", store.Embeddings[1])
	}
}

func TestBuildParallelMatchesSequential(t *testing.T) {
	c := newCorpus(t)
	for _, rel := range []string{"a/1.png", "a/2.png", "b/1.png", "b/2.png", "c/1.png", "c/2.png", "c/3.png"} {
		c.add(rel, 2)
	}

	seq, err := Build(context.Background(), c.root, c.factory(), testOpts())
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	started := 0
	factory := func(ctx context.Context, id int) (worker.Detector, error) {
		mu.Lock()
		started++
		mu.Unlock()
		return c.factory()(ctx, id)
	}
	opts := testOpts()
	opts.Workers = 4
	par, err := Build(context.Background(), c.root, factory, opts)
	if err != nil {
		t.Fatal(err)
	}

	if started != 4 {
		t.Errorf("Expected 4 detectors, got %d", started)
	}
	if par.Len() != seq.Len() {
		t.Fatalf("Parallel build has %d entries, sequential %d", par.Len(), seq.Len())
	}
	for i := range seq.Labels {
		if par.Labels[i] != seq.Labels[i] || par.Embeddings[i][0] != seq.Embeddings[i][0] || par.Embeddings[i][1] != seq.Embeddings[i][1] {
			t.Errorf("Entry %d differs: %s%v vs %s%v", i, par.Labels[i], par.Embeddings[i], seq.Labels[i], seq.Embeddings[i])
		}
	}
}

func TestBuildUndecodableImage(t *testing.T) {
	c := newCorpus(t)
	c.add("alice/1.png", 1)
	os.WriteFile(filepath.Join(c.root, "alice", "broken.jpg"), []byte("not a jpeg"), 0644)

	_, err := Build(context.Background(), c.root, c.factory(), testOpts())
	if !errors.Is(err, types.ErrDecode) {
		t.Fatalf("Expected ErrDecode to abort the build, got %v", err)
	}

	opts := testOpts()
	opts.SkipErrors = true
	store, err := Build(context.Background(), c.root, c.factory(), opts)
	if err != nil {
		t.Fatalf("Expected SkipErrors to continue, got %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 entry after skipping, got %d", store.Len())
	}
}

func TestBuildMissingRoot(t *testing.T) {
	_, err := Build(context.Background(), filepath.Join(t.TempDir(), "nope"), nil, testOpts())
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestBuildDetectorStartFailure(t *testing.T) {
	c := newCorpus(t)
	c.add("alice/1.png", 1)

	boom := errors.New("python3 not found")
	factory := func(context.Context, int) (worker.Detector, error) { return nil, boom }
	if _, err := Build(context.Background(), c.root, factory, testOpts()); !errors.Is(err, boom) {
		t.Errorf("Expected detector start error, got %v", err)
	}
}

func TestListTrainingFilesNormalizesLabels(t *testing.T) {
	c := newCorpus(t)
	// "Jiří" spelled with combining characters (NFD)
	c.add("Jir\u030ci\u0301/1.png", 1)

	files, err := ListTrainingFiles(c.root)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("Expected 1 file, got %d", len(files))
	}
	if files[0].Label != "Ji\u0159\u00ed" {
		t.Errorf("Expected NFC label, got %q", files[0].Label)
	}
}
