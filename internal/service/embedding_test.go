package service

import (
	"context"
	"errors"
	"testing"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	h := NewHashEmbedder(64)
	a1 := h.Embed([]byte("photo-1"))
	a2 := h.Embed([]byte("photo-1"))
	b := h.Embed([]byte("photo-2"))

	if len(a1) != 64 {
		t.Fatalf("len = %d, want 64", len(a1))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("component %d differs across calls: %v vs %v", i, a1[i], a2[i])
		}
		if a1[i] < 0 || a1[i] > 1 {
			t.Fatalf("component %d out of [0,1]: %v", i, a1[i])
		}
	}
	// The 32-byte digest repeats to fill 64 components.
	if a1[0] != a1[32] {
		t.Errorf("digest not repeated: %v vs %v", a1[0], a1[32])
	}

	same := true
	for i := range a1 {
		if a1[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different inputs produced the same vector")
	}

	if NewHashEmbedder(0).Dimensions() != defaultHashDimensions {
		t.Errorf("default dims = %d, want %d", NewHashEmbedder(0).Dimensions(), defaultHashDimensions)
	}
}

type fakeSemantic struct {
	vec []float32
	err error
}

func (f fakeSemantic) Embed(context.Context, []byte) ([]float32, error) { return f.vec, f.err }
func (f fakeSemantic) Name() string { return "models/test-embedding" }

type fakeExtractor struct {
	available bool
	result    FeatureResult
}

func (f fakeExtractor) Available() bool { return f.available }
func (f fakeExtractor) Extract([]byte) FeatureResult { return f.result }

func TestChainProviderSources(t *testing.T) {
	ok := fakeExtractor{available: true, result: FeatureResult{Vector: []float32{0.5, 0.5}, Status: FeatureOK}}
	broken := fakeExtractor{available: true, result: FeatureResult{Status: FeatureUnavailable, Reason: "inference failed"}}

	tests := []struct {
		name       string
		semantic   SemanticEmbedder
		learned    FeatureExtractor
		wantSource string
		wantDims   int
	}{
		{name: "offline hash", wantSource: SourceOfflineHash, wantDims: 16},
		{name: "semantic", semantic: fakeSemantic{vec: []float32{1, 2, 3}}, learned: ok, wantSource: "models/test-embedding", wantDims: 3},
		{name: "semantic failure falls back to hash", semantic: fakeSemantic{err: errors.New("503")}, wantSource: SourceFallbackHash, wantDims: 16},
		{name: "semantic failure uses learned feature", semantic: fakeSemantic{err: errors.New("503")}, learned: ok, wantSource: SourceLearnedFeature, wantDims: 2},
		{name: "learned feature without semantic", learned: ok, wantSource: SourceLearnedFeature, wantDims: 2},
		{name: "learned unavailable", learned: fakeExtractor{}, wantSource: SourceOfflineHash, wantDims: 16},
		{name: "learned inference failure", learned: broken, wantSource: SourceOfflineHash, wantDims: 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewChainProvider(tt.semantic, tt.learned, NewHashEmbedder(16))
			emb := p.Embed(context.Background(), []byte("photo"))
			if emb.Source != tt.wantSource {
				t.Errorf("source = %q, want %q", emb.Source, tt.wantSource)
			}
			if len(emb.Vector) != tt.wantDims {
				t.Errorf("dims = %d, want %d", len(emb.Vector), tt.wantDims)
			}
		})
	}
}

func TestPerceptualHashVector(t *testing.T) {
	img := patternPNG(t, 1)
	a, err := PerceptualHashVector(img)
	if err != nil {
		t.Fatalf("PerceptualHashVector: %v", err)
	}
	b, _ := PerceptualHashVector(img)
	if len(a) != perceptualHashBits {
		t.Fatalf("len = %d, want %d", len(a), perceptualHashBits)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("bit %d differs across calls", i)
		}
		if a[i] != 0 && a[i] != 1 {
			t.Fatalf("bit %d = %v, want 0 or 1", i, a[i])
		}
	}
	if _, err := PerceptualHashVector([]byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
}

func TestHashBitsOrder(t *testing.T) {
	v := hashBits(1<<63 | 1)
	if v[0] != 1 || v[63] != 1 {
		t.Errorf("msb/lsb = %v/%v, want 1/1", v[0], v[63])
	}
	for i := 1; i < 63; i++ {
		if v[i] != 0 {
			t.Fatalf("bit %d = %v, want 0", i, v[i])
		}
	}
}
