package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/timmy/ecosync/internal/config"
	"github.com/timmy/ecosync/internal/logger"
	ort "github.com/yalue/onnxruntime_go"
)

// FeatureStatus is the closed outcome set of a learned-feature extraction.
type FeatureStatus string

const (
	FeatureOK          FeatureStatus = "ok"
	FeatureUnavailable FeatureStatus = "unavailable"
)

// SourceLearnedFeature tags vectors produced by the learned extractor.
const SourceLearnedFeature = "learned-feature"

// FeatureResult carries either a vector or the reason none was produced.
type FeatureResult struct {
	Vector []float32
	Status FeatureStatus
	Reason string
}

func featureUnavailable(format string, args ...interface{}) FeatureResult {
	return FeatureResult{Status: FeatureUnavailable, Reason: fmt.Sprintf(format, args...)}
}

// FeatureExtractor turns an image into a learned feature vector.
// Implementations never return errors: a failed load or inference is
// reported as FeatureUnavailable.
type FeatureExtractor interface {
	Available() bool
	Extract(data []byte) FeatureResult
}

var (
	ortEnvOnce sync.Once
	ortEnvErr  error
)

func initONNXEnvironment(libraryPath string) error {
	ortEnvOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortEnvErr = ort.InitializeEnvironment()
	})
	return ortEnvErr
}

// ONNXFeatureExtractor runs an image feature model (MobileNetV2 feature
// vector, NHWC float input in [0,1]) through ONNX Runtime.
//
// The model is loaded once at construction. If loading fails the extractor
// stays unavailable for the life of the process; it is never retried.
type ONNXFeatureExtractor struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	size    int
	initErr error
}

// NewONNXFeatureExtractor loads the model described by cfg.
func NewONNXFeatureExtractor(cfg *config.FeatureExtractorConfig) *ONNXFeatureExtractor {
	e := &ONNXFeatureExtractor{size: cfg.InputSize}
	log := logger.GetDefault().WithField(logger.FieldComponent, "feature_extractor")

	if err := e.load(cfg); err != nil {
		e.initErr = err
		e.destroy()
		log.WithError(err).Warn("Learned feature extractor unavailable")
		return e
	}
	log.WithFields(logger.Fields{
		"model":      cfg.ModelPath,
		"input_size": cfg.InputSize,
		"dims":       cfg.OutputDims,
	}).Info("Learned feature extractor loaded")
	return e
}

func (e *ONNXFeatureExtractor) load(cfg *config.FeatureExtractorConfig) error {
	if !cfg.Enabled {
		return errors.New("feature extractor disabled")
	}
	if cfg.ModelPath == "" {
		return errors.New("feature extractor model path not set")
	}
	if cfg.InputSize <= 0 || cfg.OutputDims <= 0 {
		return fmt.Errorf("invalid feature extractor shape %dx%d -> %d", cfg.InputSize, cfg.InputSize, cfg.OutputDims)
	}
	if err := initONNXEnvironment(cfg.LibraryPath); err != nil {
		return fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.InputSize), int64(cfg.InputSize), 3))
	if err != nil {
		return fmt.Errorf("failed to allocate input tensor: %w", err)
	}
	e.input = input

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.OutputDims)))
	if err != nil {
		return fmt.Errorf("failed to allocate output tensor: %w", err)
	}
	e.output = output

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		return fmt.Errorf("failed to load model %s: %w", cfg.ModelPath, err)
	}
	e.session = session
	return nil
}

// Available reports whether the model loaded.
func (e *ONNXFeatureExtractor) Available() bool {
	return e != nil && e.initErr == nil && e.session != nil
}

// Extract resizes the image, runs inference and returns a copy of the
// flattened output.
func (e *ONNXFeatureExtractor) Extract(data []byte) FeatureResult {
	if !e.Available() {
		reason := "not loaded"
		if e != nil && e.initErr != nil {
			reason = e.initErr.Error()
		}
		return featureUnavailable("extractor unavailable: %s", reason)
	}

	img, _, err := decodeImage(data)
	if err != nil {
		return featureUnavailable("%v", err)
	}
	pixels := rgbTensorNHWC(resizeSquare(img, e.size))

	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.input.GetData(), pixels)
	if err := e.session.Run(); err != nil {
		return featureUnavailable("inference failed: %v", err)
	}
	out := e.output.GetData()
	vec := make([]float32, len(out))
	copy(vec, out)
	return FeatureResult{Vector: vec, Status: FeatureOK}
}

// Close releases the session and tensors.
func (e *ONNXFeatureExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroy()
	return nil
}

func (e *ONNXFeatureExtractor) destroy() {
	if e.session != nil {
		_ = e.session.Destroy()
		e.session = nil
	}
	if e.input != nil {
		_ = e.input.Destroy()
		e.input = nil
	}
	if e.output != nil {
		_ = e.output.Destroy()
		e.output = nil
	}
}
