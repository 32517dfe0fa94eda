package motion

import (
	"image"
)

// Config holds the fixed detector parameters.
type Config struct {
	// BrightnessThreshold is the mean gray level at or below which the scene
	// is too dark to trust.
	BrightnessThreshold int
	// ReadyCount is the number of consecutive bright evaluations that must be
	// exceeded before motion decisions are trusted.
	ReadyCount int
	// DiffThreshold binarizes the absolute difference image.
	DiffThreshold int
	// MinArea discards regions smaller than this many pixels.
	MinArea          int
	BlurSize         int
	DilateIterations int
}

// DefaultConfig returns the stock parameters.
func DefaultConfig() Config {
	return Config{
		BrightnessThreshold: 50,
		ReadyCount:          3,
		DiffThreshold:       25,
		MinArea:             500,
		BlurSize:            21,
		DilateIterations:    2,
	}
}

// Sample is the outcome of one frame comparison.
type Sample struct {
	Contours   int
	Brightness int
}

// Decision is a Sample plus the gate state after it was applied.
type Decision struct {
	Sample
	Bright    bool
	Ready     bool
	Readiness int
	Detected  bool
}

// Detector differences each sampled frame against a rolling grayscale
// reference. It is not safe for concurrent use; the capture loop owns it.
type Detector struct {
	cfg       Config
	reference *plane
	readiness int
}

// NewDetector creates a detector with zero readiness and no reference.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Analyze compares img against the reference and then replaces the
// reference with img. The first call compares img with itself.
//
// The reference rolls on every evaluation, so an object that keeps moving
// only registers its frame-to-frame displacement and a slow one eventually
// stops registering at all.
func (d *Detector) Analyze(img *image.RGBA) Sample {
	gray := gaussianBlur(grayscale(img), d.cfg.BlurSize)
	if d.reference == nil || d.reference.w != gray.w || d.reference.h != gray.h {
		d.reference = gray
	}

	mask := absDiffThreshold(d.reference, gray, d.cfg.DiffThreshold)
	mask = dilate(mask, d.cfg.DilateIterations)
	contours := countRegions(mask, d.cfg.MinArea)

	d.reference = gray
	return Sample{Contours: contours, Brightness: mean(gray)}
}

// Decide applies the brightness gate and readiness debounce to s.
// Motion is detected iff the scene is bright, readiness was already above
// ReadyCount and s.Contours exceeds sensitivity.
func (d *Detector) Decide(s Sample, sensitivity int) Decision {
	dec := Decision{Sample: s}
	if s.Brightness > d.cfg.BrightnessThreshold {
		dec.Bright = true
		if d.readiness > d.cfg.ReadyCount {
			dec.Ready = true
			dec.Detected = s.Contours > sensitivity
		} else {
			d.readiness++
		}
	} else {
		d.readiness = 0
	}
	dec.Readiness = d.readiness
	return dec
}

// Evaluate runs Analyze followed by Decide.
func (d *Detector) Evaluate(img *image.RGBA, sensitivity int) Decision {
	return d.Decide(d.Analyze(img), sensitivity)
}

// Readiness returns the current debounce counter.
func (d *Detector) Readiness() int {
	return d.readiness
}
