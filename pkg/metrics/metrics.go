// Package metrics implements the scalar MRI image-quality metrics:
// the Entropy Focus Criterion (EFC), anatomical Signal-to-Noise Ratio
// (SNR), Contrast-to-Noise Ratio (CNR) and Coefficient of Joint
// Variation (CJV).
//
// Every metric is a pure function over plain intensity arrays and a
// voxel-aligned tissue segmentation: arrays in, scalar out, no I/O.
// Which integer label denotes which tissue role is supplied through a
// LabelMap so that different segmentation protocols can be used.
//
// The formulas follow the T1w image-quality metrics of MRIQC,
// https://mriqc.readthedocs.io/en/24.0.0/iqms/t1w.html
package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrDomain marks numeric-domain failures inside a metric formula, such
// as a zero denominator or an all-zero image. Callers check for it with
// errors.Is and must treat it as a per-subject failure, never a crash.
var ErrDomain = errors.New("numeric domain error")

// ErrShape marks a voxel-grid disagreement between the intensity volume
// and its segmentation.
var ErrShape = errors.New("shape mismatch")

// logEpsilon keeps the EFC logarithm finite on zero-valued voxels
const logEpsilon = 1e-16

// LabelMap assigns segmentation label integers to tissue roles.
// Label 0 is conventionally background; the defaults follow the
// FreeSurfer left/right convention (WM 2/41, GM 3/42).
type LabelMap struct {
	WhiteMatter []int `yaml:"whiteMatter"`
	GrayMatter  []int `yaml:"grayMatter"`
	Background  []int `yaml:"background"`
}

// DefaultLabelMap returns the FreeSurfer-style label convention
func DefaultLabelMap() LabelMap {
	return LabelMap{
		WhiteMatter: []int{2, 41},
		GrayMatter:  []int{3, 42},
		Background:  []int{0},
	}
}

// Foreground returns the union of the white and gray matter label sets,
// the tissue used as the SNR signal class.
func (m LabelMap) Foreground() []int {
	fg := make([]int, 0, len(m.WhiteMatter)+len(m.GrayMatter))
	fg = append(fg, m.WhiteMatter...)
	return append(fg, m.GrayMatter...)
}

// EFC computes the Entropy Focus Criterion of an intensity volume.
//
// Each voxel is normalized by the global L2 norm of the image and the
// Shannon-style entropy sum is scaled by the theoretical maximum for an
// image of that voxel count, which occurs when all voxels carry the same
// value. EFC is ~0 when all energy sits in a single voxel and grows
// toward 1 as intensity disperses; higher values indicate more ghosting
// and blurring.
//
// An all-zero image has no defined intensity distribution and returns a
// numeric-domain error.
func EFC(img []float64) (float64, error) {
	if len(img) == 0 {
		return 0, fmt.Errorf("efc: empty image: %w", ErrDomain)
	}

	bMax := floats.Norm(img, 2)
	if bMax == 0 {
		return 0, fmt.Errorf("efc: all-zero image has no defined entropy: %w", ErrDomain)
	}

	// Maximum entropy for n voxels, reached by a uniform image
	n := float64(len(img))
	efcMax := n * (1.0 / math.Sqrt(n)) * math.Log(1.0/math.Sqrt(n))

	var sum float64
	for _, v := range img {
		sum += (v / bMax) * math.Log((v+logEpsilon)/bMax)
	}

	// Negative intensities put the logarithm outside its domain and
	// poison the sum; surface that instead of handing NaN downstream
	result := sum / efcMax
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("efc: entropy sum is not finite, image contains negative intensities: %w", ErrDomain)
	}

	return result, nil
}

// SNR computes the anatomical signal-to-noise ratio: the mean intensity
// over the foreground label set divided by the standard deviation of the
// intensity over the noise label set (typically background air).
//
// A zero noise standard deviation returns a numeric-domain error instead
// of silently producing infinity.
func SNR(img, seg []float64, foreground, noise []int) (float64, error) {
	if len(img) != len(seg) {
		return 0, fmt.Errorf("snr: image has %d voxels but segmentation has %d: %w", len(img), len(seg), ErrShape)
	}

	fg, err := selectClass(img, seg, foreground, "snr foreground")
	if err != nil {
		return 0, err
	}
	bg, err := selectClass(img, seg, noise, "snr noise")
	if err != nil {
		return 0, err
	}

	sigma := stat.PopStdDev(bg, nil)
	if sigma == 0 {
		return 0, fmt.Errorf("snr: noise class standard deviation is zero: %w", ErrDomain)
	}

	return stat.Mean(fg, nil) / sigma, nil
}

// CNR computes the white-matter/gray-matter contrast-to-noise ratio:
// the difference of the two class means divided by the pooled noise
// estimate sqrt(sd_bg^2 + sd_wm^2 + sd_gm^2).
//
// Swapping which class is "first" flips only the sign. A zero pooled
// noise estimate returns a numeric-domain error.
func CNR(img, seg []float64, labels LabelMap) (float64, error) {
	if len(img) != len(seg) {
		return 0, fmt.Errorf("cnr: image has %d voxels but segmentation has %d: %w", len(img), len(seg), ErrShape)
	}

	wm, err := selectClass(img, seg, labels.WhiteMatter, "white matter")
	if err != nil {
		return 0, err
	}
	gm, err := selectClass(img, seg, labels.GrayMatter, "gray matter")
	if err != nil {
		return 0, err
	}
	bg, err := selectClass(img, seg, labels.Background, "background")
	if err != nil {
		return 0, err
	}

	sdWM := stat.PopStdDev(wm, nil)
	sdGM := stat.PopStdDev(gm, nil)
	sdBG := stat.PopStdDev(bg, nil)

	denom := math.Sqrt(sdBG*sdBG + sdWM*sdWM + sdGM*sdGM)
	if denom == 0 {
		return 0, fmt.Errorf("cnr: pooled noise estimate is zero: %w", ErrDomain)
	}

	return (stat.Mean(wm, nil) - stat.Mean(gm, nil)) / denom, nil
}

// CJV computes the coefficient of joint variation of white and gray
// matter: the sum of the two class standard deviations divided by the
// absolute difference of their means. Lower values indicate better
// tissue separability; the value is invariant under swapping the two
// classes.
//
// Identical class means return a numeric-domain error.
func CJV(img, seg []float64, labels LabelMap) (float64, error) {
	if len(img) != len(seg) {
		return 0, fmt.Errorf("cjv: image has %d voxels but segmentation has %d: %w", len(img), len(seg), ErrShape)
	}

	wm, err := selectClass(img, seg, labels.WhiteMatter, "white matter")
	if err != nil {
		return 0, err
	}
	gm, err := selectClass(img, seg, labels.GrayMatter, "gray matter")
	if err != nil {
		return 0, err
	}

	diff := math.Abs(stat.Mean(wm, nil) - stat.Mean(gm, nil))
	if diff == 0 {
		return 0, fmt.Errorf("cjv: white and gray matter means are identical: %w", ErrDomain)
	}

	return (stat.PopStdDev(wm, nil) + stat.PopStdDev(gm, nil)) / diff, nil
}

// MinMaxNormalize rescales intensities to [0, 1]. CNR and CJV are
// computed on normalized intensities so that values are comparable
// across acquisitions with different dynamic ranges.
//
// A flat image (max == min) returns a numeric-domain error.
func MinMaxNormalize(img []float64) ([]float64, error) {
	if len(img) == 0 {
		return nil, fmt.Errorf("normalize: empty image: %w", ErrDomain)
	}

	lo := floats.Min(img)
	hi := floats.Max(img)
	if hi == lo {
		return nil, fmt.Errorf("normalize: flat image, max equals min: %w", ErrDomain)
	}

	out := make([]float64, len(img))
	span := hi - lo
	for i, v := range img {
		out[i] = (v - lo) / span
	}
	return out, nil
}

// selectClass gathers the intensities of all voxels whose segmentation
// label is in the given set
func selectClass(img, seg []float64, labels []int, role string) ([]float64, error) {
	var out []float64
	for i, s := range seg {
		if inLabelSet(int(math.Round(s)), labels) {
			out = append(out, img[i])
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no voxels labeled as %s (labels %v): %w", role, labels, ErrDomain)
	}
	return out, nil
}

func inLabelSet(v int, labels []int) bool {
	for _, l := range labels {
		if v == l {
			return true
		}
	}
	return false
}
