// Package volume loads 3D MRI volumes from disk, dispatching on the
// storage format: single-file NIfTI-1 images (.nii, .nii.gz) or a
// directory holding one DICOM series.
package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"mriqa/internal/models"
	"mriqa/pkg/nifti"
)

// Load reads the volume at path. A regular file is parsed as NIfTI-1;
// a directory is stacked as a DICOM series ordered by instance number.
func Load(path string) (*models.Volume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat volume: %w", err)
	}

	if info.IsDir() {
		return loadSeries(path)
	}

	if strings.HasSuffix(path, ".nii") || strings.HasSuffix(path, ".nii.gz") {
		return nifti.Load(path)
	}

	return nil, fmt.Errorf("unsupported volume format: %s", path)
}

// dcmSlice is one parsed DICOM file awaiting its place in the stack
type dcmSlice struct {
	instance int
	rows     int
	cols     int
	pixels   []float64
}

// loadSeries stacks all .dcm files under dir into a single 3D volume.
// Slices are ordered by InstanceNumber, falling back to filename order
// when the tag is absent. All slices must agree on rows and columns.
func loadSeries(dir string) (*models.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading DICOM series directory: %w", err)
	}

	var slices []dcmSlice
	for i, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".dcm") {
			continue
		}
		s, err := loadSlice(filepath.Join(dir, entry.Name()), i)
		if err != nil {
			return nil, fmt.Errorf("slice %s: %w", entry.Name(), err)
		}
		slices = append(slices, s)
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("no .dcm files in series directory %s", dir)
	}

	sort.Slice(slices, func(i, j int) bool { return slices[i].instance < slices[j].instance })

	nx, ny := slices[0].cols, slices[0].rows
	vol := models.NewVolume(nx, ny, len(slices))
	for z, s := range slices {
		if s.cols != nx || s.rows != ny {
			return nil, fmt.Errorf("series %s: slice %d is %dx%d, expected %dx%d", dir, z, s.cols, s.rows, nx, ny)
		}
		copy(vol.Data[z*nx*ny:(z+1)*nx*ny], s.pixels)
	}
	return vol, nil
}

func loadSlice(path string, fallbackOrder int) (dcmSlice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return dcmSlice{}, fmt.Errorf("parsing DICOM file: %w", err)
	}

	s := dcmSlice{instance: fallbackOrder}
	if n, err := elementInt(ds, tag.InstanceNumber); err == nil {
		s.instance = n
	}

	pixelElem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return dcmSlice{}, fmt.Errorf("missing PixelData: %w", err)
	}

	info := dicom.MustGetPixelDataInfo(pixelElem.Value)
	for _, fr := range info.Frames {
		native, err := fr.GetNativeFrame()
		if err != nil {
			return dcmSlice{}, fmt.Errorf("decoding frame: %w", err)
		}
		if s.rows == 0 {
			s.rows, s.cols = native.Rows, native.Cols
		}
		for _, px := range native.Data {
			s.pixels = append(s.pixels, float64(px[0]))
		}
	}
	if len(s.pixels) == 0 {
		return dcmSlice{}, fmt.Errorf("no native pixel frames in %s", path)
	}
	return s, nil
}

// elementInt reads a single integer element, accepting both the integer
// and the IS-string representations
func elementInt(ds dicom.Dataset, t tag.Tag) (int, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, err
	}
	switch v := el.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], nil
		}
	case []string:
		if len(v) > 0 {
			return strconv.Atoi(strings.TrimSpace(v[0]))
		}
	}
	return 0, fmt.Errorf("element %v has no integer value", t)
}
