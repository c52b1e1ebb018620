// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz), the storage format used for anatomical images and tissue
// segmentations in BIDS-like datasets.
//
// The header layout follows the official nifti1.h definition,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"mriqa/internal/models"
)

// NIfTI-1 datatype codes for the subset of voxel types we accept
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtUint16  = 512
)

const (
	// headerSize is the fixed size of the NIfTI-1 header on disk
	headerSize = 348

	// dataOffset is the minimum voxel data offset for single-file NIfTI
	// (header plus the 4-byte extension flag)
	dataOffset = 352
)

// header mirrors the on-disk NIfTI-1 header. Field order and sizes must
// not change: the struct is decoded directly with binary.Read.
type header struct {
	SizeofHdr      int32      // Must be 348
	UnusedDataType [10]byte   // Unused
	UnusedDbName   [18]byte   // Unused
	UnusedExtents  int32      // Unused
	UnusedSessErr  int16      // Unused
	UnusedRegular  byte       // Unused
	DimInfo        byte       // MRI slice ordering
	Dim            [8]int16   // Data array dimensions
	IntentP1       float32    // 1st intent parameter
	IntentP2       float32    // 2nd intent parameter
	IntentP3       float32    // 3rd intent parameter
	IntentCode     int16      // NIFTI_INTENT_* code
	Datatype       int16      // Defines the voxel data type
	Bitpix         int16      // Number of bits per voxel
	SliceStart     int16      // First slice index
	Pixdim         [8]float32 // Grid spacing
	VoxOffset      float32    // Offset into the .nii file
	SclSlope       float32    // Data scaling: slope
	SclInter       float32    // Data scaling: offset
	SliceEnd       int16      // Last slice index
	SliceCode      byte       // Slice timing order
	XyztUnits      byte       // Units of pixdim[1..4]
	CalMax         float32    // Max display intensity
	CalMin         float32    // Min display intensity
	SliceDuration  float32    // Time for one slice
	Toffset        float32    // Time axis shift
	UnusedGlmax    int32      // Unused
	UnusedGlmin    int32      // Unused
	Descrip        [80]byte   // Free-form description
	AuxFile        [24]byte   // Auxiliary filename
	QformCode      int16      // NIFTI_XFORM_* code
	SformCode      int16      // NIFTI_XFORM_* code
	QuaternB       float32    // Quaternion b parameter
	QuaternC       float32    // Quaternion c parameter
	QuaternD       float32    // Quaternion d parameter
	QoffsetX       float32    // Quaternion x shift
	QoffsetY       float32    // Quaternion y shift
	QoffsetZ       float32    // Quaternion z shift
	SrowX          [4]float32 // 1st row of the affine transform
	SrowY          [4]float32 // 2nd row of the affine transform
	SrowZ          [4]float32 // 3rd row of the affine transform
	IntentName     [16]byte   // Name or meaning of the data
	Magic          [4]byte    // Must be "n+1\x00" for single-file NIfTI
}

// Load reads a single-file NIfTI-1 volume and returns it as a 3D volume
// of float64 intensities with any scl_slope/scl_inter scaling applied.
// Files ending in .gz are decompressed transparently.
func Load(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening NIfTI file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream of %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	return read(r, path)
}

func read(r io.Reader, path string) (*models.Volume, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading NIfTI header of %s: %w", path, err)
	}

	// The header carries no explicit endianness flag; a Dim[0] outside
	// [1, 7] means the file was written with the opposite byte order.
	var order binary.ByteOrder = binary.LittleEndian
	var hdr header
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return nil, fmt.Errorf("decoding NIfTI header of %s: %w", path, err)
	}
	if hdr.Dim[0] < 1 || hdr.Dim[0] > 7 {
		order = binary.BigEndian
		hdr = header{}
		if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
			return nil, fmt.Errorf("decoding NIfTI header of %s: %w", path, err)
		}
		if hdr.Dim[0] < 1 || hdr.Dim[0] > 7 {
			return nil, fmt.Errorf("%s: Dim[0]=%d is not in range [1, 7] in either byte order", path, hdr.Dim[0])
		}
	}

	if err := validate(&hdr, path); err != nil {
		return nil, err
	}

	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	if ny == 0 {
		ny = 1
	}
	if nz == 0 {
		nz = 1
	}

	// Skip from the end of the header to the start of the voxel data
	offset := int64(hdr.VoxOffset)
	if offset < dataOffset {
		offset = dataOffset
	}
	if _, err := io.CopyN(io.Discard, r, offset-headerSize); err != nil {
		return nil, fmt.Errorf("%s has fewer bytes than the voxel offset requires: %w", path, err)
	}

	vol := models.NewVolume(nx, ny, nz)
	if err := readVoxels(r, order, hdr.Datatype, vol.Data); err != nil {
		return nil, fmt.Errorf("reading voxel data of %s: %w", path, err)
	}

	// Apply the affine intensity scaling when present. A slope of zero
	// means "no scaling" per the NIfTI-1 convention.
	if hdr.SclSlope != 0 && !(hdr.SclSlope == 1 && hdr.SclInter == 0) {
		slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
		for i, v := range vol.Data {
			vol.Data[i] = slope*v + inter
		}
	}

	return vol, nil
}

func validate(hdr *header, path string) error {
	if hdr.SizeofHdr != headerSize {
		return fmt.Errorf("%s: invalid header size %d for NIfTI-1", path, hdr.SizeofHdr)
	}
	if hdr.Magic != [4]byte{'n', '+', '1', 0} {
		return fmt.Errorf("%s: unsupported magic %q, voxel data must live in the same file as the header", path, hdr.Magic[:])
	}
	// Trailing singleton dimensions are fine; a genuine 4th dimension
	// (e.g. a time series) is not a single anatomical volume.
	for d := 4; d <= int(hdr.Dim[0]); d++ {
		if hdr.Dim[d] > 1 {
			return fmt.Errorf("%s: expected a 3-D volume, got Dim[%d]=%d", path, d, hdr.Dim[d])
		}
	}
	return nil
}

func readVoxels(r io.Reader, order binary.ByteOrder, datatype int16, out []float64) error {
	switch datatype {
	case dtUint8:
		buf := make([]uint8, len(out))
		if err := binary.Read(r, order, &buf); err != nil {
			return err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case dtInt16:
		buf := make([]int16, len(out))
		if err := binary.Read(r, order, &buf); err != nil {
			return err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case dtUint16:
		buf := make([]uint16, len(out))
		if err := binary.Read(r, order, &buf); err != nil {
			return err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case dtInt32:
		buf := make([]int32, len(out))
		if err := binary.Read(r, order, &buf); err != nil {
			return err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case dtFloat32:
		buf := make([]float32, len(out))
		if err := binary.Read(r, order, &buf); err != nil {
			return err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case dtFloat64:
		return binary.Read(r, order, &out)
	default:
		return fmt.Errorf("unsupported NIfTI datatype code %d", datatype)
	}
	return nil
}

// Save writes the volume as a single-file little-endian NIfTI-1 image
// with float32 voxels. Paths ending in .gz are gzip-compressed.
func Save(path string, vol *models.Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating NIfTI file: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	hdr := header{
		SizeofHdr: headerSize,
		Dim:       [8]int16{3, int16(vol.Nx), int16(vol.Ny), int16(vol.Nz), 1, 1, 1, 1},
		Datatype:  dtFloat32,
		Bitpix:    32,
		Pixdim:    [8]float32{1, 1, 1, 1, 0, 0, 0, 0},
		VoxOffset: dataOffset,
		SclSlope:  1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("writing NIfTI header: %w", err)
	}
	// Four zero bytes signal "no header extensions"
	if err := binary.Write(w, binary.LittleEndian, [4]byte{}); err != nil {
		return fmt.Errorf("writing NIfTI extension flag: %w", err)
	}

	buf := make([]float32, len(vol.Data))
	for i, v := range vol.Data {
		buf[i] = float32(v)
	}
	if err := binary.Write(w, binary.LittleEndian, buf); err != nil {
		return fmt.Errorf("writing NIfTI voxel data: %w", err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("flushing gzip stream: %w", err)
		}
	}
	return nil
}
