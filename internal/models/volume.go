package models

import "fmt"

// Volume represents a 3D MRI volume as voxel intensities
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order,
	// indexed as Data[z*Nx*Ny + y*Nx + x]
	Data []float64

	// Nx, Ny, Nz are the dimensions of the volume in voxels
	Nx, Ny, Nz int
}

// NewVolume allocates a zero-filled volume with the given dimensions
func NewVolume(nx, ny, nz int) *Volume {
	return &Volume{
		Data: make([]float64, nx*ny*nz),
		Nx:   nx,
		Ny:   ny,
		Nz:   nz,
	}
}

// At returns the voxel intensity at the given coordinates
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[z*v.Nx*v.Ny+y*v.Nx+x]
}

// Set writes the voxel intensity at the given coordinates
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[z*v.Nx*v.Ny+y*v.Nx+x] = value
}

// SameShape reports whether two volumes share the same voxel grid.
// The intensity volume and its tissue segmentation must agree on shape
// before any metric can be computed.
func (v *Volume) SameShape(other *Volume) bool {
	return v.Nx == other.Nx && v.Ny == other.Ny && v.Nz == other.Nz
}

// ShapeString returns the dimensions formatted for log and error messages
func (v *Volume) ShapeString() string {
	return fmt.Sprintf("%dx%dx%d", v.Nx, v.Ny, v.Nz)
}
