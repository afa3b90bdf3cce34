package nnsearch

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// cloud is an immutable view over a D×N column-major point buffer, plus the
// axis-aligned bounding box of all points. The buffer is borrowed from the
// caller, never copied.
type cloud[T Scalar] struct {
	data []T
	dims int
	n    int

	// minBound[d] <= data[i*dims+d] <= maxBound[d] for every column i.
	minBound []T
	maxBound []T
}

func newCloud[T Scalar](data []T, dims int) (cloud[T], error) {
	if dims < 1 {
		return cloud[T]{}, fmt.Errorf("nnsearch: cloud must have at least 1 dimension, got %d", dims)
	}
	if len(data) == 0 {
		return cloud[T]{}, fmt.Errorf("nnsearch: cloud has no points")
	}
	if len(data)%dims != 0 {
		return cloud[T]{}, fmt.Errorf("nnsearch: cloud buffer length %d is not a multiple of %d dimensions", len(data), dims)
	}
	n := len(data) / dims

	minBound := make([]T, dims)
	maxBound := make([]T, dims)
	copy(minBound, data[:dims])
	copy(maxBound, data[:dims])
	for i := 1; i < n; i++ {
		col := data[i*dims : (i+1)*dims]
		minimumInplace(minBound, col)
		maximumInplace(maxBound, col)
	}

	return cloud[T]{
		data:     data,
		dims:     dims,
		n:        n,
		minBound: minBound,
		maxBound: maxBound,
	}, nil
}

// col returns the coordinates of cloud column i as a sub-slice of the
// backing buffer.
func (c *cloud[T]) col(i int) []T {
	return c.data[i*c.dims : (i+1)*c.dims]
}

// at returns coordinate dim of cloud column i.
func (c *cloud[T]) at(dim, i int) T {
	return c.data[i*c.dims+dim]
}

// cellOffsets fills off with the per-dimension distance from query to the
// cloud's bounding box and returns the squared norm of off. Zero when the
// query lies inside the box.
func (c *cloud[T]) cellOffsets(query, off []T) T {
	var rd T
	for d := range off {
		var o T
		if query[d] < c.minBound[d] {
			o = c.minBound[d] - query[d]
		} else if query[d] > c.maxBound[d] {
			o = query[d] - c.maxBound[d]
		}
		off[d] = o
		rd += o * o
	}
	return rd
}

// FromDense converts a gonum dense matrix holding one point per column into
// the flat column-major buffer the searchers consume, returning the buffer
// and the number of rows. The data is copied, since gonum matrices are
// row-major.
func FromDense(m mat.Matrix) ([]float64, int) {
	d, n := m.Dims()
	data := make([]float64, d*n)
	for j := 0; j < n; j++ {
		for i := 0; i < d; i++ {
			data[j*d+i] = m.At(i, j)
		}
	}
	return data, d
}
