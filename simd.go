package nnsearch

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/viterin/vek"
	"github.com/viterin/vek/vek32"
)

// Generic dispatch over the vek SIMD kernels. The float32 and float64
// variants live in separate sub-packages, so each wrapper switches once on
// the concrete slice type; with Scalar restricted to exactly float32 and
// float64, the assertions below cannot fail.

// dot returns the dot product of two equal-length vectors.
func dot[T Scalar](a, b []T) T {
	switch a := any(a).(type) {
	case []float32:
		return T(vek32.Dot(a, any(b).([]float32)))
	case []float64:
		return T(vek.Dot(a, any(b).([]float64)))
	}
	panic("nnsearch: unreachable scalar type")
}

// subInto stores a - b into dst.
func subInto[T Scalar](dst, a, b []T) {
	switch dst := any(dst).(type) {
	case []float32:
		vek32.Sub_Into(dst, any(a).([]float32), any(b).([]float32))
	case []float64:
		vek.Sub_Into(dst, any(a).([]float64), any(b).([]float64))
	}
}

// minimumInplace lowers each element of dst to min(dst[i], b[i]).
func minimumInplace[T Scalar](dst, b []T) {
	switch dst := any(dst).(type) {
	case []float32:
		vek32.Minimum_Inplace(dst, any(b).([]float32))
	case []float64:
		vek.Minimum_Inplace(dst, any(b).([]float64))
	}
}

// maximumInplace raises each element of dst to max(dst[i], b[i]).
func maximumInplace[T Scalar](dst, b []T) {
	switch dst := any(dst).(type) {
	case []float32:
		vek32.Maximum_Inplace(dst, any(b).([]float32))
	case []float64:
		vek.Maximum_Inplace(dst, any(b).([]float64))
	}
}

// infinity returns +Inf in the scalar type.
func infinity[T Scalar]() T {
	var z T
	if _, ok := any(z).(float32); ok {
		return T(math32.Inf(1))
	}
	return T(math.Inf(1))
}

// dist2 returns the squared Euclidean distance between two equal-length
// vectors. Scalar loop; the tree searchers call this on short vectors where
// kernel dispatch overhead dominates.
func dist2[T Scalar](a, b []T) T {
	var sum T
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// dist2Into returns the squared Euclidean distance between a and b through
// the SIMD kernels, using scratch (same length) as workspace.
func dist2Into[T Scalar](scratch, a, b []T) T {
	subInto(scratch, a, b)
	return dot(scratch, scratch)
}
