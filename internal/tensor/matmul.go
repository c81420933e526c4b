package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/perceiver/internal/parallel"
)

func general(rows, cols int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

// gemm computes c = a·op(b) for row-major matrices. a is [m, k]; b is
// [k, n], or [n, k] when transB is set.
func gemm(a []float32, m, k int, b []float32, n int, transB bool, c []float32) {
	if m == 0 || n == 0 {
		return
	}
	tB := blas.NoTrans
	bg := general(k, n, b)
	if transB {
		tB = blas.Trans
		bg = general(n, k, b)
	}
	blas32.Gemm(blas.NoTrans, tB, 1, general(m, k, a), bg, 0, general(m, n, c))
}

// MatMul multiplies a [M, K] by b [K, N].
func MatMul(a, b *Tensor) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 || a.shape[1] != b.shape[0] {
		panic(fmt.Sprintf("MatMul: incompatible shapes %v and %v", a.shape, b.shape))
	}
	m, k, n := a.shape[0], a.shape[1], b.shape[1]
	out := Zeros(m, n)
	gemm(a.data, m, k, b.data, n, false, out.data)
	return out
}

// Linear applies y = x·Wᵀ + b over the last axis of x.
//
// Shapes:
//   - x: [..., in]
//   - weight: [out, in]
//   - bias: [out] or nil
//
// Returns y with shape [..., out].
func Linear(x, weight, bias *Tensor) *Tensor {
	if len(weight.shape) != 2 {
		panic(fmt.Sprintf("Linear: expected 2D weight, got %v", weight.shape))
	}
	outF, inF := weight.shape[0], weight.shape[1]
	if len(x.shape) == 0 || x.shape[len(x.shape)-1] != inF {
		panic(fmt.Sprintf("Linear: input %v does not end in %d features", x.shape, inF))
	}
	rows := len(x.data) / inF
	outShape := x.shape.Clone()
	outShape[len(outShape)-1] = outF
	out := Zeros(outShape...)
	gemm(x.data, rows, inF, weight.data, outF, true, out.data)
	if bias != nil {
		if bias.Len() != outF {
			panic(fmt.Sprintf("Linear: bias has %d elements, want %d", bias.Len(), outF))
		}
		for r := range rows {
			row := out.data[r*outF : (r+1)*outF]
			for i, v := range bias.data {
				row[i] += v
			}
		}
	}
	return out
}

// BatchMatMul multiplies matching trailing matrices of a [..., M, K] and
// b [..., K, N] (or b [..., N, K] with transB). Leading dims must be equal.
func BatchMatMul(a, b *Tensor, transB bool) *Tensor {
	ra, rb := len(a.shape), len(b.shape)
	if ra < 2 || ra != rb || !a.shape[:ra-2].Equal(b.shape[:rb-2]) {
		panic(fmt.Sprintf("BatchMatMul: incompatible shapes %v and %v", a.shape, b.shape))
	}
	m, k := a.shape[ra-2], a.shape[ra-1]
	var n int
	if transB {
		n = b.shape[rb-2]
		if b.shape[rb-1] != k {
			panic(fmt.Sprintf("BatchMatMul: inner dims differ %v x %vᵀ", a.shape, b.shape))
		}
	} else {
		n = b.shape[rb-1]
		if b.shape[rb-2] != k {
			panic(fmt.Sprintf("BatchMatMul: inner dims differ %v x %v", a.shape, b.shape))
		}
	}
	batch := a.shape[:ra-2].NumElements()
	outShape := append(a.shape[:ra-2].Clone(), m, n)
	out := Zeros(outShape...)
	parallel.For(batch, func(i int) {
		gemm(a.data[i*m*k:(i+1)*m*k], m, k, b.data[i*k*n:(i+1)*k*n], n, transB, out.data[i*m*n:(i+1)*m*n])
	}, parallel.DefaultConfig())
	return out
}
