package expander

import "gonum.org/v1/gonum/blas/blas32"

const normEps = 1e-8

func vec(v []float32) blas32.Vector {
	return blas32.Vector{N: len(v), Inc: 1, Data: v}
}

// cosine is u·v / (max(‖u‖, ε) · max(‖v‖, ε)).
func cosine(u, v []float32) float32 {
	nu := max(blas32.Nrm2(vec(u)), normEps)
	nv := max(blas32.Nrm2(vec(v)), normEps)
	return blas32.Dot(vec(u), vec(v)) / (nu * nv)
}

// cosineGrad returns the gradients wrt u and v of gc·cos(u, v), given the
// already computed similarity c.
//
//	∂c/∂u = v/(‖u‖‖v‖) − c·u/‖u‖²
func cosineGrad(u, v []float32, c, gc float32) (gu, gv []float32) {
	nu := max(blas32.Nrm2(vec(u)), normEps)
	nv := max(blas32.Nrm2(vec(v)), normEps)

	gu = make([]float32, len(u))
	blas32.Axpy(gc/(nu*nv), vec(v), vec(gu))
	blas32.Axpy(-gc*c/(nu*nu), vec(u), vec(gu))

	gv = make([]float32, len(v))
	blas32.Axpy(gc/(nu*nv), vec(u), vec(gv))
	blas32.Axpy(-gc*c/(nv*nv), vec(v), vec(gv))
	return gu, gv
}

func addTo(dst, src []float32) {
	blas32.Axpy(1, vec(src), vec(dst))
}
