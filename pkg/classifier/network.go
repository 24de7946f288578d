package classifier

import (
	"fmt"

	"github.com/itohio/emgarm/pkg/model"
	"gonum.org/v1/gonum/mat"
)

type dense struct {
	w    *mat.Dense
	b    *mat.VecDense
	out  *mat.VecDense
	relu bool
}

func newDense(l model.Layer, relu bool) dense {
	w := make([]float64, len(l.Weights))
	for i, v := range l.Weights {
		w[i] = float64(v)
	}
	b := make([]float64, len(l.Bias))
	for i, v := range l.Bias {
		b[i] = float64(v)
	}
	return dense{
		w:    mat.NewDense(l.Out, l.In, w),
		b:    mat.NewVecDense(l.Out, b),
		out:  mat.NewVecDense(l.Out, nil),
		relu: relu,
	}
}

func (d *dense) forward(x mat.Vector) *mat.VecDense {
	d.out.MulVec(d.w, x)
	d.out.AddVec(d.out, d.b)
	if d.relu {
		raw := d.out.RawVector().Data
		for i, v := range raw {
			if v < 0 {
				raw[i] = 0
			}
		}
	}
	return d.out
}

// Network is the feed-forward stack built from model weights: every hidden
// layer is linear, dropout and ReLU; the last layer is linear only.
//
// Dropout is an identity at inference, so the forward pass is deterministic.
// A Network reuses its activation buffers and must not be shared between
// goroutines; the weights it was built from may be.
type Network struct {
	layers  []dense
	in      *mat.VecDense
	dropout float64
}

// NewNetwork builds the layer stack. dropout is the training-time rate kept for
// reporting and must lie in [0, 1).
func NewNetwork(w *model.Weights, dropout float64) (*Network, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if dropout < 0 || dropout >= 1 {
		return nil, fmt.Errorf("dropout rate must be in [0, 1), got %v", dropout)
	}

	n := &Network{
		layers:  make([]dense, len(w.Layers)),
		in:      mat.NewVecDense(w.InputLen(), nil),
		dropout: dropout,
	}
	last := len(w.Layers) - 1
	for i, l := range w.Layers {
		n.layers[i] = newDense(l, i != last)
	}
	return n, nil
}

// InputLen returns the expected feature count.
func (n *Network) InputLen() int {
	return n.in.Len()
}

// OutputLen returns the number of raw outputs.
func (n *Network) OutputLen() int {
	return n.layers[len(n.layers)-1].out.Len()
}

// Dropout returns the training-time dropout rate.
func (n *Network) Dropout() float64 {
	return n.dropout
}

// Forward runs the network and returns a fresh slice of raw outputs.
func (n *Network) Forward(x []float64) ([]float64, error) {
	if len(x) != n.InputLen() {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrInputSize, len(x), n.InputLen())
	}
	copy(n.in.RawVector().Data, x)

	var v mat.Vector = n.in
	for i := range n.layers {
		v = n.layers[i].forward(v)
	}

	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out, nil
}
