// Package valuebound implements the vector-valued state values and the
// immutable (L, U) return-bound arithmetic the solver uses throughout CRG
// construction and policy search. Scalarization (reducing a vector to a
// single comparable number) is delayed until the moment a comparison is
// actually needed — see StateValue.Total.
package valuebound

import "fmt"

// StateValue is a named numeric objective vector. All reward arithmetic in
// the solver is over this vector; scalarization is delayed until
// comparison (Total).
type StateValue struct {
	Names  []string
	Values []float64
}

// New creates a state value with the given names, all initialized to zero.
func New(names ...string) StateValue {
	return StateValue{Names: append([]string(nil), names...), Values: make([]float64, len(names))}
}

// NewWith creates a state value with explicit values, one per name.
func NewWith(names []string, values []float64) StateValue {
	if len(names) != len(values) {
		panic("valuebound: names/values length mismatch")
	}
	return StateValue{Names: append([]string(nil), names...), Values: append([]float64(nil), values...)}
}

// Empty reports whether this state value carries no objectives — the
// additive identity.
func (v StateValue) Empty() bool { return len(v.Values) == 0 }

// Copy returns a deep copy of v.
func (v StateValue) Copy() StateValue {
	return StateValue{Names: append([]string(nil), v.Names...), Values: append([]float64(nil), v.Values...)}
}

// Total returns the unweighted (unit-weight) scalarized total.
func (v StateValue) Total() float64 {
	sum := 0.0
	for _, x := range v.Values {
		sum += x
	}
	return sum
}

// WeightedTotal returns the scalarized total under the given per-objective
// weights. Panics if len(w) != len(v.Values).
func (v StateValue) WeightedTotal(w []float64) float64 {
	if len(w) != len(v.Values) {
		panic("valuebound: invalid number of weights specified")
	}
	sum := 0.0
	for i, x := range v.Values {
		sum += w[i] * x
	}
	return sum
}

// Add adds other to v elementwise, returning a new value. If v is empty, a
// copy of other is returned unchanged (the additive identity), and
// symmetrically if other is empty.
func (v StateValue) Add(other StateValue) StateValue {
	if v.Empty() {
		return other.Copy()
	}
	if other.Empty() {
		return v.Copy()
	}
	if len(v.Values) != len(other.Values) {
		panic(fmt.Sprintf("valuebound: incompatible state value: %v vs %v", v, other))
	}
	res := v.Copy()
	for i := range res.Values {
		res.Values[i] += other.Values[i]
	}
	return res
}

// Scale scales every objective by w, returning a new value.
func (v StateValue) Scale(w float64) StateValue {
	res := v.Copy()
	for i := range res.Values {
		res.Values[i] *= w
	}
	return res
}

// Expected returns the probability-weighted combination v*p + other*(1-p).
func (v StateValue) Expected(other StateValue, p float64) StateValue {
	return v.Scale(p).Add(other.Scale(1 - p))
}

func (v StateValue) String() string {
	if v.Empty() {
		return "Empty"
	}
	total := 0.0
	s := ""
	for i, x := range v.Values {
		if i > 0 {
			s += " + "
		}
		s += fmt.Sprintf("%.3f", x)
		total += x
	}
	return fmt.Sprintf("%s = %.3f", s, total)
}

// Bound is an immutable pair (L, U) of state values: a lower and upper
// envelope on remaining cumulative reward obtainable from a state.
type Bound struct {
	L StateValue
	U StateValue
}

// Empty returns the additive-identity bound (both L and U empty).
func Empty() Bound { return Bound{} }

// From constructs a degenerate bound where L = U = v.
func From(v StateValue) Bound { return Bound{L: v.Copy(), U: v.Copy()} }

// FromValue constructs a bound around a future bound plus an immediate
// value: both L and U of `future` have `value` added, mirroring the
// original's two-argument ValueBound(bound, value) constructor used to
// fold an immediate reward atop a future return bound.
func FromValue(future Bound, value StateValue) Bound {
	return Bound{L: future.L.Add(value), U: future.U.Add(value)}
}

// Update tightens an envelope over alternative choices: the componentwise
// minimum of the two L vectors and the componentwise maximum of the two U
// vectors. An empty side acts as the identity for that side.
func (b Bound) Update(other Bound) Bound {
	return Bound{L: componentwise(b.L, other.L, minf), U: componentwise(b.U, other.U, maxf)}
}

func componentwise(a, c StateValue, pick func(x, y float64) float64) StateValue {
	if a.Empty() {
		return c.Copy()
	}
	if c.Empty() {
		return a.Copy()
	}
	if len(a.Values) != len(c.Values) {
		panic(fmt.Sprintf("valuebound: incompatible state value: %v vs %v", a, c))
	}
	res := a.Copy()
	for i := range res.Values {
		res.Values[i] = pick(a.Values[i], c.Values[i])
	}
	return res
}

func minf(x, y float64) float64 {
	if x < y {
		return x
	}
	return y
}

func maxf(x, y float64) float64 {
	if x > y {
		return x
	}
	return y
}

// Add sums two bounds over sequential/parallel segments: (L+other.L,
// U+other.U). An empty bound acts as the additive identity.
func (b Bound) Add(other Bound) Bound {
	return Bound{L: b.L.Add(other.L), U: b.U.Add(other.U)}
}

// Scale scales both L and U by p.
func (b Bound) Scale(p float64) Bound {
	return Bound{L: b.L.Scale(p), U: b.U.Scale(p)}
}

func (b Bound) String() string { return fmt.Sprintf("[%s, %s]", b.L, b.U) }
