// Copyright 2024 The evmtaint Authors
// This file is part of the evmtaint library.
//
// The evmtaint library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The evmtaint library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the evmtaint library. If not, see <http://www.gnu.org/licenses/>.

package symbolic

import (
	"errors"
	"math/big"
)

// ErrComparisonUndefined is raised by Polynomial.Eq when the difference of
// the two polynomials has both positive and negative coefficients: no
// sound pos/neg-only verdict can be reached without a full solver. Callers
// that can tolerate a false negative pass silence=true to collapse this to
// false instead of propagating the error (see SPEC_FULL.md §4.3/§4.5 for
// which call sites silence and which do not).
//
// math/big, not holiman/uint256, backs the polynomial constant: the
// constant is genuinely signed (normalized into [-2^255, 2^255)) and
// uint256.Int has no signed representation, so there is no ecosystem
// 256-bit-signed type in the retrieval pack to reach for here.
var ErrComparisonUndefined = errors.New("symbolic: polynomial comparison undefined")

var (
	twoTo256 = new(big.Int).Lsh(big.NewInt(1), 256)
	twoTo255 = new(big.Int).Lsh(big.NewInt(1), 255)
)

// normalize reduces c modulo 2^256 and maps the result into the signed
// range [-2^255, 2^255), matching the Python original's Polynomial.cvt.
func normalize(c *big.Int) *big.Int {
	m := new(big.Int).Mod(c, twoTo256)
	if m.Sign() < 0 {
		m.Add(m, twoTo256)
	}
	if m.Cmp(twoTo255) >= 0 {
		m.Sub(m, twoTo256)
	}
	return m
}

// Polynomial is a linear form over opaque integer terms: sum(coeff_i *
// term_i) + const, with const normalized to a signed 256-bit range. Terms
// are keyed by their big.Int decimal text so that two structurally
// identical term values (e.g. two SHA3 preimage encodings) collide.
type Polynomial struct {
	terms map[string]int64
	Const *big.Int
}

// NewConstPolynomial builds a pure-constant polynomial.
func NewConstPolynomial(c *big.Int) *Polynomial {
	return &Polynomial{terms: map[string]int64{}, Const: normalize(new(big.Int).Set(c))}
}

// NewTermPolynomial builds a single-term polynomial with coefficient 1 and
// constant 0.
func NewTermPolynomial(term *big.Int) *Polynomial {
	p := &Polynomial{terms: map[string]int64{}, Const: big.NewInt(0)}
	p.terms[term.Text(10)] = 1
	return p
}

// Copy returns an independent copy: a new term map and a new big.Int
// holding the same constant.
func (p *Polynomial) Copy() *Polynomial {
	np := &Polynomial{terms: make(map[string]int64, len(p.terms)), Const: new(big.Int).Set(p.Const)}
	for k, v := range p.terms {
		np.terms[k] = v
	}
	return np
}

// Add mutates p to p + other.
func (p *Polynomial) Add(other *Polynomial) {
	for k, n := range other.terms {
		p.terms[k] += n
	}
	p.Const = normalize(new(big.Int).Add(p.Const, other.Const))
}

// Sub mutates p to p - other.
func (p *Polynomial) Sub(other *Polynomial) {
	for k, n := range other.terms {
		p.terms[k] -= n
	}
	p.Const = normalize(new(big.Int).Sub(p.Const, other.Const))
}

// cmp returns -1, 0, or 1 for (p - other) being all-negative, all-zero, or
// all-positive across every coefficient and the constant; it returns
// ErrComparisonUndefined when both signs appear.
func (p *Polynomial) cmp(other *Polynomial) (int, error) {
	res := p.Copy()
	res.Sub(other)

	pos, neg := 0, 0
	for _, n := range res.terms {
		switch {
		case n > 0:
			pos++
		case n < 0:
			neg++
		}
	}
	switch res.Const.Sign() {
	case 1:
		pos++
	case -1:
		neg++
	}

	switch {
	case pos > 0 && neg == 0:
		return 1, nil
	case neg > 0 && pos == 0:
		return -1, nil
	case pos == 0 && neg == 0:
		return 0, nil
	default:
		return 0, ErrComparisonUndefined
	}
}

// Eq reports structural equality of p and other. When the comparison is
// undecidable (mixed-sign difference) and silence is true, Eq returns
// false instead of an error.
func (p *Polynomial) Eq(other *Polynomial, silence bool) (bool, error) {
	c, err := p.cmp(other)
	if err != nil {
		if silence {
			return false, nil
		}
		return false, err
	}
	return c == 0, nil
}
