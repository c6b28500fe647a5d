// ops_multinomial.go - Multinomial-Sampling ueber Wahrscheinlichkeitszeilen
//
// Fuer jede Zeile einer Wahrscheinlichkeitsmatrix p[B,C] (keine
// Log-Wahrscheinlichkeiten) werden sample_size Indizes gezogen. Mit
// Zuruecklegen: inverse-CDF-Ziehungen auf der kumulativen Verteilung.
// Ohne Zuruecklegen: nach jeder Ziehung wird die gewaehlte Masse auf
// Null gesetzt und renormalisiert.
package tensor

import "sort"

// Multinomial samples sampleSize indices per row of p.
func Multinomial(p *Storage, sampleSize int, replacement bool, gen *Generator) (*Storage, error) {
	if p.Rank() != 2 {
		return nil, preconditionf("multinomial: expected rank-2 input, got %v", p.shape)
	}
	b, c := p.Dim(0), p.Dim(1)
	if sampleSize > c {
		return nil, preconditionf("multinomial: sample_size %d exceeds class size %d", sampleSize, c)
	}
	v := p.Floats()

	out := make([]int32, b*sampleSize)
	for i := 0; i < b; i++ {
		row := v[i*c : (i+1)*c]
		cumDist := make([]float64, c)
		var sum float64
		for j, x := range row {
			sum += float64(x)
			cumDist[j] = sum
		}
		if sum == 0 {
			return nil, preconditionf("multinomial: row %d sums to zero", i)
		}
		for j := range cumDist {
			cumDist[j] /= sum
		}

		for s := 0; s < sampleSize; s++ {
			u := gen.Float64()
			idx := sort.Search(c, func(k int) bool { return cumDist[k] >= u })
			if idx == c {
				idx = c - 1
			}
			out[i*sampleSize+s] = int32(idx)

			if !replacement && s+1 < sampleSize {
				prev := 0.0
				if idx > 0 {
					prev = cumDist[idx-1]
				}
				mass := cumDist[idx] - prev
				for k := idx; k < c; k++ {
					cumDist[k] -= mass
				}
				newSum := 1 - mass
				if newSum <= 0 {
					break
				}
				for k := range cumDist {
					cumDist[k] /= newSum
				}
			}
		}
	}

	result := Zeros(DTypeI32, p.device, b, sampleSize)
	result.FromInts(out)
	return result, nil
}
