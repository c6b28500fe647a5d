// ops_topk.go - Zeilenweise TopK
package tensor

import "sort"

// TopK returns the k largest values of each row along with their
// indices, in descending order, ties broken by the lower index.
func TopK(x *Storage, k int) (values *Storage, indices *Storage, err error) {
	if x.Rank() != 2 {
		return nil, nil, preconditionf("topk: expected rank-2 input, got %v", x.shape)
	}
	b, n := x.Dim(0), x.Dim(1)
	if k > n {
		return nil, nil, preconditionf("topk: k=%d exceeds row length %d", k, n)
	}
	v := x.Floats()

	outVals := make([]float32, b*k)
	outIdx := make([]int32, b*k)

	order := make([]int, n)
	for i := 0; i < b; i++ {
		row := v[i*n : (i+1)*n]
		for j := range order {
			order[j] = j
		}
		sort.SliceStable(order, func(a, c int) bool {
			if row[order[a]] != row[order[c]] {
				return row[order[a]] > row[order[c]]
			}
			return order[a] < order[c]
		})
		for j := 0; j < k; j++ {
			outVals[i*k+j] = row[order[j]]
			outIdx[i*k+j] = int32(order[j])
		}
	}

	values = Zeros(DTypeF32, x.device, b, k)
	values.FromFloats(outVals)
	indices = Zeros(DTypeI32, x.device, b, k)
	indices.FromInts(outIdx)
	return values, indices, nil
}
