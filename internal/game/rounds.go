// internal/game/rounds.go
//
// Round generation and operator selection.
// Responsibilities:
//   - ApplyOperation: pure arithmetic for a single selection.
//   - IsOperatorSafe: the heuristic that keeps the game within reach of the target.
//   - ChooseOperator / PreviewOperator: random pick among safe operators.
//   - GenerateCandidates: up to five distinct operands for the round.
//
// Notes:
//   - Candidate pools are filtered to results within MaxDistance of the target.
//     When a pool has fewer than CandidateCount values it is topped up from a
//     small fixed fallback set, which may leave that range. This is accepted.

package game

import "math/rand/v2"

// fallbackCandidates tops up under-populated pools, per operator.
var fallbackCandidates = map[Operator][]int{
	OpAdd: {1, 2, 3, 4, 5},
	OpMul: {1, 2, 3, 4, 5},
	OpSub: {1, 2, 3},
	OpDiv: {1},
}

// ApplyOperation returns current <op> n.
// Division is floor division; a zero divisor or unknown operator leaves current unchanged.
func ApplyOperation(current int, op Operator, n int) int {
	switch op {
	case OpAdd:
		return current + n
	case OpSub:
		return current - n
	case OpMul:
		return current * n
	case OpDiv:
		if n == 0 {
			return current
		}
		return floorDiv(current, n)
	default:
		return current
	}
}

// floorDiv rounds toward negative infinity, unlike Go's truncating "/".
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// CountFactors returns the number of positive divisors of n (0 for n <= 0).
func CountFactors(n int) int {
	if n <= 0 {
		return 0
	}
	count := 0
	for i := 1; i*i <= n; i++ {
		if n%i != 0 {
			continue
		}
		count++
		if i != n/i {
			count++
		}
	}
	return count
}

// IsOperatorSafe reports whether op may be shown for the given current number.
//
// Rules:
//   - "/" needs current to have at least MinDivFactors divisors.
//   - "-" needs current >= 1 so there is at least one operand in 1..current.
//   - Further than MaxDistance above the target: "+" and "*" are unsafe.
//   - Further than MaxDistance below the target: "-" and "/" are unsafe.
func IsOperatorSafe(current int, op Operator, target int) bool {
	if op == OpDiv && CountFactors(current) < MinDivFactors {
		return false
	}
	if op == OpSub && current < 1 {
		return false
	}
	diff := current - target
	if abs(diff) > MaxDistance {
		if diff > 0 && (op == OpAdd || op == OpMul) {
			return false
		}
		if diff < 0 && (op == OpSub || op == OpDiv) {
			return false
		}
	}
	return true
}

// ChooseOperator picks uniformly among the operators safe for current.
func ChooseOperator(rng *rand.Rand, current, target int) Operator {
	return pickOperator(rng, []int{current}, target)
}

// PreviewOperator computes the operator for the round after this one.
// Every candidate is applied with op; only operators safe for all of the
// hypothetical results are kept.
func PreviewOperator(rng *rand.Rand, current int, op Operator, candidates []int, target int) Operator {
	results := make([]int, 0, len(candidates))
	for _, n := range candidates {
		results = append(results, ApplyOperation(current, op, n))
	}
	if len(results) == 0 {
		results = append(results, current)
	}
	return pickOperator(rng, results, target)
}

// pickOperator keeps the operators that are safe for every value in results.
// With no survivors it falls back to "+" and "-", dropping "-" when some
// result leaves no subtraction operand.
func pickOperator(rng *rand.Rand, results []int, target int) Operator {
	safe := make([]Operator, 0, len(allOperators))
	for _, op := range allOperators {
		if safeForAll(results, op, target) {
			safe = append(safe, op)
		}
	}
	if len(safe) == 0 {
		for _, op := range fallbackOperators {
			if op == OpSub && minOf(results) < 1 {
				continue
			}
			safe = append(safe, op)
		}
	}
	return safe[rng.IntN(len(safe))]
}

func safeForAll(results []int, op Operator, target int) bool {
	for _, r := range results {
		if !IsOperatorSafe(r, op, target) {
			return false
		}
	}
	return true
}

// GenerateCandidates returns up to CandidateCount distinct positive operands
// for (current, op), sampled without replacement from the operator's pool.
func GenerateCandidates(rng *rand.Rand, current int, op Operator, target int) []int {
	pool := candidatePool(current, op, target)
	picks := sample(rng, pool, CandidateCount)
	if len(picks) >= CandidateCount {
		return picks
	}

	seen := make(map[int]struct{}, CandidateCount)
	for _, n := range picks {
		seen[n] = struct{}{}
	}
	for _, n := range fallbackCandidates[op] {
		if len(picks) == CandidateCount {
			break
		}
		if op == OpSub && n > current {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		picks = append(picks, n)
	}
	return picks
}

// candidatePool lists every operand legal for op whose result stays within MaxDistance of target.
func candidatePool(current int, op Operator, target int) []int {
	var lo, hi int
	switch op {
	case OpSub, OpDiv:
		lo, hi = 1, current
	case OpAdd:
		lo, hi = 1, AddPoolMax
	case OpMul:
		lo, hi = 1, MulPoolMax
	default:
		return nil
	}

	var pool []int
	for n := lo; n <= hi; n++ {
		if op == OpDiv && current%n != 0 {
			continue
		}
		if abs(ApplyOperation(current, op, n)-target) <= MaxDistance {
			pool = append(pool, n)
		}
	}
	return pool
}

// sample returns up to k values of pool in random order using a partial Fisher-Yates shuffle.
// pool is not modified.
func sample(rng *rand.Rand, pool []int, k int) []int {
	buf := append([]int(nil), pool...)
	if k > len(buf) {
		k = len(buf)
	}
	for i := 0; i < k; i++ {
		j := i + rng.IntN(len(buf)-i)
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf[:k]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func minOf(xs []int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
