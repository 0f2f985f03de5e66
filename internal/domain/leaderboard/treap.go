package leaderboard

import (
	"math"
	"math/rand/v2"
	"time"
)

// key orders projects within a category. less means ranks earlier:
// score desc, totalStaked desc, createdAt asc, id asc.
type key struct {
	score     int64 // fixed point, scoreScale units
	staked    int64
	createdAt int64 // unix nanos
	id        string
}

func (a key) less(b key) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.staked != b.staked {
		return a.staked > b.staked
	}
	if a.createdAt != b.createdAt {
		return a.createdAt < b.createdAt
	}
	return a.id < b.id
}

func keyOf(id string, score float64, staked int64, createdAt time.Time) key {
	return key{score: toFixedPoint(score), staked: staked, createdAt: createdAt.UnixNano(), id: id}
}

// treap node augmented with subtree size for order statistics.
type node struct {
	k     key
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, k key) *node {
	if n == nil {
		return &node{k: k, prio: rand.Uint64(), size: 1} //nolint:gosec // treap balance, not security
	}
	if k.less(n.k) {
		n.left = insert(n.left, k)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, k)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func remove(n *node, k key) *node {
	if n == nil {
		return nil
	}
	switch {
	case k == n.k:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, k)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, k)
		}
	case k.less(n.k):
		n.left = remove(n.left, k)
	default:
		n.right = remove(n.right, k)
	}
	fix(n)
	return n
}

// rankOf returns the 1-based position of k, or 0 if absent.
func rankOf(n *node, k key) int {
	before := 0
	for n != nil {
		switch {
		case k == n.k:
			return before + nsize(n.left) + 1
		case k.less(n.k):
			n = n.left
		default:
			before += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0
}

// walk visits keys in rank order until fn returns false.
func walk(n *node, fn func(k key) bool) bool {
	if n == nil {
		return true
	}
	if !walk(n.left, fn) {
		return false
	}
	if !fn(n.k) {
		return false
	}
	return walk(n.right, fn)
}

// scoreScale keeps six decimal places of a 0..100 score.
const scoreScale = 1_000_000

func toFixedPoint(x float64) int64 {
	if math.IsNaN(x) {
		return 0
	}
	return int64(math.Round(x * scoreScale))
}

func toFloat(x int64) float64 {
	return float64(x) / scoreScale
}
