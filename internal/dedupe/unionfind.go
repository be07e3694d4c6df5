package dedupe

// Reason names the key that linked two rows into one group
type Reason string

const (
	ReasonPlaceID             Reason = "place_id"
	ReasonAddressFull         Reason = "address_full"
	ReasonAddressNoZip        Reason = "address_no_zip"
	ReasonCoordinateProximity Reason = "coordinate_proximity"
)

// reasonPriority ranks reasons; lower wins
var reasonPriority = map[Reason]int{
	ReasonPlaceID:             0,
	ReasonAddressFull:         1,
	ReasonAddressNoZip:        2,
	ReasonCoordinateProximity: 3,
}

// Priority returns the rank of r. Unknown reasons rank last.
func (r Reason) Priority() int {
	if p, ok := reasonPriority[r]; ok {
		return p
	}
	return len(reasonPriority)
}

// better returns whichever of a and b has the lower priority number. An empty
// reason never wins.
func better(a, b Reason) Reason {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if b.Priority() < a.Priority() {
		return b
	}
	return a
}

// UnionFind is a disjoint-set over row indices that also tracks, per root,
// the best reason seen in the set's union history. The root of every set is
// its smallest index.
type UnionFind struct {
	parent []int
	reason map[int]Reason
}

// NewUnionFind creates n singleton sets
func NewUnionFind(n int) *UnionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &UnionFind{parent: parent, reason: make(map[int]Reason)}
}

// Find returns the root of x, compressing the path behind it
func (u *UnionFind) Find(x int) int {
	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[x] != root {
		next := u.parent[x]
		u.parent[x] = root
		x = next
	}
	return root
}

// Union joins the sets of a and b, recording reason against the merged root
func (u *UnionFind) Union(a, b int, reason Reason) {
	ra, rb := u.Find(a), u.Find(b)
	if ra == rb {
		u.reason[ra] = better(u.reason[ra], reason)
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}

	u.parent[rb] = ra
	u.reason[ra] = better(better(u.reason[ra], u.reason[rb]), reason)
	delete(u.reason, rb)
}

// Reason returns the best reason recorded for the set containing x
func (u *UnionFind) Reason(x int) Reason {
	return u.reason[u.Find(x)]
}

// Components returns the members of every set, keyed by root, members in
// ascending index order
func (u *UnionFind) Components() map[int][]int {
	sets := make(map[int][]int)
	for i := range u.parent {
		root := u.Find(i)
		sets[root] = append(sets[root], i)
	}
	return sets
}
