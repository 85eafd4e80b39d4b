package bayselm

import (
	"fmt"
	"math"
)

// stop probabilities below eps are treated as the end of the depth prior
const eps = 1e-24

const initialSamplingTableSize = 999

// VPYLM is a variable order Pitman-Yor language model. Context nodes live in
// an arena addressed by NodeID; the root is the empty context.
// A VPYLM is not safe for concurrent mutation. Read-only queries
// (ProbabilityGivenContext and friends) may run concurrently with each other.
type VPYLM struct {
	nodes []*Node  // arena, nil for free slots
	free  []NodeID // reusable slots
	live  int

	g0       float64 // 0-gram probability
	betaStop float64 // hyper-parameter for beta distribution to estimate stop probability
	betaPass float64 // hyper-parameter for beta distribution to estimate stop probability
	hp       *hyperParams

	sampler       *Sampler
	samplingTable []float64
}

// NewVPYLM returns VPYLM instance.
func NewVPYLM(initialTheta float64, initialD float64, gammaA float64, gammaB float64, betaA float64, betaB float64, g0 float64, betaStop float64, betaPass float64, seed uint64) *VPYLM {
	if g0 < 0.0 || g0 > 1.0 {
		panic("range of g0 is 0.0 to 1.0")
	}
	if betaStop <= 0.0 || betaPass <= 0.0 {
		panic("betaStop and betaPass must be positive")
	}
	vpylm := new(VPYLM)
	vpylm.hp = newHyperParams(initialTheta, initialD, gammaA, gammaB, betaA, betaB)
	vpylm.g0 = g0
	vpylm.betaStop = betaStop
	vpylm.betaPass = betaPass
	vpylm.sampler = NewSampler(seed)
	vpylm.samplingTable = make([]float64, 0, initialSamplingTableSize)
	vpylm.reset()
	return vpylm
}

// NewDefaultVPYLM returns VPYLM instance with the default hyper-parameters.
func NewDefaultVPYLM(g0 float64, seed uint64) *VPYLM {
	return NewVPYLM(DefaultTheta, DefaultD, DefaultGammaA, DefaultGammaB, DefaultBetaA, DefaultBetaB, g0, DefaultBetaStop, DefaultBetaPass, seed)
}

func (vpylm *VPYLM) reset() {
	vpylm.nodes = []*Node{newNode(0, NoNode, 0)}
	vpylm.free = nil
	vpylm.live = 1
}

// SetG0 sets the base probability, typically 1 / vocabulary size.
func (vpylm *VPYLM) SetG0(g0 float64) {
	if g0 < 0.0 || g0 > 1.0 {
		panic("range of g0 is 0.0 to 1.0")
	}
	vpylm.g0 = g0
}

// G0 returns the base probability.
func (vpylm *VPYLM) G0() float64 { return vpylm.g0 }

// SetSeed reseeds the random source.
func (vpylm *VPYLM) SetSeed(seed uint64) { vpylm.sampler.Seed(seed) }

// Sampler returns the random source owned by the model.
func (vpylm *VPYLM) Sampler() *Sampler { return vpylm.sampler }

// BetaStop returns the stop pseudo-count of the depth prior.
func (vpylm *VPYLM) BetaStop() float64 { return vpylm.betaStop }

// BetaPass returns the pass pseudo-count of the depth prior.
func (vpylm *VPYLM) BetaPass() float64 { return vpylm.betaPass }

// Discount returns d at depth.
func (vpylm *VPYLM) Discount(depth int) float64 { return vpylm.hp.discount(depth) }

// Concentration returns theta at depth.
func (vpylm *VPYLM) Concentration(depth int) float64 { return vpylm.hp.concentration(depth) }

// SetDiscount overrides d at depth.
func (vpylm *VPYLM) SetDiscount(depth int, d float64) {
	if d < 0.0 || d >= 1.0 {
		panic("range of d is 0.0 to 1.0 (exclusive)")
	}
	vpylm.hp.ensureDepth(depth)
	vpylm.hp.d[depth] = d
}

// SetConcentration overrides theta at depth.
func (vpylm *VPYLM) SetConcentration(depth int, theta float64) {
	if theta < 0.0 {
		panic("range of theta is 0.0 to inf")
	}
	vpylm.hp.ensureDepth(depth)
	vpylm.hp.theta[depth] = theta
}

// Node returns the node stored at id, nil if the slot is free.
func (vpylm *VPYLM) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(vpylm.nodes) {
		return nil
	}
	return vpylm.nodes[id]
}

// Root returns the empty context node.
func (vpylm *VPYLM) Root() *Node { return vpylm.nodes[RootID] }

func (vpylm *VPYLM) allocNode(token ID, parent NodeID, depth int) NodeID {
	node := newNode(token, parent, depth)
	vpylm.live++
	if n := len(vpylm.free); n > 0 {
		id := vpylm.free[n-1]
		vpylm.free = vpylm.free[:n-1]
		vpylm.nodes[id] = node
		return id
	}
	vpylm.nodes = append(vpylm.nodes, node)
	return NodeID(len(vpylm.nodes) - 1)
}

func (vpylm *VPYLM) freeNode(id NodeID) {
	vpylm.nodes[id] = nil
	vpylm.free = append(vpylm.free, id)
	vpylm.live--
}

func (vpylm *VPYLM) findChildNode(id NodeID, token ID, generateIfNeeded bool) NodeID {
	node := vpylm.nodes[id]
	if child, ok := node.children[token]; ok {
		return child
	}
	if !generateIfNeeded {
		return NoNode
	}
	depth := node.depth + 1
	vpylm.hp.ensureDepth(depth)
	child := vpylm.allocNode(token, id, depth)
	// allocNode may grow the arena; node is a stable pointer
	node.children[token] = child
	return child
}

// Locate traces back order tokens before position t of seq.
//
//	seq:      [0, 1, 2, 3, 4, 5]
//	t: 4             ^     ^
//	order: 2         |<- <-|
//
// It reports false when t-order < 0, or when a node is missing and
// generateIfNeeded is false.
func (vpylm *VPYLM) Locate(seq []ID, t int, order int, generateIfNeeded bool) (NodeID, bool) {
	if t-order < 0 || t >= len(seq) || order < 0 {
		return NoNode, false
	}
	id := RootID
	for depth := 1; depth <= order; depth++ {
		id = vpylm.findChildNode(id, seq[t-depth], generateIfNeeded)
		if id == NoNode {
			return NoNode, false
		}
	}
	return id, true
}

// computePw returns p(word | context of id), recursing through the parents.
func (vpylm *VPYLM) computePw(id NodeID, word ID) float64 {
	node := vpylm.nodes[id]
	parentPw := vpylm.g0
	if node.parent != NoNode {
		parentPw = vpylm.computePw(node.parent, word)
	}
	return node.computePwWithParentPw(word, parentPw, vpylm.hp.discount(node.depth), vpylm.hp.concentration(node.depth))
}

// ComputePw returns the hierarchical Pitman-Yor predictive probability of
// word at node id.
func (vpylm *VPYLM) ComputePw(id NodeID, word ID) float64 {
	return vpylm.computePw(id, word)
}

// ComputePwWithParentPw is ComputePw when the parent's probability is
// already known.
func (vpylm *VPYLM) ComputePwWithParentPw(id NodeID, word ID, parentPw float64) float64 {
	node := vpylm.nodes[id]
	return node.computePwWithParentPw(word, parentPw, vpylm.hp.discount(node.depth), vpylm.hp.concentration(node.depth))
}

// addCustomer seats word at node id. A new table sends one customer to the
// parent with stop/pass bookkeeping suppressed.
func (vpylm *VPYLM) addCustomer(id NodeID, word ID, updateBetaCount bool) bool {
	node := vpylm.nodes[id]
	d := vpylm.hp.discount(node.depth)
	theta := vpylm.hp.concentration(node.depth)
	parentPw := vpylm.g0
	if node.parent != NoNode {
		parentPw = vpylm.computePw(node.parent, word)
	}

	tables, ok := node.arrangement[word]
	k := len(tables)
	if ok {
		sum := 0.0
		for _, c := range tables {
			sum += math.Max(0.0, float64(c)-d)
		}
		sum += (theta + d*float64(node.numTables)) * parentPw

		r := vpylm.sampler.Uniform() * sum
		stack := 0.0
		for i, c := range tables {
			stack += math.Max(0.0, float64(c)-d)
			if r < stack {
				k = i
				break
			}
		}
	}

	if k < len(tables) {
		node.addCustomerToTable(word, k)
	} else {
		node.addCustomerToNewTable(word)
		if node.parent != NoNode {
			vpylm.addCustomer(node.parent, word, false)
		}
	}
	if updateBetaCount {
		vpylm.addStopAndPassCount(id)
	}
	return true
}

// removeCustomer vacates one customer of word at node id, chosen uniformly
// over customers. A closed table removes one customer from the parent.
func (vpylm *VPYLM) removeCustomer(id NodeID, word ID, updateBetaCount bool) bool {
	node := vpylm.nodes[id]
	tables, ok := node.arrangement[word]
	if !ok {
		errMsg := fmt.Sprintf("remove error. word (%v) does not exist in node (depth %v, token %v)", word, node.depth, node.token)
		panic(errMsg)
	}
	sum := 0
	for _, c := range tables {
		sum += c
	}
	r := vpylm.sampler.Uniform() * float64(sum)
	stack := 0.0
	k := len(tables) - 1
	for i, c := range tables {
		stack += float64(c)
		if r < stack {
			k = i
			break
		}
	}
	if node.removeCustomerFromTable(word, k) && node.parent != NoNode {
		vpylm.removeCustomer(node.parent, word, false)
	}
	if updateBetaCount {
		vpylm.removeStopAndPassCount(id)
	}
	return true
}

func (vpylm *VPYLM) addStopAndPassCount(id NodeID) {
	node := vpylm.nodes[id]
	node.stopCount++
	for p := node.parent; p != NoNode; p = vpylm.nodes[p].parent {
		vpylm.nodes[p].passCount++
	}
}

func (vpylm *VPYLM) removeStopAndPassCount(id NodeID) {
	node := vpylm.nodes[id]
	if node.stopCount == 0 {
		errMsg := fmt.Sprintf("removeStopAndPassCount error. stop count of node (depth %v, token %v) == 0", node.depth, node.token)
		panic(errMsg)
	}
	node.stopCount--
	for p := node.parent; p != NoNode; p = vpylm.nodes[p].parent {
		parent := vpylm.nodes[p]
		if parent.passCount == 0 {
			errMsg := fmt.Sprintf("removeStopAndPassCount error. pass count of node (depth %v, token %v) == 0", parent.depth, parent.token)
			panic(errMsg)
		}
		parent.passCount--
	}
}

// AddCustomer seats word at node id with stop/pass bookkeeping.
func (vpylm *VPYLM) AddCustomer(id NodeID, word ID) bool {
	return vpylm.addCustomer(id, word, true)
}

// RemoveCustomer vacates word at node id with stop/pass bookkeeping and
// prunes the node and its ancestors when they become empty.
func (vpylm *VPYLM) RemoveCustomer(id NodeID, word ID) bool {
	vpylm.removeCustomer(id, word, true)
	vpylm.prune(id)
	return true
}

// prune removes id and every ancestor that has neither customers nor children.
func (vpylm *VPYLM) prune(id NodeID) {
	for id != RootID && id != NoNode {
		node := vpylm.nodes[id]
		if !node.empty() {
			return
		}
		parent := node.parent
		delete(vpylm.nodes[parent].children, node.token)
		vpylm.freeNode(id)
		id = parent
	}
}

// AddCustomerAtTimestep seats seq[t] at the context of depth order.
func (vpylm *VPYLM) AddCustomerAtTimestep(seq []ID, t int, depth int) bool {
	id, ok := vpylm.Locate(seq, t, depth, true)
	if !ok {
		errMsg := fmt.Sprintf("AddCustomerAtTimestep error. context of depth (%v) at t (%v) is not available", depth, t)
		panic(errMsg)
	}
	return vpylm.addCustomer(id, seq[t], true)
}

// RemoveCustomerAtTimestep vacates seq[t] from the context of depth order.
func (vpylm *VPYLM) RemoveCustomerAtTimestep(seq []ID, t int, depth int) bool {
	id, ok := vpylm.Locate(seq, t, depth, false)
	if !ok {
		errMsg := fmt.Sprintf("RemoveCustomerAtTimestep error. context of depth (%v) at t (%v) does not exist", depth, t)
		panic(errMsg)
	}
	return vpylm.RemoveCustomer(id, seq[t])
}

// depthWeights fills the sampling table with the unnormalized weight
// pw(n)*pStop(n) of every candidate order n of seq[t] and returns it with its
// sum. The table is reused by the next call.
func (vpylm *VPYLM) depthWeights(seq []ID, t int) ([]float64, float64) {
	word := seq[t]
	sum := 0.0
	pPass := 1.0
	pw := 0.0
	parentPw := vpylm.g0
	table := vpylm.samplingTable[:0]
	id := RootID
	for n := 0; n <= t; n++ {
		if id != NoNode {
			node := vpylm.nodes[id]
			pw = node.computePwWithParentPw(word, parentPw, vpylm.hp.discount(node.depth), vpylm.hp.concentration(node.depth))
			parentPw = pw
			pStop := node.stopProbability(vpylm.betaStop, vpylm.betaPass) * pPass
			p := pw * pStop
			pPass *= node.passProbability(vpylm.betaStop, vpylm.betaPass)
			table = append(table, p)
			sum += p
			if pStop < eps {
				break
			}
			if n < t {
				id = vpylm.findChildNode(id, seq[t-n-1], false)
			}
		} else {
			// beyond the grown tree: prior only, pw of the deepest existing node
			pStop := pPass * vpylm.betaStop / (vpylm.betaStop + vpylm.betaPass)
			p := pw * pStop
			pPass *= vpylm.betaPass / (vpylm.betaStop + vpylm.betaPass)
			table = append(table, p)
			sum += p
			if pStop < eps {
				break
			}
		}
	}
	vpylm.samplingTable = table
	return table, sum
}

// SampleDepthAtTimestep draws the context order used for seq[t], in [0, t].
func (vpylm *VPYLM) SampleDepthAtTimestep(seq []ID, t int) int {
	if t == 0 {
		return 0
	}
	table, sum := vpylm.depthWeights(seq, t)
	if !(sum > 0.0) || math.IsInf(sum, 0) {
		return 0
	}
	r := vpylm.sampler.Uniform() * sum
	stack := 0.0
	for n, p := range table {
		stack += p
		if r < stack {
			return n
		}
	}
	return len(table) - 1
}

// ProbabilityGivenContext returns p(word | context) marginalized over
// every context order. The most recent token is the last of context.
func (vpylm *VPYLM) ProbabilityGivenContext(word ID, context []ID) float64 {
	id := RootID
	parentPw := vpylm.g0
	pPass := 1.0
	pStop := 1.0
	pwh := 0.0
	for depth := 0; pStop > eps; depth++ {
		if id == NoNode {
			pStop = pPass * vpylm.betaStop / (vpylm.betaStop + vpylm.betaPass)
			pwh += parentPw * pStop
			pPass *= vpylm.betaPass / (vpylm.betaStop + vpylm.betaPass)
			continue
		}
		node := vpylm.nodes[id]
		pw := node.computePwWithParentPw(word, parentPw, vpylm.hp.discount(node.depth), vpylm.hp.concentration(node.depth))
		pStop = node.stopProbability(vpylm.betaStop, vpylm.betaPass) * pPass
		pPass *= node.passProbability(vpylm.betaStop, vpylm.betaPass)
		pwh += pw * pStop
		parentPw = pw
		if depth < len(context) {
			id = vpylm.findChildNode(id, context[len(context)-depth-1], false)
		} else {
			id = NoNode
		}
	}
	return pwh
}

// DepthProbability returns the prior probability that the context order of
// the next token after context is exactly n.
func (vpylm *VPYLM) DepthProbability(n int, context []ID) float64 {
	id := RootID
	pPass := 1.0
	pStop := 0.0
	for depth := 0; depth <= n; depth++ {
		if id == NoNode {
			pStop = pPass * vpylm.betaStop / (vpylm.betaStop + vpylm.betaPass)
			pPass *= vpylm.betaPass / (vpylm.betaStop + vpylm.betaPass)
			continue
		}
		node := vpylm.nodes[id]
		pStop = node.stopProbability(vpylm.betaStop, vpylm.betaPass) * pPass
		pPass *= node.passProbability(vpylm.betaStop, vpylm.betaPass)
		if depth < len(context) {
			id = vpylm.findChildNode(id, context[len(context)-depth-1], false)
		} else {
			id = NoNode
		}
	}
	return pStop
}

// Probability returns the product of p(seq[t] | seq[:t]) for t >= 1.
func (vpylm *VPYLM) Probability(seq []ID) float64 {
	if len(seq) == 0 {
		return 0
	}
	p := 1.0
	for t := 1; t < len(seq); t++ {
		p *= vpylm.ProbabilityGivenContext(seq[t], seq[:t])
	}
	return p
}

// LogProbability returns the natural log of Probability.
func (vpylm *VPYLM) LogProbability(seq []ID) float64 {
	sum := 0.0
	for t := 1; t < len(seq); t++ {
		sum += math.Log(vpylm.ProbabilityGivenContext(seq[t], seq[:t]))
	}
	return sum
}

// Log2Probability returns the base 2 log of Probability.
func (vpylm *VPYLM) Log2Probability(seq []ID) float64 {
	sum := 0.0
	for t := 1; t < len(seq); t++ {
		sum += math.Log2(vpylm.ProbabilityGivenContext(seq[t], seq[:t]))
	}
	return sum
}

func (vpylm *VPYLM) eachNode(f func(id NodeID, node *Node)) {
	for id, node := range vpylm.nodes {
		if node != nil {
			f(NodeID(id), node)
		}
	}
}

// NumNodes returns the number of context nodes including root.
func (vpylm *VPYLM) NumNodes() int { return vpylm.live }

// NumCustomers returns the number of customers over all nodes.
func (vpylm *VPYLM) NumCustomers() int {
	sum := 0
	vpylm.eachNode(func(_ NodeID, node *Node) { sum += node.numCustomers })
	return sum
}

// NumTables returns the number of tables over all nodes.
func (vpylm *VPYLM) NumTables() int {
	sum := 0
	vpylm.eachNode(func(_ NodeID, node *Node) { sum += node.numTables })
	return sum
}

// SumStopCounts returns the stop counts over all nodes.
func (vpylm *VPYLM) SumStopCounts() int {
	sum := 0
	vpylm.eachNode(func(_ NodeID, node *Node) { sum += node.stopCount })
	return sum
}

// SumPassCounts returns the pass counts over all nodes.
func (vpylm *VPYLM) SumPassCounts() int {
	sum := 0
	vpylm.eachNode(func(_ NodeID, node *Node) { sum += node.passCount })
	return sum
}

// Depth returns the maximum depth of the tree.
func (vpylm *VPYLM) Depth() int {
	maxDepth := 0
	vpylm.eachNode(func(_ NodeID, node *Node) {
		if node.depth > maxDepth {
			maxDepth = node.depth
		}
	})
	return maxDepth
}

// CountStopsByDepth returns the number of tokens assigned to each depth.
func (vpylm *VPYLM) CountStopsByDepth() map[int]int {
	counts := make(map[int]int)
	vpylm.eachNode(func(_ NodeID, node *Node) {
		if node.stopCount > 0 {
			counts[node.depth] += node.stopCount
		}
	})
	return counts
}

// PhrasesAtDepth returns the context of every node at depth, most recent
// token first.
func (vpylm *VPYLM) PhrasesAtDepth(depth int) [][]ID {
	var phrases [][]ID
	vpylm.eachNode(func(_ NodeID, node *Node) {
		if node.depth != depth || depth == 0 {
			return
		}
		phrase := make([]ID, depth)
		for n := node; n.parent != NoNode; n = vpylm.nodes[n.parent] {
			phrase[n.depth-1] = n.token
		}
		phrases = append(phrases, phrase)
	})
	return phrases
}

// CheckInvariants walks the tree and reports the first broken seating,
// linkage or pruning invariant.
func (vpylm *VPYLM) CheckInvariants() error {
	seen := 0
	var err error
	vpylm.eachNode(func(id NodeID, node *Node) {
		if err != nil {
			return
		}
		seen++
		if e := node.checkSeating(); e != nil {
			err = fmt.Errorf("node %v: %w", id, e)
			return
		}
		if id == RootID {
			if node.parent != NoNode || node.depth != 0 {
				err = fmt.Errorf("root has parent %v depth %v", node.parent, node.depth)
			}
			return
		}
		parent := vpylm.Node(node.parent)
		if parent == nil || parent.children[node.token] != id {
			err = fmt.Errorf("node %v is not linked from its parent", id)
			return
		}
		if node.depth != parent.depth+1 {
			err = fmt.Errorf("node %v has depth %v under parent depth %v", id, node.depth, parent.depth)
			return
		}
		if node.empty() {
			err = fmt.Errorf("node %v is empty but not pruned", id)
		}
	})
	if err == nil && seen != vpylm.live {
		err = fmt.Errorf("arena holds %v nodes, live count is %v", seen, vpylm.live)
	}
	return err
}
