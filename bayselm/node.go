package bayselm

import (
	"fmt"
	"math"
)

// ID is a token id. BOS and EOS are reserved by Vocab.
type ID uint32

// Reserved sentinel ids.
const (
	BOS ID = 0
	EOS ID = 1
)

// NodeID addresses a node in the arena of a VPYLM.
type NodeID int32

const (
	// NoNode marks a missing node (parent of root, context beyond the tree).
	NoNode NodeID = -1
	// RootID is the empty context.
	RootID NodeID = 0
)

// Node is a restaurant: the tables of every word observed after one context.
type Node struct {
	token    ID // context token this node adds to its parent's context
	parent   NodeID
	children map[ID]NodeID // context token to child
	// word to customers per table; every list is non-empty and every count >= 1
	arrangement map[ID][]int

	numTables    int
	numCustomers int
	stopCount    int // number of stop for stop probability in n-gram
	passCount    int // number of pass for stop probability in n-gram
	depth        int
}

func newNode(token ID, parent NodeID, depth int) *Node {
	return &Node{
		token:       token,
		parent:      parent,
		children:    make(map[ID]NodeID),
		arrangement: make(map[ID][]int),
		depth:       depth,
	}
}

// Token returns the context token of the node.
func (node *Node) Token() ID { return node.token }

// Parent returns the parent id, NoNode for root.
func (node *Node) Parent() NodeID { return node.parent }

// Depth returns the distance from root.
func (node *Node) Depth() int { return node.depth }

// NumTables returns the number of tables over all words.
func (node *Node) NumTables() int { return node.numTables }

// NumCustomers returns the number of customers over all words.
func (node *Node) NumCustomers() int { return node.numCustomers }

// StopCount returns how often depth sampling stopped at this node.
func (node *Node) StopCount() int { return node.stopCount }

// PassCount returns how often depth sampling passed through this node.
func (node *Node) PassCount() int { return node.passCount }

// NumChildren returns the number of longer contexts below this node.
func (node *Node) NumChildren() int { return len(node.children) }

// Child returns the child reached by token.
func (node *Node) Child(token ID) (NodeID, bool) {
	child, ok := node.children[token]
	return child, ok
}

// Tables returns a copy of the per-table customer counts for word.
func (node *Node) Tables(word ID) []int {
	tables := node.arrangement[word]
	out := make([]int, len(tables))
	copy(out, tables)
	return out
}

func (node *Node) empty() bool {
	return node.numCustomers == 0 && len(node.children) == 0
}

// computePwWithParentPw returns p(word | this context) given the parent's
// predictive probability.
func (node *Node) computePwWithParentPw(word ID, parentPw float64, d float64, theta float64) float64 {
	tu := float64(node.numTables)
	cu := float64(node.numCustomers)
	if theta+cu == 0 {
		return parentPw
	}
	coeff := (theta + d*tu) / (theta + cu)
	tables, ok := node.arrangement[word]
	if !ok {
		return coeff * parentPw
	}
	cuw := 0
	for _, c := range tables {
		cuw += c
	}
	tuw := float64(len(tables))
	body := math.Max(0.0, float64(cuw)-d*tuw) / (theta + cu)
	return body + coeff*parentPw
}

func (node *Node) stopProbability(betaStop float64, betaPass float64) float64 {
	stop := float64(node.stopCount)
	pass := float64(node.passCount)
	return (stop + betaStop) / (stop + pass + betaStop + betaPass)
}

func (node *Node) passProbability(betaStop float64, betaPass float64) float64 {
	return 1.0 - node.stopProbability(betaStop, betaPass)
}

func (node *Node) addCustomerToTable(word ID, k int) {
	node.arrangement[word][k]++
	node.numCustomers++
}

func (node *Node) addCustomerToNewTable(word ID) {
	node.arrangement[word] = append(node.arrangement[word], 1)
	node.numTables++
	node.numCustomers++
}

// removeCustomerFromTable reports whether table k was closed.
func (node *Node) removeCustomerFromTable(word ID, k int) bool {
	tables := node.arrangement[word]
	tables[k]--
	node.numCustomers--
	if tables[k] > 0 {
		return false
	}
	tables = append(tables[:k], tables[k+1:]...)
	node.numTables--
	if len(tables) == 0 {
		delete(node.arrangement, word)
	} else {
		node.arrangement[word] = tables
	}
	return true
}

// auxiliaryLogX returns log x_u, x_u ~ Beta(theta+1, c_u-1).
func (node *Node) auxiliaryLogX(theta float64, sampler *Sampler) float64 {
	if node.numCustomers < 2 {
		return 0.0
	}
	x := sampler.Beta(theta+1.0, float64(node.numCustomers)-1.0)
	if x <= 0 {
		return 0.0
	}
	return math.Log(x)
}

// auxiliaryY returns sum of y_ui and sum of 1 - y_ui over i = 1..t_u-1,
// y_ui ~ Bernoulli(theta / (theta + d*i)).
func (node *Node) auxiliaryY(d float64, theta float64, sampler *Sampler) (float64, float64) {
	sumY := 0.0
	sum1MinusY := 0.0
	for i := 1; i < node.numTables; i++ {
		denom := theta + d*float64(i)
		p := 0.0
		if denom > 0 {
			p = theta / denom
		}
		y := sampler.Bernoulli(p)
		sumY += y
		sum1MinusY += 1.0 - y
	}
	return sumY, sum1MinusY
}

// auxiliary1MinusZ returns sum of 1 - z_uwkj over every table k with c_uwk >= 2,
// z_uwkj ~ Bernoulli((j-1) / (j-d)).
func (node *Node) auxiliary1MinusZ(d float64, sampler *Sampler) float64 {
	sum := 0.0
	for _, tables := range node.arrangement {
		for _, c := range tables {
			for j := 1; j < c; j++ {
				z := sampler.Bernoulli((float64(j) - 1.0) / (float64(j) - d))
				sum += 1.0 - z
			}
		}
	}
	return sum
}

func (node *Node) checkSeating() error {
	tables := 0
	customers := 0
	for word, counts := range node.arrangement {
		if len(counts) == 0 {
			return fmt.Errorf("word %v has an empty table list", word)
		}
		for _, c := range counts {
			if c < 1 {
				return fmt.Errorf("word %v has a table with %v customers", word, c)
			}
			customers += c
		}
		tables += len(counts)
	}
	if tables != node.numTables || customers != node.numCustomers {
		return fmt.Errorf("counts (tables %v, customers %v) do not match arrangement (tables %v, customers %v)", node.numTables, node.numCustomers, tables, customers)
	}
	return nil
}
