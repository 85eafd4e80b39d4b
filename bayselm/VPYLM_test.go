package bayselm

import (
	"math"
	"testing"
)

const (
	wordA ID = 2
	wordB ID = 3
	wordC ID = 4
)

func newTestVPYLM(theta float64, d float64, g0 float64) *VPYLM {
	return NewVPYLM(theta, d, 1.0, 1.0, 1.0, 1.0, g0, DefaultBetaStop, DefaultBetaPass, 1)
}

func TestVPYLMRootPredictive(t *testing.T) {
	vpylm := newTestVPYLM(1.0, 0.5, 0.5)

	pAddZero := vpylm.ComputePw(RootID, wordA)
	if !(pAddZero == 0.5) {
		t.Error("pAddZero = ", pAddZero)
	}

	vpylm.AddCustomer(RootID, wordA)
	// (theta + d*t) / (theta + c) * g0
	pBCorrect := (1.0 + 0.5*1.0) / (1.0 + 1.0) * 0.5
	pACorrect := (1.0-0.5)/(1.0+1.0) + pBCorrect
	pA := vpylm.ComputePw(RootID, wordA)
	pB := vpylm.ComputePw(RootID, wordB)
	if !(math.Abs(pB-pBCorrect) < 1e-12) {
		t.Error("pB = ", pB, "pBCorrect = ", pBCorrect)
	}
	if !(math.Abs(pA-pACorrect) < 1e-12) {
		t.Error("pA = ", pA, "pACorrect = ", pACorrect)
	}
	if !(pA > pB) {
		t.Error("pA = ", pA, "pB = ", pB)
	}
	// closed vocabulary {A, B} with g0 = 1/2
	if !(math.Abs(pA+pB-1.0) < 1e-12) {
		t.Error("pA + pB = ", pA+pB)
	}
	if err := vpylm.CheckInvariants(); err != nil {
		t.Error(err)
	}
}

func TestVPYLMAddRemoveInverse(t *testing.T) {
	vpylm := newTestVPYLM(1.0, 0.5, 0.5)
	pAddZero := vpylm.ComputePw(RootID, wordA)

	for i := 0; i < 3; i++ {
		vpylm.AddCustomer(RootID, wordA)
	}
	root := vpylm.Root()
	if !(root.NumCustomers() == 3 && root.StopCount() == 3) {
		t.Error("root.NumCustomers() = ", root.NumCustomers(), "root.StopCount() = ", root.StopCount())
	}
	if !(root.NumTables() >= 1 && root.NumTables() <= 3) {
		t.Error("root.NumTables() = ", root.NumTables())
	}
	pAddMany := vpylm.ComputePw(RootID, wordA)
	if !(pAddMany > pAddZero) {
		t.Error("pAddMany = ", pAddMany, "pAddZero = ", pAddZero)
	}

	for i := 0; i < 3; i++ {
		vpylm.RemoveCustomer(RootID, wordA)
	}
	if !(root.NumCustomers() == 0 && root.NumTables() == 0 && root.StopCount() == 0) {
		t.Error("root.NumCustomers() = ", root.NumCustomers(), "root.NumTables() = ", root.NumTables(), "root.StopCount() = ", root.StopCount())
	}
	if !(vpylm.NumNodes() == 1) {
		t.Error("vpylm.NumNodes() = ", vpylm.NumNodes())
	}
	pRemoveMany := vpylm.ComputePw(RootID, wordA)
	if !(pRemoveMany == pAddZero) {
		t.Error("pRemoveMany = ", pRemoveMany, "pAddZero = ", pAddZero)
	}
}

func TestVPYLMRemoveMissingPanics(t *testing.T) {
	vpylm := newTestVPYLM(1.0, 0.5, 0.5)
	vpylm.AddCustomer(RootID, wordA)
	defer func() {
		if recover() == nil {
			t.Error("removing an unseated word should panic")
		}
	}()
	vpylm.RemoveCustomer(RootID, wordB)
}

func TestVPYLMDeepSeatingAndPruning(t *testing.T) {
	vpylm := newTestVPYLM(1.0, 0.5, 0.25)
	seq := []ID{BOS, wordA, wordB, EOS}

	if _, ok := vpylm.Locate(seq, 1, 2, true); ok {
		t.Error("Locate should fail before the beginning of seq")
	}
	if _, ok := vpylm.Locate(seq, 2, 2, false); ok {
		t.Error("Locate should not create nodes")
	}
	if !(vpylm.NumNodes() == 1) {
		t.Error("vpylm.NumNodes() = ", vpylm.NumNodes())
	}

	vpylm.AddCustomerAtTimestep(seq, 2, 2)
	if !(vpylm.NumNodes() == 3 && vpylm.Depth() == 2) {
		t.Error("vpylm.NumNodes() = ", vpylm.NumNodes(), "vpylm.Depth() = ", vpylm.Depth())
	}
	id, ok := vpylm.Locate(seq, 2, 2, false)
	if !ok {
		t.Fatal("Locate failed after seating")
	}
	node := vpylm.Node(id)
	parent := vpylm.Node(node.Parent())
	if !(node.Token() == BOS && parent.Token() == wordA && node.Depth() == 2) {
		t.Error("node.Token() = ", node.Token(), "parent.Token() = ", parent.Token(), "node.Depth() = ", node.Depth())
	}
	// a new table sends one customer to every ancestor
	for _, n := range []*Node{node, parent, vpylm.Root()} {
		if !(n.NumCustomers() == 1 && n.NumTables() == 1) {
			t.Error("depth = ", n.Depth(), "NumCustomers = ", n.NumCustomers(), "NumTables = ", n.NumTables())
		}
	}
	if !(node.StopCount() == 1 && parent.StopCount() == 0 && vpylm.Root().StopCount() == 0) {
		t.Error("stop counts = ", node.StopCount(), parent.StopCount(), vpylm.Root().StopCount())
	}
	if !(node.PassCount() == 0 && parent.PassCount() == 1 && vpylm.Root().PassCount() == 1) {
		t.Error("pass counts = ", node.PassCount(), parent.PassCount(), vpylm.Root().PassCount())
	}
	if err := vpylm.CheckInvariants(); err != nil {
		t.Error(err)
	}
	phrases := vpylm.PhrasesAtDepth(2)
	if !(len(phrases) == 1 && phrases[0][0] == wordA && phrases[0][1] == BOS) {
		t.Error("phrases = ", phrases)
	}

	vpylm.RemoveCustomerAtTimestep(seq, 2, 2)
	if !(vpylm.NumNodes() == 1 && vpylm.NumCustomers() == 0) {
		t.Error("vpylm.NumNodes() = ", vpylm.NumNodes(), "vpylm.NumCustomers() = ", vpylm.NumCustomers())
	}
	if !(vpylm.SumStopCounts() == 0 && vpylm.SumPassCounts() == 0) {
		t.Error("vpylm.SumStopCounts() = ", vpylm.SumStopCounts(), "vpylm.SumPassCounts() = ", vpylm.SumPassCounts())
	}
	if err := vpylm.CheckInvariants(); err != nil {
		t.Error(err)
	}

	// freed slots are reused
	vpylm.AddCustomerAtTimestep(seq, 3, 1)
	if !(vpylm.NumNodes() == 2 && len(vpylm.nodes) == 3) {
		t.Error("vpylm.NumNodes() = ", vpylm.NumNodes(), "len(vpylm.nodes) = ", len(vpylm.nodes))
	}
}

func TestVPYLMStopProbability(t *testing.T) {
	vpylm := newTestVPYLM(1.0, 0.5, 0.25)
	context := []ID{BOS, wordA}
	// empty tree: geometric prior with stop probability 4/5
	p0 := vpylm.DepthProbability(0, context)
	p1 := vpylm.DepthProbability(1, context)
	if !(math.Abs(p0-0.8) < 1e-12 && math.Abs(p1-0.2*0.8) < 1e-12) {
		t.Error("p0 = ", p0, "p1 = ", p1)
	}
	seq := []ID{BOS, wordA, wordB}
	vpylm.AddCustomerAtTimestep(seq, 2, 1)
	root := vpylm.Root()
	// stop 0, pass 1
	if !(math.Abs(root.stopProbability(vpylm.BetaStop(), vpylm.BetaPass())-4.0/6.0) < 1e-12) {
		t.Error("root stop probability = ", root.stopProbability(vpylm.BetaStop(), vpylm.BetaPass()))
	}
}

func TestVPYLMProbabilityNormalized(t *testing.T) {
	vocab := []ID{EOS, wordA, wordB, wordC}
	vpylm := newTestVPYLM(1.0, 0.5, 1.0/float64(len(vocab)))
	seqs := [][]ID{
		{BOS, wordA, wordB, EOS},
		{BOS, wordA, wordC, wordB, EOS},
		{BOS, wordB, wordB, wordA, EOS},
	}
	for epoch := 0; epoch < 3; epoch++ {
		for _, seq := range seqs {
			for tt := 1; tt < len(seq); tt++ {
				depth := vpylm.SampleDepthAtTimestep(seq, tt)
				vpylm.AddCustomerAtTimestep(seq, tt, depth)
			}
		}
	}
	for _, context := range [][]ID{{BOS}, {BOS, wordA}, {BOS, wordA, wordC}, {wordC, wordC, wordC, wordC}} {
		sum := 0.0
		for _, word := range vocab {
			sum += vpylm.ProbabilityGivenContext(word, context)
		}
		if !(math.Abs(sum-1.0) < 1e-9) {
			t.Error("sum = ", sum, "context = ", context)
		}
	}
	id := RootID
	sum := 0.0
	for _, word := range vocab {
		sum += vpylm.ComputePw(id, word)
	}
	if !(math.Abs(sum-1.0) < 1e-9) {
		t.Error("root sum = ", sum)
	}
	if err := vpylm.CheckInvariants(); err != nil {
		t.Error(err)
	}
}

func TestVPYLMSampleDepth(t *testing.T) {
	vpylm := newTestVPYLM(1.0, 0.5, 0.25)
	seq := []ID{BOS, wordA, wordB, wordC, wordA, EOS}
	if depth := vpylm.SampleDepthAtTimestep(seq, 0); depth != 0 {
		t.Error("depth at t = 0 is ", depth)
	}
	for epoch := 0; epoch < 50; epoch++ {
		for tt := 1; tt < len(seq); tt++ {
			depth := vpylm.SampleDepthAtTimestep(seq, tt)
			if !(depth >= 0 && depth <= tt) {
				t.Fatal("depth = ", depth, "t = ", tt)
			}
			vpylm.AddCustomerAtTimestep(seq, tt, depth)
		}
	}
	if !(vpylm.SumStopCounts() == 50*(len(seq)-1)) {
		t.Error("vpylm.SumStopCounts() = ", vpylm.SumStopCounts())
	}
	stops := 0
	for _, c := range vpylm.CountStopsByDepth() {
		stops += c
	}
	if !(stops == vpylm.SumStopCounts()) {
		t.Error("stops = ", stops)
	}
}

func TestVPYLMSeed(t *testing.T) {
	seq := []ID{BOS, wordA, wordB, wordC, wordA, EOS}
	run := func() []int {
		vpylm := newTestVPYLM(1.0, 0.5, 0.25)
		depths := make([]int, 0)
		for epoch := 0; epoch < 10; epoch++ {
			for tt := 1; tt < len(seq); tt++ {
				depth := vpylm.SampleDepthAtTimestep(seq, tt)
				vpylm.AddCustomerAtTimestep(seq, tt, depth)
				depths = append(depths, depth)
			}
		}
		return depths
	}
	a := run()
	b := run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same seed gave different depths at ", i, a[i], b[i])
		}
	}
}

func TestVPYLMSampleHyperparameters(t *testing.T) {
	vpylm := newTestVPYLM(DefaultTheta, DefaultD, 0.25)
	seq := []ID{BOS, wordA, wordB, wordC, wordA, wordB, EOS}
	for epoch := 0; epoch < 20; epoch++ {
		for tt := 1; tt < len(seq); tt++ {
			vpylm.AddCustomerAtTimestep(seq, tt, vpylm.SampleDepthAtTimestep(seq, tt))
		}
	}
	for i := 0; i < 20; i++ {
		vpylm.SampleHyperparameters()
		for m := 0; m <= vpylm.Depth(); m++ {
			d := vpylm.Discount(m)
			theta := vpylm.Concentration(m)
			if !(d >= 0 && d < 1) {
				t.Fatal("d = ", d, "depth = ", m)
			}
			if !(theta >= 0) {
				t.Fatal("theta = ", theta, "depth = ", m)
			}
		}
	}
	if err := vpylm.CheckInvariants(); err != nil {
		t.Error(err)
	}
}

func TestVPYLMReadOnlyBeyondDepth(t *testing.T) {
	vpylm := newTestVPYLM(1.0, 0.5, 0.25)
	before := len(vpylm.hp.d)
	if d := vpylm.Discount(10); d != 0.5 {
		t.Error("d = ", d)
	}
	vpylm.ProbabilityGivenContext(wordA, []ID{BOS, wordA, wordB, wordC, wordA, wordB})
	if len(vpylm.hp.d) != before {
		t.Error("len(vpylm.hp.d) = ", len(vpylm.hp.d), "before = ", before)
	}
}

func TestGenerateSequence(t *testing.T) {
	vpylm := newTestVPYLM(1.0, 0.5, 0.25)
	seq := []ID{BOS, wordA, wordB, EOS}
	for epoch := 0; epoch < 20; epoch++ {
		for tt := 1; tt < len(seq); tt++ {
			vpylm.AddCustomerAtTimestep(seq, tt, vpylm.SampleDepthAtTimestep(seq, tt))
		}
	}
	for i := 0; i < 20; i++ {
		generated := vpylm.GenerateSequence([]ID{BOS, wordA, wordB, wordC}, 5)
		if len(generated) > 5 {
			t.Error("generated = ", generated)
		}
		for _, id := range generated {
			if id == BOS || id == EOS {
				t.Error("generated contains sentinel ", generated)
			}
		}
	}
}

func TestVPYLMSampleDepthDegenerate(t *testing.T) {
	vpylm := newTestVPYLM(1.0, 0.5, 0.0)
	seq := []ID{BOS, wordA, wordB, wordC, EOS}
	for tt := 1; tt < len(seq); tt++ {
		_, sum := vpylm.depthWeights(seq, tt)
		if sum != 0 {
			t.Error("sum = ", sum, "t = ", tt)
		}
		if depth := vpylm.SampleDepthAtTimestep(seq, tt); depth != 0 {
			t.Error("depth = ", depth, "t = ", tt)
		}
		p := vpylm.ProbabilityGivenContext(seq[tt], seq[:tt])
		if math.IsNaN(p) || p != 0 {
			t.Error("p = ", p, "t = ", tt)
		}
	}
}

func TestVPYLMDepthWeightsBeyondTree(t *testing.T) {
	vpylm := newTestVPYLM(1.0, 0.5, 0.25)
	seq := []ID{BOS, wordA, wordB}
	table, sum := vpylm.depthWeights(seq, 2)
	// empty root: pw = g0, stop = 4/5; deeper orders reuse that pw with the prior
	pw := 0.25
	weightsCorrect := []float64{pw * 0.8, pw * 0.2 * 0.8, pw * 0.04 * 0.8}
	if len(table) != len(weightsCorrect) {
		t.Fatal("table = ", table, "weightsCorrect = ", weightsCorrect)
	}
	sumCorrect := 0.0
	for n := range weightsCorrect {
		if !(math.Abs(table[n]-weightsCorrect[n]) < 1e-12) {
			t.Error("table[n] = ", table[n], "weightsCorrect[n] = ", weightsCorrect[n], "n = ", n)
		}
		if !(math.Abs(table[n]-pw*vpylm.DepthProbability(n, seq[:2])) < 1e-12) {
			t.Error("table[n] = ", table[n], "DepthProbability = ", vpylm.DepthProbability(n, seq[:2]), "n = ", n)
		}
		sumCorrect += weightsCorrect[n]
	}
	if !(math.Abs(sum-sumCorrect) < 1e-12) {
		t.Error("sum = ", sum, "sumCorrect = ", sumCorrect)
	}
}

func TestVPYLMDeepAddRemoveAndPrune(t *testing.T) {
	vpylm := newTestVPYLM(1.0, 0.5, 0.25)
	seq := []ID{BOS, wordA, wordB, EOS}
	for i := 0; i < 3; i++ {
		vpylm.AddCustomerAtTimestep(seq, 2, 2)
	}
	id, ok := vpylm.Locate(seq, 2, 2, false)
	if !ok {
		t.Fatal("Locate failed after seating")
	}
	node := vpylm.Node(id)
	if !(node.Depth() == 2 && node.NumCustomers() == 3 && node.StopCount() == 3) {
		t.Error("node.Depth() = ", node.Depth(), "node.NumCustomers() = ", node.NumCustomers(), "node.StopCount() = ", node.StopCount())
	}
	if !(node.NumTables() >= 1 && node.NumTables() <= 3) {
		t.Error("node.NumTables() = ", node.NumTables())
	}
	// every table at depth 2 is one customer at depth 1
	parent := vpylm.Node(node.Parent())
	if parent.NumCustomers() != node.NumTables() {
		t.Error("parent.NumCustomers() = ", parent.NumCustomers(), "node.NumTables() = ", node.NumTables())
	}
	if err := vpylm.CheckInvariants(); err != nil {
		t.Error(err)
	}

	for i := 0; i < 3; i++ {
		vpylm.RemoveCustomerAtTimestep(seq, 2, 2)
		if err := vpylm.CheckInvariants(); err != nil {
			t.Error("i = ", i, err)
		}
	}
	if _, ok := vpylm.Locate(seq, 2, 2, false); ok {
		t.Error("depth 2 node should be pruned")
	}
	if _, ok := vpylm.Locate(seq, 2, 1, false); ok {
		t.Error("depth 1 node should be pruned")
	}
	if !(vpylm.NumNodes() == 1 && vpylm.NumCustomers() == 0 && vpylm.NumTables() == 0) {
		t.Error("vpylm.Stats() = ", vpylm.Stats())
	}
	if !(vpylm.SumStopCounts() == 0 && vpylm.SumPassCounts() == 0) {
		t.Error("vpylm.SumStopCounts() = ", vpylm.SumStopCounts(), "vpylm.SumPassCounts() = ", vpylm.SumPassCounts())
	}
}
