package bayselm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sort"

	"github.com/natefinch/atomic"
)

const (
	modelMagic   = "VPYL"
	modelVersion = 1
)

// Errors returned by Load.
var (
	ErrInvalidFormat      = errors.New("bayselm: not a vpylm model")
	ErrUnsupportedVersion = errors.New("bayselm: unsupported model version")
	ErrTruncated          = errors.New("bayselm: truncated model")
	ErrCorrupted          = errors.New("bayselm: corrupted model")
)

type encoder struct {
	buf []byte
}

func (enc *encoder) u32(v int) {
	enc.buf = binary.LittleEndian.AppendUint32(enc.buf, uint32(v))
}

func (enc *encoder) f64(v float64) {
	enc.buf = binary.LittleEndian.AppendUint64(enc.buf, math.Float64bits(v))
}

func (enc *encoder) floats(v []float64) {
	enc.u32(len(v))
	for _, f := range v {
		enc.f64(f)
	}
}

func sortedKeys[V any](m map[ID]V) []ID {
	keys := make([]ID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (enc *encoder) node(node *Node) {
	enc.u32(int(node.token))
	enc.u32(node.depth)
	enc.u32(node.numTables)
	enc.u32(node.numCustomers)
	enc.u32(node.stopCount)
	enc.u32(node.passCount)
	enc.u32(len(node.arrangement))
	for _, word := range sortedKeys(node.arrangement) {
		tables := node.arrangement[word]
		enc.u32(int(word))
		enc.u32(len(tables))
		for _, c := range tables {
			enc.u32(c)
		}
	}
	enc.u32(len(node.children))
}

// MarshalBinary encodes the whole tree and every hyper-parameter.
// Equal models encode to equal bytes.
func (vpylm *VPYLM) MarshalBinary() ([]byte, error) {
	enc := &encoder{buf: make([]byte, 0, 64*vpylm.live)}
	enc.buf = append(enc.buf, modelMagic...)
	enc.buf = binary.LittleEndian.AppendUint16(enc.buf, modelVersion)

	// pre-order; children pushed in reverse so they pop in ascending token order
	stack := []NodeID{RootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := vpylm.nodes[id]
		enc.node(node)
		keys := sortedKeys(node.children)
		for i := len(keys) - 1; i >= 0; i-- {
			stack = append(stack, node.children[keys[i]])
		}
	}

	enc.f64(vpylm.g0)
	enc.f64(vpylm.betaStop)
	enc.f64(vpylm.betaPass)
	enc.floats(vpylm.hp.d)
	enc.floats(vpylm.hp.theta)
	enc.floats(vpylm.hp.betaA)
	enc.floats(vpylm.hp.betaB)
	enc.floats(vpylm.hp.gammaA)
	enc.floats(vpylm.hp.gammaB)

	enc.buf = binary.LittleEndian.AppendUint32(enc.buf, crc32.ChecksumIEEE(enc.buf))
	return enc.buf, nil
}

// Save writes the model to w.
func (vpylm *VPYLM) Save(w io.Writer) error {
	data, err := vpylm.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// SaveFile atomically replaces filename with the encoded model.
func (vpylm *VPYLM) SaveFile(filename string) error {
	data, err := vpylm.MarshalBinary()
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(filename, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("save model %v: %w", filename, err)
	}
	return nil
}

type decoder struct {
	buf []byte
	off int
}

func (dec *decoder) u32() (int, error) {
	if len(dec.buf)-dec.off < 4 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(dec.buf[dec.off:])
	dec.off += 4
	return int(v), nil
}

func (dec *decoder) f64() (float64, error) {
	if len(dec.buf)-dec.off < 8 {
		return 0, ErrTruncated
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(dec.buf[dec.off:]))
	dec.off += 8
	return v, nil
}

func (dec *decoder) floats() ([]float64, error) {
	n, err := dec.u32()
	if err != nil {
		return nil, err
	}
	if n*8 > len(dec.buf)-dec.off {
		return nil, ErrTruncated
	}
	v := make([]float64, n)
	for i := range v {
		if v[i], err = dec.f64(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// node reads one record and returns it with its number of children.
func (dec *decoder) node(parent NodeID) (*Node, int, error) {
	var fields [7]int
	for i := range fields {
		v, err := dec.u32()
		if err != nil {
			return nil, 0, err
		}
		fields[i] = v
	}
	node := newNode(ID(fields[0]), parent, fields[1])
	node.numTables = fields[2]
	node.numCustomers = fields[3]
	node.stopCount = fields[4]
	node.passCount = fields[5]
	for i := 0; i < fields[6]; i++ {
		word, err := dec.u32()
		if err != nil {
			return nil, 0, err
		}
		n, err := dec.u32()
		if err != nil {
			return nil, 0, err
		}
		if n*4 > len(dec.buf)-dec.off {
			return nil, 0, ErrTruncated
		}
		if _, ok := node.arrangement[ID(word)]; ok {
			return nil, 0, fmt.Errorf("%w: duplicate word %v", ErrCorrupted, word)
		}
		tables := make([]int, n)
		for k := range tables {
			if tables[k], err = dec.u32(); err != nil {
				return nil, 0, err
			}
		}
		node.arrangement[ID(word)] = tables
	}
	if err := node.checkSeating(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	numChildren, err := dec.u32()
	if err != nil {
		return nil, 0, err
	}
	return node, numChildren, nil
}

// UnmarshalBinary replaces the model with the one encoded in data. On error
// the model is left untouched.
func (vpylm *VPYLM) UnmarshalBinary(data []byte) error {
	if len(data) < len(modelMagic) {
		return ErrTruncated
	}
	if string(data[:len(modelMagic)]) != modelMagic {
		return ErrInvalidFormat
	}
	if len(data) < len(modelMagic)+2+4 {
		return ErrTruncated
	}
	if v := binary.LittleEndian.Uint16(data[len(modelMagic):]); v != modelVersion {
		return fmt.Errorf("%w: %v", ErrUnsupportedVersion, v)
	}
	body := data[:len(data)-4]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(data[len(data)-4:]) {
		// a short stream fails the checksum as well; tell the two apart below
		if _, err := decodeModel(body); errors.Is(err, ErrTruncated) {
			return err
		}
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}
	decoded, err := decodeModel(body)
	if err != nil {
		return err
	}
	vpylm.nodes = decoded.nodes
	vpylm.free = nil
	vpylm.live = len(decoded.nodes)
	vpylm.g0 = decoded.g0
	vpylm.betaStop = decoded.betaStop
	vpylm.betaPass = decoded.betaPass
	vpylm.hp.d = decoded.d
	vpylm.hp.theta = decoded.theta
	vpylm.hp.betaA = decoded.betaA
	vpylm.hp.betaB = decoded.betaB
	vpylm.hp.gammaA = decoded.gammaA
	vpylm.hp.gammaB = decoded.gammaB
	vpylm.hp.ensureDepth(vpylm.Depth())
	return nil
}

type decodedModel struct {
	nodes                                  []*Node
	g0, betaStop, betaPass                 float64
	d, theta, betaA, betaB, gammaA, gammaB []float64
}

func decodeModel(body []byte) (*decodedModel, error) {
	dec := &decoder{buf: body, off: len(modelMagic) + 2}
	model := new(decodedModel)

	root, numChildren, err := dec.node(NoNode)
	if err != nil {
		return nil, err
	}
	if root.depth != 0 {
		return nil, fmt.Errorf("%w: root depth %v", ErrCorrupted, root.depth)
	}
	model.nodes = append(model.nodes, root)

	type frame struct {
		id        NodeID
		remaining int
	}
	stack := []frame{{RootID, numChildren}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.remaining == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		top.remaining--
		parentID := top.id
		parent := model.nodes[parentID]
		child, numChildren, err := dec.node(parentID)
		if err != nil {
			return nil, err
		}
		if child.depth != parent.depth+1 {
			return nil, fmt.Errorf("%w: depth %v under parent depth %v", ErrCorrupted, child.depth, parent.depth)
		}
		if _, ok := parent.children[child.token]; ok {
			return nil, fmt.Errorf("%w: duplicate child %v", ErrCorrupted, child.token)
		}
		if child.numCustomers == 0 && numChildren == 0 {
			return nil, fmt.Errorf("%w: empty leaf %v", ErrCorrupted, child.token)
		}
		id := NodeID(len(model.nodes))
		model.nodes = append(model.nodes, child)
		parent.children[child.token] = id
		stack = append(stack, frame{id, numChildren})
	}

	for _, f := range []*float64{&model.g0, &model.betaStop, &model.betaPass} {
		if *f, err = dec.f64(); err != nil {
			return nil, err
		}
	}
	for _, v := range []*[]float64{&model.d, &model.theta, &model.betaA, &model.betaB, &model.gammaA, &model.gammaB} {
		if *v, err = dec.floats(); err != nil {
			return nil, err
		}
	}
	if dec.off != len(body) {
		return nil, fmt.Errorf("%w: %v trailing bytes", ErrCorrupted, len(body)-dec.off)
	}
	if model.g0 < 0 || model.g0 > 1 || !(model.betaStop > 0) || !(model.betaPass > 0) {
		return nil, fmt.Errorf("%w: invalid g0 or depth prior", ErrCorrupted)
	}
	for m, d := range model.d {
		if !(d >= 0 && d < 1) {
			return nil, fmt.Errorf("%w: discount %v at depth %v", ErrCorrupted, d, m)
		}
	}
	for m, theta := range model.theta {
		if !(theta >= 0) {
			return nil, fmt.Errorf("%w: concentration %v at depth %v", ErrCorrupted, theta, m)
		}
	}
	priors := []struct {
		name   string
		values []float64
	}{
		{"betaA", model.betaA}, {"betaB", model.betaB}, {"gammaA", model.gammaA}, {"gammaB", model.gammaB},
	}
	for _, prior := range priors {
		for m, x := range prior.values {
			if !(x > 0) {
				return nil, fmt.Errorf("%w: %v %v at depth %v", ErrCorrupted, prior.name, x, m)
			}
		}
	}
	return model, nil
}

// Load replaces the model with the one read from r.
func (vpylm *VPYLM) Load(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return vpylm.UnmarshalBinary(data)
}

// LoadFile replaces the model with the one stored in filename.
func (vpylm *VPYLM) LoadFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := vpylm.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("load model %v: %w", filename, err)
	}
	return nil
}
