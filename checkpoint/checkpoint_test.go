package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/seiichiinoue/vpylm/bayselm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatal("Open error = ", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)
	rec := Record{
		Epoch:              3,
		CreatedAt:          createdAt,
		TrainLogLikelihood: -1234.5,
		TestPerplexity:     87.25,
		NumNodes:           10,
		NumCustomers:       42,
		Depth:              4,
		Model:              []byte("VPYL model bytes"),
	}
	id, err := store.Put(ctx, rec)
	if err != nil {
		t.Fatal("Put error = ", err)
	}
	if len(id) != 26 {
		t.Error("id = ", id, "len(id) = ", len(id))
	}
	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal("Get error = ", err)
	}
	if !(got.ID == id && got.Epoch == 3 && got.NumNodes == 10 && got.NumCustomers == 42 && got.Depth == 4) {
		t.Error("got = ", got)
	}
	if !(got.TrainLogLikelihood == -1234.5 && got.TestPerplexity == 87.25) {
		t.Error("got.TrainLogLikelihood = ", got.TrainLogLikelihood, "got.TestPerplexity = ", got.TestPerplexity)
	}
	if !got.CreatedAt.Equal(createdAt) {
		t.Error("got.CreatedAt = ", got.CreatedAt, "createdAt = ", createdAt)
	}
	if !bytes.Equal(got.Model, rec.Model) {
		t.Error("got.Model = ", got.Model, "rec.Model = ", rec.Model)
	}
}

func TestNaNPerplexity(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	id, err := store.Put(ctx, Record{Epoch: 1, TestPerplexity: math.NaN(), Model: []byte{1}})
	if err != nil {
		t.Fatal("Put error = ", err)
	}
	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal("Get error = ", err)
	}
	if !math.IsNaN(got.TestPerplexity) {
		t.Error("got.TestPerplexity = ", got.TestPerplexity)
	}
	if got.CreatedAt.IsZero() {
		t.Error("got.CreatedAt is zero")
	}
}

func TestLatestAndList(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if _, err := store.Latest(ctx); !errors.Is(err, ErrNotFound) {
		t.Error("Latest on empty store error = ", err)
	}
	for _, epoch := range []int{2, 5, 1} {
		if _, err := store.Put(ctx, Record{Epoch: epoch, Model: []byte{byte(epoch)}}); err != nil {
			t.Fatal("Put error = ", err)
		}
	}
	latest, err := store.Latest(ctx)
	if err != nil {
		t.Fatal("Latest error = ", err)
	}
	if !(latest.Epoch == 5 && bytes.Equal(latest.Model, []byte{5})) {
		t.Error("latest = ", latest)
	}

	recs, err := store.List(ctx)
	if err != nil {
		t.Fatal("List error = ", err)
	}
	if len(recs) != 3 {
		t.Fatal("len(recs) = ", len(recs))
	}
	for i, epoch := range []int{1, 2, 5} {
		if recs[i].Epoch != epoch {
			t.Error("recs[i].Epoch = ", recs[i].Epoch, "epoch = ", epoch, "i = ", i)
		}
		if recs[i].Model != nil {
			t.Error("List should not load model blobs, i = ", i)
		}
	}
}

func TestGetMissing(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV"); !errors.Is(err, ErrNotFound) {
		t.Error("err = ", err)
	}
}

func TestDuplicateID(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	rec := Record{ID: "fixed", Epoch: 1, Model: []byte{1}}
	if _, err := store.Put(ctx, rec); err != nil {
		t.Fatal("Put error = ", err)
	}
	if _, err := store.Put(ctx, rec); err == nil {
		t.Error("second Put with the same id should fail")
	}
}

func snapshot(t *testing.T, model *bayselm.VPYLM, epoch int) Record {
	t.Helper()
	blob, err := model.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	stats := model.Stats()
	return Record{Epoch: epoch, NumNodes: stats.Nodes, NumCustomers: stats.Customers, Depth: stats.Depth, Model: blob}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if _, err := store.Restore(ctx, "", bayselm.NewDefaultVPYLM(0.25, 1)); !errors.Is(err, ErrNotFound) {
		t.Error("Restore on empty store error = ", err)
	}

	model := bayselm.NewDefaultVPYLM(0.25, 1)
	seq := []bayselm.ID{bayselm.BOS, 2, 3, 4, 2, bayselm.EOS}
	var firstID string
	for epoch := 1; epoch <= 2; epoch++ {
		for tt := 1; tt < len(seq); tt++ {
			model.AddCustomerAtTimestep(seq, tt, model.SampleDepthAtTimestep(seq, tt))
		}
		id, err := store.Put(ctx, snapshot(t, model, epoch))
		if err != nil {
			t.Fatal("Put error = ", err)
		}
		if epoch == 1 {
			firstID = id
		}
	}

	latest := bayselm.NewDefaultVPYLM(0.5, 2)
	rec, err := store.Restore(ctx, "", latest)
	if err != nil {
		t.Fatal("Restore error = ", err)
	}
	if !(rec.Epoch == 2 && latest.NumCustomers() == model.NumCustomers() && latest.NumNodes() == model.NumNodes()) {
		t.Error("rec.Epoch = ", rec.Epoch, "latest.Stats() = ", latest.Stats(), "model.Stats() = ", model.Stats())
	}
	if err := latest.CheckInvariants(); err != nil {
		t.Error(err)
	}

	first := bayselm.NewDefaultVPYLM(0.5, 2)
	rec, err = store.Restore(ctx, firstID, first)
	if err != nil {
		t.Fatal("Restore error = ", err)
	}
	if !(rec.Epoch == 1 && first.NumCustomers() == len(seq)-1 && first.NumCustomers() == rec.NumCustomers) {
		t.Error("rec.Epoch = ", rec.Epoch, "first.Stats() = ", first.Stats())
	}

	// an undecodable blob fails and leaves the target as it was
	badID, err := store.Put(ctx, Record{Epoch: 3, Model: []byte("not a model")})
	if err != nil {
		t.Fatal("Put error = ", err)
	}
	if _, err := store.Restore(ctx, badID, first); !errors.Is(err, bayselm.ErrInvalidFormat) {
		t.Error("bad blob err = ", err)
	}
	if first.NumCustomers() != len(seq)-1 {
		t.Error("first.Stats() = ", first.Stats())
	}
}
