package storage_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/storage"
)

var (
	storedAt = time.UnixMilli(1660000000000).UTC()

	everyType = []metric.Metric{
		metric.New("a.int8", metric.Int8, int8(-8)),
		metric.New("b*int16", metric.Int16, int16(-1600)),
		metric.New("c?int32", metric.Int32, int32(-320000)),
		metric.New("d/int64", metric.Int64, int64(-9007199254740993)),
		metric.New("e uint8", metric.UInt8, uint8(250)),
		metric.New("f uint16", metric.UInt16, uint16(65000)),
		metric.New("g uint32", metric.UInt32, uint32(4000000000)),
		metric.New("h uint64", metric.UInt64, uint64(18446744073709551615)),
		metric.New("i float", metric.Float, float32(0.1)),
		metric.New("j double", metric.Double, 0.1),
		metric.New("k bool", metric.Boolean, true),
		metric.New("l string", metric.String, "hello"),
		metric.New("m time", metric.DateTime, time.UnixMilli(1234).UTC()),
		metric.New("n bytes", metric.Bytes, []byte{0, 1, 2}),
		metric.New("o null", metric.Double, nil),
		metric.New("p dataset", metric.DataSet, &metric.DataSetValue{
			Columns: []string{"x"},
			Types:   []metric.DataType{metric.Int32},
			Rows:    [][]interface{}{{int32(1)}, {int32(2)}},
		}),
	}
)

func stamped(metrics []metric.Metric) []metric.Metric {
	out := make([]metric.Metric, len(metrics))
	for i, m := range metrics {
		out[i] = m.WithTimestamp(storedAt)
	}
	return out
}

// behavesLikeAStore runs the contract every Store implementation shares.
func behavesLikeAStore(newStore func() storage.Store) {
	var (
		ctx   context.Context
		store storage.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newStore()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("returns nothing for unknown metrics", func() {
		_, ok, err := store.Get(ctx, "g1/n1", "missing")
		Expect(err).To(Succeed())
		Expect(ok).To(BeFalse())

		values, err := store.Values(ctx, "g1/n1")
		Expect(err).To(Succeed())
		Expect(values).To(BeEmpty())
	})

	It("keeps every data type", func() {
		metrics := stamped(everyType)
		Expect(store.Set(ctx, "g1/n1", metrics...)).To(Succeed())

		values, err := store.Values(ctx, "g1/n1")
		Expect(err).To(Succeed())
		Expect(values).To(Equal(metrics))

		got, ok, err := store.Get(ctx, "g1/n1", "a.int8")
		Expect(err).To(Succeed())
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(metrics[0]))
	})

	It("keeps only the latest value", func() {
		Expect(store.Set(ctx, "g1/n1", metric.New("temp", metric.Int32, int32(1)))).To(Succeed())
		Expect(store.Set(ctx, "g1/n1", metric.New("temp", metric.Int32, int32(2)))).To(Succeed())

		got, _, err := store.Get(ctx, "g1/n1", "temp")
		Expect(err).To(Succeed())
		Expect(got.Value).To(Equal(int32(2)))
	})

	It("separates scopes", func() {
		Expect(store.Set(ctx, "g1/n1", metric.New("temp", metric.Int32, int32(1)))).To(Succeed())
		Expect(store.Set(ctx, "g1/n1/dev1", metric.New("temp", metric.Int32, int32(2)))).To(Succeed())

		Expect(store.Scopes(ctx)).To(Equal([]string{"g1/n1", "g1/n1/dev1"}))

		Expect(store.Delete(ctx, "g1/n1")).To(Succeed())
		Expect(store.Scopes(ctx)).To(Equal([]string{"g1/n1/dev1"}))
	})

	It("refuses values of the wrong type", func() {
		err := store.Set(ctx, "g1/n1", metric.New("temp", metric.Int32, "warm"))
		Expect(err).To(MatchError(ContainSubstring("temp")))
	})

	It("refuses an empty scope", func() {
		Expect(store.Set(ctx, "", metric.New("temp", metric.Int32, int32(1)))).
			To(MatchError(storage.ErrInvalidScope))
	})

	It("sends on the update channel when values are set", func() {
		updates := store.ListenToUpdates()
		m := metric.New("temp", metric.Int32, int32(7))

		Expect(store.Set(ctx, "g1/n1", m)).To(Succeed())

		var update *storage.Update
		Eventually(updates).Should(Receive(&update))
		Expect(update).To(Equal(&storage.Update{Scope: "g1/n1", Metric: m}))
	})

	It("restores its own backup", func() {
		metrics := stamped(everyType)
		Expect(store.Set(ctx, "g1/n1", metrics...)).To(Succeed())

		backup, err := store.Backup(ctx)
		Expect(err).To(Succeed())

		other := storage.NewInmemoryStore()
		defer other.Close()

		Expect(other.Restore(ctx, backup)).To(Succeed())
		Expect(other.Values(ctx, "g1/n1")).To(Equal(metrics))
	})

	It("rejects corrupt backups", func() {
		Expect(store.Restore(ctx, []byte(`[1,2]`))).To(MatchError(storage.ErrCorrupt))
		Expect(store.Restore(ctx, []byte(`{"g1/n1":{"temp":{"type":"Nope"}}}`))).
			To(MatchError(ContainSubstring("temp")))
	})
}

var _ = Describe("Scope()", func() {
	It("joins ids and skips empty ones", func() {
		Expect(storage.Scope("g1", "n1", "")).To(Equal("g1/n1"))
		Expect(storage.Scope("g1", "n1", "dev1")).To(Equal("g1/n1/dev1"))
	})
})
