package storage_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/storage"
)

var _ = Describe("storage / InmemoryStore", func() {
	behavesLikeAStore(func() storage.Store {
		return storage.NewInmemoryStore()
	})

	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})

		It("closes update channels and refuses writes", func() {
			store := storage.NewInmemoryStore()
			updates := store.ListenToUpdates()
			Expect(store.Close()).To(Succeed())

			Eventually(updates).Should(BeClosed())
			Expect(store.Set(context.Background(), "g1/n1", metric.New("a", metric.Int32, int32(1)))).
				To(MatchError(storage.ErrClosed))
		})
	})

	It("an empty inmemory store equals {}", func() {
		store := storage.NewInmemoryStore()
		defer store.Close()

		value, err := store.Backup(context.Background())
		Expect(err).To(Succeed())
		Expect(string(value)).To(Equal(`{}`))
	})

	It("writes a readable JSON document", func() {
		store := storage.NewInmemoryStore()
		defer store.Close()

		err := store.Set(context.Background(), "g1/n1", metric.New("temp", metric.Int32, int32(5)))
		Expect(err).To(Succeed())

		value, err := store.Backup(context.Background())
		Expect(err).To(Succeed())
		Expect(string(value)).To(Equal(`{"g1/n1":{"temp":{"type":"Int32","value":5,"null":false}}}`))
	})
})
