package cmd

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/sparkplug/transport"
)

var _ = Describe("demo", func() {
	It("runs a node and a host to completion", func() {
		broker := transport.NewBroker()

		Expect(runDemo(context.Background(), broker, 3, time.Millisecond, zap.NewNop())).To(Succeed())

		types := map[string]int{}
		for _, p := range broker.Published() {
			if p.ClientID == "demo-edge1" {
				types[p.Topic]++
			}
		}

		Expect(types["spBv1.0/demo/NBIRTH/edge1"]).To(BeNumerically(">=", 1))
		Expect(types["spBv1.0/demo/DBIRTH/edge1/pump"]).To(BeNumerically(">=", 1))
		Expect(types["spBv1.0/demo/NDATA/edge1"]).To(Equal(3))
		Expect(types["spBv1.0/demo/DDATA/edge1/pump"]).To(Equal(3))
		Expect(types["spBv1.0/demo/NDEATH/edge1"]).To(Equal(1))
	})
})
