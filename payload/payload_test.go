package payload_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/payload"
	"github.com/luma/sparkplug/protocol"
)

var _ = Describe("Payload", func() {
	Describe("ForNamespace()", func() {
		It("picks the codec of the namespace", func() {
			a, err := payload.ForNamespace(protocol.NamespaceA)
			Expect(err).To(Succeed())
			Expect(a.Namespace()).To(Equal(protocol.NamespaceA))

			b, err := payload.ForNamespace(protocol.NamespaceB)
			Expect(err).To(Succeed())
			Expect(b.Namespace()).To(Equal(protocol.NamespaceB))
		})

		It("rejects an unknown namespace", func() {
			_, err := payload.ForNamespace(protocol.Namespace(42))
			Expect(errors.Is(err, payload.ErrUnsupportedNamespace)).To(BeTrue())
			Expect(errors.Is(err, pkgerrors.ErrCodec)).To(BeTrue())
		})
	})

	Describe("Decoded", func() {
		failure := errors.New("nope")

		d := &payload.Decoded{
			Conversions: []payload.Conversion{
				{Index: 0, Name: "a", Metric: metric.New("a", metric.Int32, int32(1))},
				{Index: 1, Name: "b", Err: failure},
				{Index: 2, Name: "c", Metric: metric.New("c", metric.Boolean, true)},
			},
		}

		It("keeps successful metrics in order", func() {
			names := []string{}
			for _, m := range d.Metrics() {
				names = append(names, m.Name)
			}
			Expect(names).To(Equal([]string{"a", "c"}))
		})

		It("reports the failures", func() {
			Expect(d.Failed()).To(HaveLen(1))
			Expect(d.Failed()[0].Name).To(Equal("b"))
			Expect(errors.Is(d.Err(), failure)).To(BeTrue())
		})

		It("has no error when everything converted", func() {
			ok := &payload.Decoded{Conversions: d.Conversions[:1]}
			Expect(ok.Err()).To(BeNil())
		})
	})
})
