package protocol_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/protocol"
)

var _ = Describe("Writer", func() {
	Describe("Topic.String()", func() {
		It("joins node topics with four segments", func() {
			t := protocol.NodeTopic(protocol.NamespaceB, "g1", protocol.NBIRTH, "node1")
			Expect(t.String()).To(Equal("spBv1.0/g1/NBIRTH/node1"))
		})

		It("joins device topics with five segments", func() {
			t := protocol.DeviceTopic(protocol.NamespaceA, "g1", protocol.DDATA, "node1", "dev1")
			Expect(t.String()).To(Equal("spAv1.0/g1/DDATA/node1/dev1"))
		})

		It("builds host state topics per specification version", func() {
			Expect(protocol.HostStateTopic(protocol.Version30, protocol.NamespaceB, "scada").String()).
				To(Equal("spBv1.0/STATE/scada"))
			Expect(protocol.HostStateTopic(protocol.Version22, protocol.NamespaceB, "scada").String()).
				To(Equal("STATE/scada"))
		})
	})

	Describe("Topic.Validate()", func() {
		It("rejects ids with MQTT wildcards or separators", func() {
			for _, id := range []string{"", "a/b", "a+", "#"} {
				err := protocol.NodeTopic(protocol.NamespaceB, id, protocol.NDATA, "node1").Validate()
				Expect(errors.Is(err, protocol.ErrInvalidID)).To(BeTrue(), id)
				Expect(errors.Is(err, pkgerrors.ErrTopic)).To(BeTrue())
			}
		})

		It("rejects a device id on node types", func() {
			err := protocol.DeviceTopic(protocol.NamespaceB, "g1", protocol.NDATA, "node1", "dev1").Validate()
			Expect(errors.Is(err, protocol.ErrDeviceNotAllowed)).To(BeTrue())
		})

		It("rejects device types without a device id", func() {
			err := protocol.NodeTopic(protocol.NamespaceB, "g1", protocol.DDATA, "node1").Validate()
			Expect(errors.Is(err, protocol.ErrDeviceRequired)).To(BeTrue())
		})
	})

	Describe("filters", func() {
		It("builds subscription filters", func() {
			Expect(protocol.NamespaceFilter(protocol.NamespaceB)).To(Equal("spBv1.0/#"))
			Expect(protocol.GroupFilter(protocol.NamespaceB, "g1")).To(Equal("spBv1.0/g1/#"))
			Expect(protocol.NodeCommandFilter(protocol.NamespaceB, "g1", "n1")).To(Equal("spBv1.0/g1/NCMD/n1"))
			Expect(protocol.DeviceCommandFilter(protocol.NamespaceB, "g1", "n1")).To(Equal("spBv1.0/g1/DCMD/n1/+"))
		})
	})

	Describe("STATE payloads", func() {
		It("encodes 3.0 state as JSON", func() {
			ts := time.UnixMilli(1700000000000)
			raw, err := protocol.EncodeState(protocol.Version30, protocol.HostState{Online: true, Timestamp: ts})
			Expect(err).To(Succeed())
			Expect(string(raw)).To(Equal(`{"online":true,"timestamp":1700000000000}`))

			st, err := protocol.DecodeState(raw)
			Expect(err).To(Succeed())
			Expect(st.Online).To(BeTrue())
			Expect(st.Timestamp.Equal(ts)).To(BeTrue())
		})

		It("encodes 2.2 state as plain strings", func() {
			raw, err := protocol.EncodeState(protocol.Version22, protocol.HostState{Online: false})
			Expect(err).To(Succeed())
			Expect(string(raw)).To(Equal("OFFLINE"))

			st, err := protocol.DecodeState([]byte("ONLINE"))
			Expect(err).To(Succeed())
			Expect(st.Online).To(BeTrue())
		})

		It("rejects malformed payloads", func() {
			_, err := protocol.DecodeState([]byte(`{"online":"yes"}`))
			Expect(err).To(MatchError(protocol.ErrMalformedState))

			_, err = protocol.DecodeState([]byte("MAYBE"))
			Expect(err).To(MatchError(protocol.ErrMalformedState))
		})
	})
})
