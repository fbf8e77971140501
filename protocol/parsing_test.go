package protocol_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/protocol"
)

var _ = Describe("Parsing", func() {
	Describe("ParseTopic()", func() {
		It("parses a node scoped topic", func() {
			t, err := protocol.ParseTopic("spBv1.0/g1/NCMD/node1")
			Expect(err).To(Succeed())
			Expect(t).To(Equal(protocol.Topic{
				Namespace:   protocol.NamespaceB,
				GroupID:     "g1",
				MessageType: protocol.NCMD,
				EdgeNodeID:  "node1",
			}))
		})

		It("parses a device scoped topic", func() {
			t, err := protocol.ParseTopic("spBv1.0/g1/DCMD/node1/dev1")
			Expect(err).To(Succeed())
			Expect(t.MessageType).To(Equal(protocol.DCMD))
			Expect(t.DeviceID).To(Equal("dev1"))
		})

		It("parses the legacy namespace", func() {
			t, err := protocol.ParseTopic("spAv1.0/g1/NDATA/node1")
			Expect(err).To(Succeed())
			Expect(t.Namespace).To(Equal(protocol.NamespaceA))
		})

		It("parses host state topics", func() {
			t, err := protocol.ParseTopic("spBv1.0/STATE/scada")
			Expect(err).To(Succeed())
			Expect(t.IsHostState()).To(BeTrue())
			Expect(t.EdgeNodeID).To(Equal("scada"))

			t, err = protocol.ParseTopic("STATE/scada")
			Expect(err).To(Succeed())
			Expect(t.IsHostState()).To(BeTrue())
			Expect(t.Namespace).To(BeZero())
		})

		expectTopicError := func(raw string, expected error) {
			_, err := protocol.ParseTopic(raw)
			Expect(errors.Is(err, expected)).To(BeTrue(), "%s: %v", raw, err)
			Expect(errors.Is(err, pkgerrors.ErrTopic)).To(BeTrue())

			var topicErr *protocol.TopicError
			Expect(errors.As(err, &topicErr)).To(BeTrue())
			Expect(topicErr.Raw).To(Equal(raw))
		}

		It("fails when the edge node id is missing", func() {
			expectTopicError("spBv1.0/g1/NCMD", protocol.ErrSegmentCount)
		})

		It("fails when there are too many segments", func() {
			expectTopicError("spBv1.0/g1/DCMD/node1/dev1/extra", protocol.ErrSegmentCount)
		})

		It("fails on an unknown namespace", func() {
			expectTopicError("spCv1.0/g1/NCMD/node1", protocol.ErrNamespace)
		})

		It("fails on empty segments", func() {
			expectTopicError("spBv1.0//NCMD/node1", protocol.ErrEmptySegment)
			expectTopicError("spBv1.0/g1/NCMD/node1/", protocol.ErrEmptySegment)
		})

		It("fails when a device type has no device id", func() {
			expectTopicError("spBv1.0/g1/DDATA/node1", protocol.ErrDeviceRequired)
		})

		It("fails when a node type has a device id", func() {
			expectTopicError("spBv1.0/g1/NDATA/node1/dev1", protocol.ErrDeviceNotAllowed)
		})

		It("returns the populated topic with an unknown message type", func() {
			t, err := protocol.ParseTopic("spBv1.0/g1/NFUTURE/node1")
			Expect(errors.Is(err, protocol.ErrUnknownMessageType)).To(BeTrue())
			Expect(t.MessageType).To(Equal(protocol.MessageType("NFUTURE")))
			Expect(t.EdgeNodeID).To(Equal("node1"))
		})
	})

	Describe("round trip", func() {
		topics := []protocol.Topic{
			protocol.NodeTopic(protocol.NamespaceB, "g1", protocol.NBIRTH, "node1"),
			protocol.NodeTopic(protocol.NamespaceB, "g1", protocol.NDEATH, "node1"),
			protocol.NodeTopic(protocol.NamespaceA, "g1", protocol.NDATA, "node1"),
			protocol.NodeTopic(protocol.NamespaceB, "g1", protocol.NCMD, "node1"),
			protocol.NodeTopic(protocol.NamespaceB, "g1", protocol.STATE, "node1"),
			protocol.DeviceTopic(protocol.NamespaceB, "g1", protocol.DBIRTH, "node1", "dev1"),
			protocol.DeviceTopic(protocol.NamespaceA, "g1", protocol.DDEATH, "node1", "dev1"),
			protocol.DeviceTopic(protocol.NamespaceB, "g1", protocol.DDATA, "node1", "dev1"),
			protocol.DeviceTopic(protocol.NamespaceB, "g1", protocol.DCMD, "node1", "dev1"),
			protocol.HostStateTopic(protocol.Version30, protocol.NamespaceB, "scada"),
			protocol.HostStateTopic(protocol.Version22, protocol.NamespaceB, "scada"),
		}

		It("parses every built topic back to itself", func() {
			for _, t := range topics {
				Expect(t.Validate()).To(Succeed())

				parsed, err := protocol.ParseTopic(t.String())
				Expect(err).To(Succeed())
				Expect(parsed).To(Equal(t))
			}
		})
	})

	Describe("ParseNamespace()", func() {
		It("accepts names and tokens", func() {
			Expect(protocol.ParseNamespace("b")).To(Equal(protocol.NamespaceB))
			Expect(protocol.ParseNamespace("spAv1.0")).To(Equal(protocol.NamespaceA))

			_, err := protocol.ParseNamespace("C")
			Expect(err).To(MatchError(protocol.ErrUnknownNamespace))
		})
	})

	Describe("ParseSpecificationVersion()", func() {
		It("accepts the released versions", func() {
			Expect(protocol.ParseSpecificationVersion("2.2")).To(Equal(protocol.Version22))
			Expect(protocol.ParseSpecificationVersion("3.0")).To(Equal(protocol.Version30))

			_, err := protocol.ParseSpecificationVersion("4.0")
			Expect(err).To(MatchError(protocol.ErrUnknownSpecificationVersion))
		})
	})
})
