package application_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/sparkplug/application"
	"github.com/luma/sparkplug/dispatch"
	pkgerrors "github.com/luma/sparkplug/errors"
	"github.com/luma/sparkplug/message"
	"github.com/luma/sparkplug/metric"
	"github.com/luma/sparkplug/node"
	"github.com/luma/sparkplug/payload"
	"github.com/luma/sparkplug/protocol"
	"github.com/luma/sparkplug/storage"
	"github.com/luma/sparkplug/telemetry"
	"github.com/luma/sparkplug/transport"
)

type recorder struct {
	mu   sync.Mutex
	msgs []*dispatch.Message
}

func (r *recorder) handle(ctx context.Context, msg *dispatch.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) received() []*dispatch.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*dispatch.Message(nil), r.msgs...)
}

// counter reads a counter from the telemetry registry.
func counter(t *telemetry.Telemetry, name string) float64 {
	families, err := t.Gatherer().Gather()
	Expect(err).To(Succeed())

	for _, f := range families {
		if f.GetName() != name {
			continue
		}

		total := 0.0
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}

	return 0
}

var _ = Describe("Application", func() {
	var (
		ctx     context.Context
		broker  *transport.Broker
		conn    *transport.Loopback
		store   storage.Store
		metrics *telemetry.Telemetry
		app     *application.Application
		options application.Options
	)

	edge := message.Identity{GroupID: "g1", EdgeNodeID: "n1"}

	online := func(id message.Identity) func() bool {
		return func() bool {
			s, ok := app.Node(id)
			return ok && s.Online
		}
	}

	commands := func() []transport.Published {
		out := []transport.Published{}
		for _, p := range broker.Published() {
			if p.ClientID == "host" && p.Topic != "spBv1.0/STATE/h1" {
				out = append(out, p)
			}
		}
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		broker = transport.NewBroker()
		conn = broker.NewClient("host")
		store = storage.NewInmemoryStore()
		metrics = telemetry.New()

		options = application.Options{
			HostID:    "h1",
			Transport: conn,
			Store:     store,
			Telemetry: metrics,
		}
	})

	JustBeforeEach(func() {
		var err error
		app, err = application.New(options)
		Expect(err).To(Succeed())
		Expect(app.Connect(ctx)).To(Succeed())
	})

	AfterEach(func() {
		Expect(app.Disconnect(ctx)).To(Succeed())
		conn.Wait()
		Expect(store.Close()).To(Succeed())
	})

	Describe("New", func() {
		It("validates the host id and transport", func() {
			_, err := application.New(application.Options{HostID: "h/1", Transport: conn})
			Expect(pkgerrors.KindOf(err)).To(Equal(pkgerrors.KindConfiguration))

			_, err = application.New(application.Options{HostID: "h1"})
			Expect(err).To(MatchError(application.ErrNoTransport))

			_, err = application.New(application.Options{HostID: "h1", Transport: conn, Groups: []string{"a+b"}})
			Expect(pkgerrors.KindOf(err)).To(Equal(pkgerrors.KindConfiguration))
		})
	})

	Describe("STATE", func() {
		It("announces the host online", func() {
			Expect(app.IsConnected()).To(BeTrue())
			Expect(app.IsRunning()).To(BeTrue())

			p, ok := broker.Retained("spBv1.0/STATE/h1")
			Expect(ok).To(BeTrue())
			Expect(p.QoS).To(Equal(message.StateQoS))

			st, err := protocol.DecodeState(p.Payload)
			Expect(err).To(Succeed())
			Expect(st.Online).To(BeTrue())
		})

		It("leaves an offline will", func() {
			broker.Drop("host")

			p, ok := broker.Retained("spBv1.0/STATE/h1")
			Expect(ok).To(BeTrue())
			st, err := protocol.DecodeState(p.Payload)
			Expect(err).To(Succeed())
			Expect(st.Online).To(BeFalse())
			Expect(app.IsConnected()).To(BeFalse())
		})

		It("announces the host offline on disconnect", func() {
			Expect(app.Disconnect(ctx)).To(Succeed())

			p, ok := broker.Retained("spBv1.0/STATE/h1")
			Expect(ok).To(BeTrue())
			st, err := protocol.DecodeState(p.Payload)
			Expect(err).To(Succeed())
			Expect(st.Online).To(BeFalse())
		})

		Context("with Sparkplug 2.2", func() {
			BeforeEach(func() {
				options.SpecificationVersion = protocol.Version22
			})

			It("uses the bare STATE topic", func() {
				p, ok := broker.Retained("STATE/h1")
				Expect(ok).To(BeTrue())
				Expect(string(p.Payload)).To(Equal("ONLINE"))
			})
		})

		It("passes STATE messages to the hook", func() {
			hosts := make(chan string, 4)
			app.OnState(func(ctx context.Context, hostID string, st protocol.HostState) error {
				hosts <- hostID
				return nil
			})

			other := broker.NewClient("other")
			Expect(other.Connect(ctx, transport.ConnectOptions{})).To(Succeed())
			defer other.Disconnect(ctx)

			state, err := protocol.EncodeState(protocol.Version30, protocol.HostState{Online: true, Timestamp: time.Now()})
			Expect(err).To(Succeed())
			Expect(other.Publish(ctx, "spBv1.0/STATE/h2", state, 1, true)).To(Succeed())

			Eventually(hosts).Should(Receive(Equal("h2")))
		})
	})

	Describe("following a node", func() {
		var (
			edgeConn *transport.Loopback
			n        *node.Node
		)

		JustBeforeEach(func() {
			edgeConn = broker.NewClient("edge")

			var err error
			n, err = node.New(node.Options{
				GroupID:      edge.GroupID,
				EdgeNodeID:   edge.EdgeNodeID,
				KnownMetrics: []metric.Metric{metric.New("temp", metric.Float, float32(0))},
				Transport:    edgeConn,
			})
			Expect(err).To(Succeed())
		})

		AfterEach(func() {
			Expect(n.Disconnect(ctx)).To(Succeed())
			edgeConn.Wait()
		})

		It("tracks births, data and deaths", func() {
			births, data, deaths := &recorder{}, &recorder{}, &recorder{}
			app.OnBirth(births.handle)
			app.OnData(data.handle)
			app.OnDeath(deaths.handle)

			Expect(n.Connect(ctx)).To(Succeed())
			Eventually(online(edge)).Should(BeTrue())

			s, _ := app.Node(edge)
			Expect(s.SessionNumber).To(Equal(int64(0)))
			Expect(s.Gaps).To(BeZero())

			_, err := n.PublishMetrics(ctx, []metric.Metric{metric.New("temp", metric.Float, float32(5))})
			Expect(err).To(Succeed())

			Eventually(func() int { return len(data.received()) }).Should(Equal(1))
			Expect(data.received()[0].Metrics[0].Value).To(Equal(float32(5)))

			m, ok, err := store.Get(ctx, storage.Scope("g1", "n1"), "temp")
			Expect(err).To(Succeed())
			Expect(ok).To(BeTrue())
			Expect(m.Value).To(Equal(float32(5)))

			Expect(n.Disconnect(ctx)).To(Succeed())
			Eventually(online(edge)).Should(BeFalse())
			Expect(births.received()).To(HaveLen(1))
			Expect(deaths.received()).To(HaveLen(1))
			Expect(app.Nodes()).To(HaveLen(1))
		})

		It("tracks devices", func() {
			Expect(n.AddDevice(ctx, "d1", []metric.Metric{metric.New("rpm", metric.Int32, int32(0))})).To(Succeed())
			Expect(n.Connect(ctx)).To(Succeed())

			Eventually(func() bool {
				s, _ := app.Node(edge)
				return s.Devices["d1"]
			}).Should(BeTrue())

			Expect(n.RemoveDevice(ctx, "d1")).To(Succeed())

			Eventually(func() bool {
				s, _ := app.Node(edge)
				return s.Devices["d1"]
			}).Should(BeFalse())
		})

		It("ignores the death certificate of an older session", func() {
			Expect(n.Connect(ctx)).To(Succeed())
			Eventually(online(edge)).Should(BeTrue())

			gen, err := message.NewGenerator(protocol.NamespaceB, protocol.Version30)
			Expect(err).To(Succeed())
			stale, err := gen.NodeDeath(edge, 7)
			Expect(err).To(Succeed())

			Expect(edgeConn.Publish(ctx, stale.Topic.String(), stale.Payload, 0, false)).To(Succeed())

			// a later message proves the stale death was processed
			_, err = n.PublishMetrics(ctx, nil)
			Expect(err).To(Succeed())
			Eventually(func() bool {
				s, _ := app.Node(edge)
				return s.HasSeq && s.LastSeq == 1
			}).Should(BeTrue())

			Expect(online(edge)()).To(BeTrue())
		})

		Context("with automatic rebirth", func() {
			BeforeEach(func() {
				options.AutoRebirth = true
			})

			It("asks a node it never saw born to rebirth", func() {
				Expect(app.Disconnect(ctx)).To(Succeed())
				conn.Wait()

				Expect(n.Connect(ctx)).To(Succeed())
				Expect(app.Connect(ctx)).To(Succeed())

				_, err := n.PublishMetrics(ctx, nil)
				Expect(err).To(Succeed())

				Eventually(online(edge)).Should(BeTrue())
				Expect(counter(metrics, "sparkplug_rebirths_total")).To(BeNumerically(">=", 1))
			})
		})
	})

	Describe("sequence tracking", func() {
		var (
			raw   *transport.Loopback
			codec payload.VersionB
		)

		send := func(mt protocol.MessageType, seq uint64, metrics ...metric.Metric) {
			data, err := codec.Encode(&payload.Payload{
				Timestamp: time.Now(),
				Seq:       &seq,
				Metrics:   metrics,
			})
			Expect(err).To(Succeed())

			topic := protocol.NodeTopic(protocol.NamespaceB, "g1", mt, "n1")
			Expect(raw.Publish(ctx, topic.String(), data, 0, false)).To(Succeed())
		}

		lastSeq := func() uint8 {
			s, _ := app.Node(edge)
			return s.LastSeq
		}

		JustBeforeEach(func() {
			raw = broker.NewClient("raw")
			Expect(raw.Connect(ctx, transport.ConnectOptions{})).To(Succeed())

			send(protocol.NBIRTH, 0,
				metric.New(protocol.MetricBdSeq, metric.Int64, int64(3)),
				metric.New("temp", metric.Float, float32(1)).WithAlias(10))
			Eventually(online(edge)).Should(BeTrue())
		})

		AfterEach(func() {
			Expect(raw.Disconnect(ctx)).To(Succeed())
			raw.Wait()
		})

		It("counts the messages lost between two sequence numbers", func() {
			send(protocol.NDATA, 1)
			send(protocol.NDATA, 4)
			Eventually(lastSeq).Should(Equal(uint8(4)))

			s, _ := app.Node(edge)
			Expect(s.Gaps).To(Equal(uint64(2)))
			Expect(s.SessionNumber).To(Equal(int64(3)))
			Expect(counter(metrics, "sparkplug_sequence_gaps_total")).To(Equal(float64(1)))
			Expect(commands()).To(BeEmpty())
		})

		It("follows the sequence across the wrap", func() {
			data := &recorder{}
			app.OnData(data.handle)

			for seq := uint64(1); seq <= 255; seq++ {
				send(protocol.NDATA, seq)
			}
			send(protocol.NDATA, 0)
			send(protocol.NDATA, 1)

			Eventually(func() int { return len(data.received()) }).Should(Equal(257))
			Expect(lastSeq()).To(Equal(uint8(1)))

			s, _ := app.Node(edge)
			Expect(s.Gaps).To(BeZero())
		})

		It("names metrics from the aliases of the birth", func() {
			data := &recorder{}
			app.OnData(data.handle)

			alias := metric.Metric{DataType: metric.Float, Value: float32(9)}.WithAlias(10)
			send(protocol.NDATA, 1, alias)

			Eventually(func() int { return len(data.received()) }).Should(Equal(1))
			Expect(data.received()[0].Metrics[0].Name).To(Equal("temp"))
		})

		Context("with automatic rebirth", func() {
			BeforeEach(func() {
				options.AutoRebirth = true
			})

			It("asks for a rebirth after a gap", func() {
				send(protocol.NDATA, 5)

				Eventually(commands).Should(HaveLen(1))

				cmd := commands()[0]
				Expect(cmd.Topic).To(Equal("spBv1.0/g1/NCMD/n1"))

				d, err := codec.Decode(cmd.Payload)
				Expect(err).To(Succeed())
				Expect(d.Metrics()).To(HaveLen(1))
				Expect(d.Metrics()[0].Name).To(Equal(protocol.MetricNodeRebirth))
				Expect(d.Metrics()[0].Value).To(Equal(true))
			})
		})
	})

	Describe("commands", func() {
		It("publishes node and device commands", func() {
			Expect(app.PublishNodeCommand(ctx, edge, []metric.Metric{metric.New("temp", metric.Float, float32(2))})).To(Succeed())
			Expect(app.PublishDeviceCommand(ctx, edge.Device("d1"), []metric.Metric{metric.New("rpm", metric.Int32, int32(3))})).To(Succeed())

			cmds := commands()
			Expect(cmds).To(HaveLen(2))
			Expect(cmds[0].Topic).To(Equal("spBv1.0/g1/NCMD/n1"))
			Expect(cmds[1].Topic).To(Equal("spBv1.0/g1/DCMD/n1/d1"))
		})

		It("requires a device id for device commands", func() {
			err := app.PublishDeviceCommand(ctx, edge, nil)
			Expect(err).To(MatchError(message.ErrMissingDeviceID))
		})

		It("fails when disconnected", func() {
			Expect(app.Disconnect(ctx)).To(Succeed())

			err := app.RequestRebirth(ctx, edge)
			Expect(err).To(MatchError(application.ErrNotConnected))
		})

		It("draws no sequence number for a command that does not encode", func() {
			err := app.PublishNodeCommand(ctx, edge, []metric.Metric{metric.New("temp", metric.Float, 2)})
			Expect(err).To(MatchError(metric.ErrTypeMismatch))
			Expect(app.Snapshot().SequenceNumber).To(Equal(uint8(0)))
			Expect(commands()).To(BeEmpty())

			Expect(app.PublishNodeCommand(ctx, edge, []metric.Metric{metric.New("temp", metric.Float, float32(2))})).To(Succeed())
			Expect(app.Snapshot().SequenceNumber).To(Equal(uint8(1)))
		})

		Context("when sends fail", func() {
			var flaky *failingTransport

			BeforeEach(func() {
				flaky = &failingTransport{Loopback: broker.NewClient("host")}
				options.Transport = flaky
			})

			AfterEach(func() {
				Expect(app.Disconnect(ctx)).To(Succeed())
				flaky.Wait()
			})

			It("ends the session until the next connect", func() {
				errSend := errors.New("send failed")
				flaky.failWith(errSend)

				err := app.PublishNodeCommand(ctx, edge, []metric.Metric{metric.New("temp", metric.Float, float32(2))})
				Expect(err).To(MatchError(errSend))
				Expect(app.IsConnected()).To(BeFalse())
				Expect(app.IsRunning()).To(BeFalse())

				flaky.failWith(nil)
				Expect(app.RequestRebirth(ctx, edge)).To(MatchError(application.ErrNotConnected))

				Expect(app.Connect(ctx)).To(Succeed())
				Expect(app.IsRunning()).To(BeTrue())
				Expect(app.RequestRebirth(ctx, edge)).To(Succeed())
				Expect(commands()).To(HaveLen(1))
			})
		})
	})
})

// failingTransport is a Loopback whose publishes fail while an error is set.
type failingTransport struct {
	*transport.Loopback

	mu  sync.Mutex
	err error
}

func (t *failingTransport) failWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.err = err
}

func (t *failingTransport) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	t.mu.Lock()
	err := t.err
	t.mu.Unlock()

	if err != nil {
		return err
	}

	return t.Loopback.Publish(ctx, topic, payload, qos, retain)
}
