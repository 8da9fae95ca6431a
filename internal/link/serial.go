package link

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/agrifly-io/agrifly/internal/pkg/metrics"
	"github.com/agrifly-io/agrifly/pkg/log"
)

// telemetryMessageIDs are the message ids the broker asks the vehicle to
// stream via SET_MESSAGE_INTERVAL after connecting.
var telemetryMessageIDs = []uint32{1, 24, 30, 33, 42, 74, 147}

var _ Link = (*Serial)(nil)

// Serial is a Link over a serial MAVLink endpoint.
type Serial struct {
	cfg    Config
	logger log.Logger

	events chan Event

	mu            sync.Mutex
	node          *gomavlib.Node
	open          bool
	connected     bool
	lastHeartbeat time.Time
	targetSys     uint8
	targetComp    uint8
	seq           uint8

	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSerial creates an unopened serial link.
func NewSerial(cfg Config) *Serial {
	c := cfg.withDefaults()
	return &Serial{
		cfg:        c,
		logger:     log.WithName("link").WithValues("vehicle", c.VehicleID),
		events:     make(chan Event, 256),
		targetSys:  DefaultTargetSystem,
		targetComp: DefaultTargetComponent,
	}
}

func (s *Serial) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointSerial{
				Device: s.cfg.Endpoint,
				Baud:   s.cfg.Baud,
			},
		},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: SystemID,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOpen, s.cfg.Endpoint, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.node = node
	s.cancel = cancel
	s.open = true

	s.wg.Add(2)
	go s.readLoop()
	go s.heartbeatLoop(ctx)
	go func() {
		s.wg.Wait()
		close(s.events)
	}()

	s.logger.Info("Link opened", "endpoint", s.cfg.Endpoint, "baud", s.cfg.Baud)
	return nil
}

func (s *Serial) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.open = false
		s.connected = false
		node := s.node
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if node != nil {
			node.Close()
		}
		s.logger.Info("Link closed")
	})
	return nil
}

func (s *Serial) Send(msg message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrNotOpen
	}

	if err := s.node.WriteMessageAll(msg); err != nil {
		return fmt.Errorf("link: write: %w", err)
	}
	s.seq++ // wraps at 256 by type
	return nil
}

func (s *Serial) Events() <-chan Event { return s.events }

func (s *Serial) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Serial) Target() (uint8, uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetSys, s.targetComp
}

func (s *Serial) Seq() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Serial) IsSimulated() bool { return false }

// readLoop drains the node's event channel until the node is closed.
func (s *Serial) readLoop() {
	defer s.wg.Done()

	vehicle := strconv.Itoa(s.cfg.VehicleID)

	for evt := range s.node.Events() {
		frm, ok := evt.(*gomavlib.EventFrame)
		if !ok {
			continue
		}

		msg := frm.Message()
		metrics.FramesDecodedTotal.WithLabelValues(vehicle).Inc()

		if hb, ok := msg.(*common.MessageHeartbeat); ok {
			s.observeHeartbeat(hb, frm.SystemID(), frm.ComponentID())
		}

		s.emit(Message{
			Msg:         msg,
			SystemID:    frm.SystemID(),
			ComponentID: frm.ComponentID(),
		})
	}
}

// observeHeartbeat refreshes the silence window and handles the
// disconnected→connected transition.
func (s *Serial) observeHeartbeat(hb *common.MessageHeartbeat, sysID, compID uint8) {
	if sysID == SystemID {
		// Our own heartbeat looped back.
		return
	}
	// Only the autopilot's heartbeat marks the vehicle alive.
	if hb.Type == common.MAV_TYPE_GCS {
		return
	}

	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	wasConnected := s.connected
	s.connected = true
	s.targetSys = sysID
	if compID != 0 {
		s.targetComp = compID
	}
	s.mu.Unlock()

	if !wasConnected {
		s.logger.Info("Vehicle heartbeat acquired", "system", sysID, "component", compID)
		metrics.LinkUp.WithLabelValues(strconv.Itoa(s.cfg.VehicleID)).Set(1)
		s.emit(Connected{SystemID: sysID, ComponentID: compID})
		s.requestStreams(sysID)
	}
}

// requestStreams asks the vehicle for the telemetry message set after a
// connect, matching what desktop ground stations do.
func (s *Serial) requestStreams(sysID uint8) {
	rate := s.cfg.StreamRateHz

	if err := s.Send(&common.MessageRequestDataStream{
		TargetSystem:    sysID,
		TargetComponent: 1,
		ReqStreamId:     uint8(common.MAV_DATA_STREAM_ALL),
		ReqMessageRate:  uint16(rate),
		StartStop:       1,
	}); err != nil {
		s.logger.Warn("Data stream request failed", "error", err.Error())
	}

	intervalUs := float32(1e6 / rate)
	for _, id := range telemetryMessageIDs {
		if err := s.Send(&common.MessageCommandLong{
			TargetSystem:    sysID,
			TargetComponent: 1,
			Command:         common.MAV_CMD_SET_MESSAGE_INTERVAL,
			Param1:          float32(id),
			Param2:          intervalUs,
		}); err != nil {
			s.logger.Warn("Message interval request failed", "msgid", id, "error", err.Error())
			return
		}
	}
}

// heartbeatLoop sends the GCS heartbeat and enforces the silence window.
func (s *Serial) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := s.Send(&common.MessageHeartbeat{
				Type:           common.MAV_TYPE_GCS,
				Autopilot:      common.MAV_AUTOPILOT_INVALID,
				SystemStatus:   common.MAV_STATE_ACTIVE,
				MavlinkVersion: 3,
			}); err != nil {
				s.logger.Debug("Heartbeat send failed", "error", err.Error())
			}

			s.mu.Lock()
			silent := s.connected && time.Since(s.lastHeartbeat) > s.cfg.HeartbeatTimeout
			if silent {
				s.connected = false
			}
			s.mu.Unlock()

			if silent {
				s.logger.Warn("Heartbeat silence, marking disconnected",
					"timeout", s.cfg.HeartbeatTimeout)
				metrics.LinkUp.WithLabelValues(strconv.Itoa(s.cfg.VehicleID)).Set(0)
				s.emit(Disconnected{Reason: "heartbeat timeout"})
			}
		}
	}
}

// emit delivers an event without ever blocking the read loop. When the
// consumer lags, the oldest queued event is dropped first.
func (s *Serial) emit(ev Event) {
	select {
	case s.events <- ev:
		return
	default:
	}

	select {
	case <-s.events:
		metrics.FramesDroppedTotal.WithLabelValues(strconv.Itoa(s.cfg.VehicleID), "queue_full").Inc()
	default:
	}

	select {
	case s.events <- ev:
	default:
	}
}
