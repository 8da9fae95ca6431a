package link

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/agrifly-io/agrifly/pkg/log"
)

// Simulator dynamics. Ground speed 2.5 m/s is roughly 0.000025 deg/s at
// the equator; altitude eases at 20 %/s toward its target.
const (
	simGroundSpeed   = 2.5
	simDegPerSecond  = 0.000025
	simAltEaseFactor = 0.2
	simDrainPerSec   = 0.05 // battery percent per second while armed
)

// SimState is the simulated vehicle state. Tests and bench setups may
// preset it through Simulator.SetState.
type SimState struct {
	Latitude    float64
	Longitude   float64
	AltitudeRel float64
	HomeAltMSL  float64
	Heading     float64

	FixType    int
	Satellites int
	HDOP       float64

	Voltage   float64
	Remaining float64

	Armed bool
	Mode  uint32
}

var _ Link = (*Simulator)(nil)

// Simulator is a Link with no transport: it synthesizes telemetry at
// 1 Hz and answers commands and the mission handshake like a compliant
// autopilot. It feeds the same decode path as the serial link.
type Simulator struct {
	cfg    Config
	logger log.Logger

	// TickInterval overrides the 1 Hz dynamics tick; set before Open.
	TickInterval time.Duration

	events chan Event

	mu    sync.Mutex
	open  bool
	seq   uint8
	state SimState

	homeLat float64
	homeLon float64

	// Mission storage and upload handshake
	mission        []*common.MessageMissionItemInt
	uploadExpected int
	uploadGot      int
	uploading      bool
	missionActive  bool
	missionIndex   int

	// Navigation targets
	targetAlt  float64
	gotoTarget *simTarget

	detectionActive bool
	detectionCount  int

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

type simTarget struct {
	lat, lon, alt float64
}

// NewSimulator creates a simulator with a healthy default state.
func NewSimulator(cfg Config) *Simulator {
	c := cfg.withDefaults()
	return &Simulator{
		cfg:          c,
		logger:       log.WithName("sim").WithValues("vehicle", c.VehicleID),
		TickInterval: time.Second,
		events:       make(chan Event, 256),
		done:         make(chan struct{}),
		state: SimState{
			Latitude:   23.2949,
			Longitude:  85.3096,
			HomeAltMSL: 100.0,
			FixType:    3,
			Satellites: 12,
			HDOP:       0.9,
			Voltage:    12.6,
			Remaining:  100,
			Mode:       0, // STABILIZE
		},
	}
}

// SetState mutates the simulated vehicle state under the lock.
func (s *Simulator) SetState(mut func(*SimState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mut(&s.state)
}

func (s *Simulator) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return nil
	}
	s.open = true
	s.homeLat = s.state.Latitude
	s.homeLon = s.state.Longitude
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.tickLoop(ctx)

	s.logger.Info("Simulated vehicle started")
	s.emit(Connected{SystemID: DefaultTargetSystem, ComponentID: DefaultTargetComponent})
	return nil
}

func (s *Simulator) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasOpen := s.open
		s.open = false
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if wasOpen {
			<-s.done
		}
		close(s.events)
		s.logger.Info("Simulated vehicle stopped")
	})
	return nil
}

// emit delivers an event to the consumer, dropping the oldest queued
// event when the buffer is full. Holding the lock for the whole send
// keeps it ordered against Close.
func (s *Simulator) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return
	}

	select {
	case s.events <- ev:
		return
	default:
	}

	select {
	case <-s.events:
	default:
	}

	select {
	case s.events <- ev:
	default:
	}
}

func (s *Simulator) Events() <-chan Event { return s.events }

func (s *Simulator) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Simulator) Target() (uint8, uint8) {
	return DefaultTargetSystem, DefaultTargetComponent
}

func (s *Simulator) Seq() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Simulator) IsSimulated() bool { return true }

// Send accepts outbound packets and produces the autopilot's replies.
func (s *Simulator) Send(msg message.Message) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return ErrNotOpen
	}
	s.seq++
	s.mu.Unlock()

	switch m := msg.(type) {
	case *common.MessageCommandLong:
		s.handleCommand(m)
	case *common.MessageMissionCount:
		s.beginUpload(int(m.Count))
	case *common.MessageMissionItemInt:
		s.acceptItem(m)
	case *common.MessageMissionClearAll:
		s.mu.Lock()
		s.mission = nil
		s.missionActive = false
		s.missionIndex = 0
		s.mu.Unlock()
		s.reply(&common.MessageMissionAck{Type: common.MAV_MISSION_ACCEPTED})
	case *common.MessageMissionSetCurrent:
		s.mu.Lock()
		s.missionIndex = int(m.Seq)
		s.mu.Unlock()
		s.reply(&common.MessageMissionCurrent{Seq: m.Seq})
	}
	// Heartbeats and stream requests need no reply.
	return nil
}

func (s *Simulator) handleCommand(cmd *common.MessageCommandLong) {
	result := common.MAV_RESULT_ACCEPTED

	s.mu.Lock()
	switch cmd.Command {
	case common.MAV_CMD_COMPONENT_ARM_DISARM:
		if cmd.Param1 >= 0.5 {
			if s.state.FixType < 3 || s.state.Voltage < 10.5 {
				result = common.MAV_RESULT_DENIED
			} else {
				s.state.Armed = true
			}
		} else {
			s.state.Armed = false
			s.targetAlt = 0
		}

	case common.MAV_CMD_DO_SET_MODE:
		mode := uint32(cmd.Param2)
		s.state.Mode = mode
		switch mode {
		case 3: // AUTO: fly the stored mission
			if len(s.mission) > 0 {
				s.missionActive = true
				s.missionIndex = 0
			}
		case 6: // RTL: head home and descend
			s.missionActive = false
			s.gotoTarget = &simTarget{lat: s.homeLat, lon: s.homeLon, alt: 0}
		}

	case common.MAV_CMD_NAV_TAKEOFF:
		if !s.state.Armed {
			result = common.MAV_RESULT_DENIED
		} else {
			s.targetAlt = float64(cmd.Param7)
		}

	case common.MAV_CMD_NAV_LAND:
		s.targetAlt = 0

	case common.MAV_CMD_NAV_WAYPOINT:
		s.gotoTarget = &simTarget{
			lat: float64(cmd.Param5),
			lon: float64(cmd.Param6),
			alt: float64(cmd.Param7),
		}

	case 42000: // payload: start detection
		s.detectionActive = true
	case 42001: // payload: stop detection
		s.detectionActive = false
	case 42002: // payload: request detection stats
		total, active := s.detectionCount, s.detectionActive
		s.mu.Unlock()
		s.reply(&common.MessageCommandAck{Command: cmd.Command, Result: result})
		activeFlag := 0
		if active {
			activeFlag = 1
		}
		s.reply(&common.MessageStatustext{
			Severity: common.MAV_SEVERITY_INFO,
			Text:     fmt.Sprintf("DSTAT|%d|%d|sim", total, activeFlag),
		})
		return
	}
	s.mu.Unlock()

	s.reply(&common.MessageCommandAck{Command: cmd.Command, Result: result})
}

func (s *Simulator) beginUpload(count int) {
	s.mu.Lock()
	s.uploading = true
	s.uploadExpected = count
	s.uploadGot = 0
	s.mission = make([]*common.MessageMissionItemInt, count)
	s.mu.Unlock()

	s.reply(&common.MessageMissionRequest{Seq: 0, TargetSystem: SystemID, TargetComponent: ComponentID})
}

func (s *Simulator) acceptItem(item *common.MessageMissionItemInt) {
	s.mu.Lock()
	if !s.uploading || int(item.Seq) >= s.uploadExpected {
		s.mu.Unlock()
		return
	}
	if s.mission[item.Seq] == nil {
		s.uploadGot++
	}
	s.mission[item.Seq] = item
	complete := s.uploadGot == s.uploadExpected
	if complete {
		s.uploading = false
	}
	next := int(item.Seq) + 1
	s.mu.Unlock()

	if complete {
		s.reply(&common.MessageMissionAck{Type: common.MAV_MISSION_ACCEPTED})
		return
	}
	s.reply(&common.MessageMissionRequest{Seq: uint16(next), TargetSystem: SystemID, TargetComponent: ComponentID})
}

// reply emits a synthesized inbound message from the vehicle.
func (s *Simulator) reply(msg message.Message) {
	s.emit(Message{
		Msg:         msg,
		SystemID:    DefaultTargetSystem,
		ComponentID: DefaultTargetComponent,
	})
}

func (s *Simulator) tickLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			s.step(dt)
			s.broadcast()
		}
	}
}

// step advances the dynamics by dt seconds.
func (s *Simulator) step(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Battery drain while armed.
	if s.state.Armed {
		s.state.Remaining = math.Max(0, s.state.Remaining-simDrainPerSec*dt)
	}

	// Altitude easing toward target.
	diff := s.targetAlt - s.state.AltitudeRel
	if math.Abs(diff) < 0.1 {
		s.state.AltitudeRel = s.targetAlt
	} else {
		s.state.AltitudeRel += diff * simAltEaseFactor * dt
	}

	// Horizontal navigation toward the active target.
	var tgt *simTarget
	if s.missionActive && s.missionIndex < len(s.mission) {
		item := s.mission[s.missionIndex]
		tgt = &simTarget{
			lat: float64(item.X) / 1e7,
			lon: float64(item.Y) / 1e7,
			alt: float64(item.Z),
		}
	} else if s.gotoTarget != nil {
		tgt = s.gotoTarget
	}

	if tgt == nil || !s.state.Armed {
		return
	}

	if tgt.alt > 0 {
		s.targetAlt = tgt.alt
	}

	step := simDegPerSecond * dt
	dlat := tgt.lat - s.state.Latitude
	dlon := tgt.lon - s.state.Longitude

	if math.Abs(dlat) <= step && math.Abs(dlon) <= step {
		// Snap to the waypoint.
		s.state.Latitude = tgt.lat
		s.state.Longitude = tgt.lon
		s.arriveLocked()
		return
	}

	s.state.Latitude += math.Copysign(math.Min(math.Abs(dlat), step), dlat)
	s.state.Longitude += math.Copysign(math.Min(math.Abs(dlon), step), dlon)
	s.state.Heading = math.Mod(math.Atan2(dlon, dlat)*180/math.Pi+360, 360)
}

// arriveLocked handles waypoint arrival. Caller holds the lock.
func (s *Simulator) arriveLocked() {
	if s.gotoTarget != nil && !s.missionActive {
		s.gotoTarget = nil
		return
	}
	if !s.missionActive {
		return
	}

	s.missionIndex++
	if s.missionIndex >= len(s.mission)-1 {
		// Reached the terminal item: hold position.
		s.missionActive = false
		s.state.Mode = 5 // LOITER
	}

	seq := uint16(s.missionIndex)
	go s.reply(&common.MessageMissionCurrent{Seq: seq})
}

// broadcast emits one round of synthesized telemetry.
func (s *Simulator) broadcast() {
	s.mu.Lock()
	st := s.state
	moving := s.state.Armed && (s.missionActive || s.gotoTarget != nil)
	s.mu.Unlock()

	baseMode := common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED
	sysStatus := common.MAV_STATE_STANDBY
	if st.Armed {
		baseMode |= common.MAV_MODE_FLAG_SAFETY_ARMED
		sysStatus = common.MAV_STATE_ACTIVE
	}

	groundSpeed := 0.0
	if moving {
		groundSpeed = simGroundSpeed
	}

	s.reply(&common.MessageHeartbeat{
		Type:           common.MAV_TYPE_QUADROTOR,
		Autopilot:      common.MAV_AUTOPILOT_ARDUPILOTMEGA,
		BaseMode:       baseMode,
		CustomMode:     st.Mode,
		SystemStatus:   sysStatus,
		MavlinkVersion: 3,
	})

	s.reply(&common.MessageGlobalPositionInt{
		Lat:         int32(st.Latitude * 1e7),
		Lon:         int32(st.Longitude * 1e7),
		Alt:         int32((st.HomeAltMSL + st.AltitudeRel) * 1000),
		RelativeAlt: int32(st.AltitudeRel * 1000),
		Hdg:         uint16(st.Heading * 100),
	})

	s.reply(&common.MessageGpsRawInt{
		FixType:           common.GPS_FIX_TYPE(st.FixType),
		Lat:               int32(st.Latitude * 1e7),
		Lon:               int32(st.Longitude * 1e7),
		Eph:               uint16(st.HDOP * 100),
		SatellitesVisible: uint8(st.Satellites),
	})

	s.reply(&common.MessageSysStatus{
		VoltageBattery:   uint16(st.Voltage * 1000),
		CurrentBattery:   450,
		BatteryRemaining: int8(st.Remaining),
	})

	s.reply(&common.MessageVfrHud{
		Groundspeed: float32(groundSpeed),
		Heading:     int16(st.Heading),
		Alt:         float32(st.HomeAltMSL + st.AltitudeRel),
	})

	s.reply(&common.MessageAttitude{})
}
