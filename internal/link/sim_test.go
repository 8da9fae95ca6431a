package link

import (
	"context"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSim(t *testing.T) *Simulator {
	t.Helper()
	sim := NewSimulator(Config{VehicleID: 1, Endpoint: Simulated})
	sim.TickInterval = 10 * time.Millisecond
	require.NoError(t, sim.Open(context.Background()))
	t.Cleanup(func() { _ = sim.Close() })
	return sim
}

// awaitMsg drains events until a message matching the predicate arrives.
func awaitMsg(t *testing.T, sim *Simulator, timeout time.Duration, match func(Message) bool) Message {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sim.Events():
			if !ok {
				t.Fatal("event channel closed")
			}
			if m, isMsg := ev.(Message); isMsg && match(m) {
				return m
			}
		case <-deadline:
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestSimulatorArmAccepted(t *testing.T) {
	sim := newTestSim(t)

	require.NoError(t, sim.Send(&common.MessageCommandLong{
		Command: common.MAV_CMD_COMPONENT_ARM_DISARM,
		Param1:  1,
	}))

	msg := awaitMsg(t, sim, time.Second, func(m Message) bool {
		_, ok := m.Msg.(*common.MessageCommandAck)
		return ok
	})

	ack := msg.Msg.(*common.MessageCommandAck)
	assert.Equal(t, common.MAV_RESULT_ACCEPTED, ack.Result)
}

func TestSimulatorArmDeniedWithoutFix(t *testing.T) {
	sim := newTestSim(t)
	sim.SetState(func(st *SimState) {
		st.FixType = 0
		st.Satellites = 5
		st.Voltage = 10.2
	})

	require.NoError(t, sim.Send(&common.MessageCommandLong{
		Command: common.MAV_CMD_COMPONENT_ARM_DISARM,
		Param1:  1,
	}))

	msg := awaitMsg(t, sim, time.Second, func(m Message) bool {
		_, ok := m.Msg.(*common.MessageCommandAck)
		return ok
	})
	assert.Equal(t, common.MAV_RESULT_DENIED, msg.Msg.(*common.MessageCommandAck).Result)
}

func TestSimulatorTakeoffClimbs(t *testing.T) {
	sim := newTestSim(t)

	require.NoError(t, sim.Send(&common.MessageCommandLong{
		Command: common.MAV_CMD_COMPONENT_ARM_DISARM, Param1: 1,
	}))
	require.NoError(t, sim.Send(&common.MessageCommandLong{
		Command: common.MAV_CMD_NAV_TAKEOFF, Param7: 10,
	}))

	awaitMsg(t, sim, 5*time.Second, func(m Message) bool {
		pos, ok := m.Msg.(*common.MessageGlobalPositionInt)
		return ok && float64(pos.RelativeAlt)/1000.0 >= 9.0
	})
}

func TestSimulatorMissionHandshake(t *testing.T) {
	sim := newTestSim(t)

	const count = 4
	require.NoError(t, sim.Send(&common.MessageMissionCount{Count: count}))

	for i := 0; i < count; i++ {
		msg := awaitMsg(t, sim, time.Second, func(m Message) bool {
			req, ok := m.Msg.(*common.MessageMissionRequest)
			return ok && int(req.Seq) == i
		})
		req := msg.Msg.(*common.MessageMissionRequest)

		require.NoError(t, sim.Send(&common.MessageMissionItemInt{
			Seq: req.Seq,
			X:   232950000,
			Y:   853100000,
			Z:   20,
		}))
	}

	msg := awaitMsg(t, sim, time.Second, func(m Message) bool {
		_, ok := m.Msg.(*common.MessageMissionAck)
		return ok
	})
	assert.Equal(t, common.MAV_MISSION_ACCEPTED, msg.Msg.(*common.MessageMissionAck).Type)
}

func TestSimulatorSeqAdvances(t *testing.T) {
	sim := newTestSim(t)

	before := sim.Seq()
	for i := 0; i < 3; i++ {
		require.NoError(t, sim.Send(&common.MessageHeartbeat{}))
	}
	assert.Equal(t, uint8(before+3), sim.Seq())
}

func TestSimulatorSendAfterClose(t *testing.T) {
	sim := NewSimulator(Config{VehicleID: 1, Endpoint: Simulated})
	sim.TickInterval = 10 * time.Millisecond
	require.NoError(t, sim.Open(context.Background()))
	require.NoError(t, sim.Close())

	err := sim.Send(&common.MessageHeartbeat{})
	assert.ErrorIs(t, err, ErrNotOpen)
}
