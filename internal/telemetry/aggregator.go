package telemetry

import (
	"sort"
	"sync"
	"time"
)

// DefaultStatusRingSize bounds the per-vehicle status history.
const DefaultStatusRingSize = 20

// Aggregator merges telemetry updates per vehicle and serves copies of
// the merged state. All methods are safe for concurrent use.
type Aggregator struct {
	mu       sync.RWMutex
	vehicles map[int]*vehicleState
	ringSize int
}

type vehicleState struct {
	snap Snapshot
	ring *statusRing
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		vehicles: make(map[int]*vehicleState),
		ringSize: DefaultStatusRingSize,
	}
}

// SetRingSize overrides the status history depth for vehicles seen
// afterwards.
func (a *Aggregator) SetRingSize(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.ringSize = n
	a.mu.Unlock()
}

// Apply merges one update into the vehicle's snapshot, creating the
// vehicle entry on first sight.
func (a *Aggregator) Apply(vehicleID int, u Update) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.vehicles[vehicleID]
	if st == nil {
		st = &vehicleState{
			snap: Snapshot{VehicleID: vehicleID, MissionCurrent: -1},
			ring: newStatusRing(a.ringSize),
		}
		a.vehicles[vehicleID] = st
	}

	now := time.Now()
	st.snap.LastUpdate = now

	switch v := u.(type) {
	case Position:
		st.snap.Latitude = v.Latitude
		st.snap.Longitude = v.Longitude
		st.snap.AltitudeMSL = v.AltitudeMSL
		st.snap.AltitudeRel = v.AltitudeRel
	case Attitude:
		st.snap.Roll = v.Roll
		st.snap.Pitch = v.Pitch
		st.snap.Yaw = v.Yaw
	case HUD:
		st.snap.AirSpeed = v.AirSpeed
		st.snap.GroundSpeed = v.GroundSpeed
		st.snap.ClimbRate = v.ClimbRate
		st.snap.Heading = v.Heading
		st.snap.Throttle = v.Throttle
	case GPS:
		st.snap.FixType = v.FixType
		st.snap.Satellites = v.Satellites
		st.snap.HDOP = v.HDOP
	case Battery:
		st.snap.Voltage = v.Voltage
		st.snap.Current = v.Current
		st.snap.BatteryRemaining = v.Remaining
	case Heartbeat:
		st.snap.Armed = v.Armed
		st.snap.Mode = v.Mode
		st.snap.SystemStatus = v.SystemStatus
		st.snap.LastHeartbeat = now
	case MissionCurrent:
		st.snap.MissionCurrent = v.Seq
	case StatusText:
		st.ring.push(StatusEntry{Severity: v.Severity, Text: v.Text, Time: now})
	}
}

// SetConnected records link connectivity on the snapshot.
func (a *Aggregator) SetConnected(vehicleID int, connected bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.vehicles[vehicleID]
	if st == nil {
		st = &vehicleState{
			snap: Snapshot{VehicleID: vehicleID, MissionCurrent: -1},
			ring: newStatusRing(a.ringSize),
		}
		a.vehicles[vehicleID] = st
	}
	st.snap.Connected = connected
}

// Remove drops a vehicle's state entirely.
func (a *Aggregator) Remove(vehicleID int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.vehicles, vehicleID)
}

// Snapshot returns a copy of one vehicle's merged state.
func (a *Aggregator) Snapshot(vehicleID int) (Snapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.vehicles[vehicleID]
	if !ok {
		return Snapshot{}, false
	}
	return a.copyLocked(st), true
}

// Snapshots returns copies of every vehicle's state, ordered by vehicle ID.
func (a *Aggregator) Snapshots() []Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Snapshot, 0, len(a.vehicles))
	for _, st := range a.vehicles {
		out = append(out, a.copyLocked(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

func (a *Aggregator) copyLocked(st *vehicleState) Snapshot {
	snap := st.snap
	snap.Statuses = st.ring.list()
	return snap
}
