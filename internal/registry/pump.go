package registry

import (
	"time"

	"github.com/agrifly-io/agrifly/internal/link"
	"github.com/agrifly-io/agrifly/internal/statustext"
	"github.com/agrifly-io/agrifly/internal/telemetry"
)

// subscriberBuffer bounds each fan-out channel; the oldest event is
// dropped first when a subscriber lags.
const subscriberBuffer = 64

// pump drains one link's event stream for its whole lifetime, feeding
// the aggregator, the status parser, the operator channel, and any
// protocol subscribers (command router, mission uploader).
func (r *Registry) pump(vehicleID int, v *vehicle, lnk link.Link) {
	for ev := range lnk.Events() {
		switch e := ev.(type) {
		case link.Connected:
			r.agg.SetConnected(vehicleID, true)
			r.pub.Publish("drone_connected", map[string]any{"vehicle_id": vehicleID})

		case link.Disconnected:
			r.agg.SetConnected(vehicleID, false)
			r.pub.Publish("drone_disconnected", map[string]any{
				"vehicle_id": vehicleID,
				"reason":     e.Reason,
			})

		case link.Message:
			r.mu.Lock()
			v.lastSeen = time.Now()
			r.mu.Unlock()

			if u, ok := link.Normalize(e.Msg); ok {
				r.agg.Apply(vehicleID, u)

				if st, isStatus := u.(telemetry.StatusText); isStatus {
					r.scanStatus(vehicleID, st.Text)
				}
			}
		}

		v.broadcast(ev)
	}

	// Link closed: the registry, not the link, decides about reconnects.
	r.agg.SetConnected(vehicleID, false)
}

// scanStatus routes parsed status records to the operator channel.
func (r *Registry) scanStatus(vehicleID int, text string) {
	ev, ok := r.parser.Parse(vehicleID, text)
	if !ok {
		return
	}

	switch ev.(type) {
	case statustext.Detection:
		r.pub.Publish("crop_detection", ev)
	case statustext.DetectionStats:
		r.pub.Publish("detection_stats", ev)
	case statustext.ImageCaptured:
		r.pub.Publish("image_captured", ev)
	case statustext.HostStats:
		r.pub.Publish("pi_stats", ev)
	}
}

// Subscribe attaches a bounded listener to one vehicle's raw link
// events. The cancel func must be called when done.
func (r *Registry) Subscribe(vehicleID int) (<-chan link.Event, func(), error) {
	r.mu.Lock()
	v := r.vehicles[vehicleID]
	r.mu.Unlock()

	if v == nil {
		return nil, nil, ErrUnknownVehicle
	}

	ch := make(chan link.Event, subscriberBuffer)

	v.subMu.Lock()
	id := v.nextSub
	v.nextSub++
	v.subs[id] = ch
	v.subMu.Unlock()

	cancel := func() {
		v.subMu.Lock()
		delete(v.subs, id)
		v.subMu.Unlock()
	}
	return ch, cancel, nil
}

// broadcast fans one event out to all subscribers, never blocking.
func (v *vehicle) broadcast(ev link.Event) {
	v.subMu.Lock()
	defer v.subMu.Unlock()

	for _, ch := range v.subs {
		select {
		case ch <- ev:
			continue
		default:
		}

		select {
		case <-ch:
		default:
		}

		select {
		case ch <- ev:
		default:
		}
	}
}
