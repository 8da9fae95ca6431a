package mission

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/agrifly-io/agrifly/internal/link"
	"github.com/agrifly-io/agrifly/internal/pkg/metrics"
	"github.com/agrifly-io/agrifly/pkg/log"
)

const (
	// DefaultItemTimeout bounds the wait for each mission-request.
	DefaultItemTimeout = 3 * time.Second

	// maxRetransmits bounds resends of the last item on silence.
	maxRetransmits = 3

	// transitAltitude is the low altitude of the nav-to-start item.
	transitAltitude = 2.0

	// defaultSurveyAltitude is used when neither the request nor the
	// first waypoint carries an altitude.
	defaultSurveyAltitude = 10.0
)

// Uploader transfers waypoint sequences using the mission sub-protocol.
type Uploader struct {
	logger      log.Logger
	fleet       Fleet
	itemTimeout time.Duration

	mu        sync.Mutex
	uploading map[int]bool
}

// NewUploader creates an Uploader. itemTimeout zero selects the default.
func NewUploader(fleet Fleet, itemTimeout time.Duration) *Uploader {
	if itemTimeout == 0 {
		itemTimeout = DefaultItemTimeout
	}
	return &Uploader{
		logger:      log.WithName("mission.upload"),
		fleet:       fleet,
		itemTimeout: itemTimeout,
		uploading:   make(map[int]bool),
	}
}

// ExpandItems packs an operator waypoint list into the full uploaded
// sequence: nav-to-first at transit altitude, takeoff at the first
// survey point, the operator waypoints, and a return-to-launch
// terminator.
func ExpandItems(sys, comp uint8, waypoints []Waypoint, surveyAlt float64) []*common.MessageMissionItemInt {
	if surveyAlt == 0 {
		surveyAlt = waypoints[0].Altitude
	}
	if surveyAlt == 0 {
		surveyAlt = defaultSurveyAltitude
	}

	items := make([]*common.MessageMissionItemInt, 0, len(waypoints)+3)

	item := func(cmd common.MAV_CMD, lat, lon, alt float64) *common.MessageMissionItemInt {
		return &common.MessageMissionItemInt{
			TargetSystem:    sys,
			TargetComponent: comp,
			Seq:             uint16(len(items)),
			Frame:           common.MAV_FRAME_GLOBAL_RELATIVE_ALT,
			Command:         cmd,
			Autocontinue:    1,
			X:               int32(lat * 1e7),
			Y:               int32(lon * 1e7),
			Z:               float32(alt),
			MissionType:     common.MAV_MISSION_TYPE_MISSION,
		}
	}

	first := waypoints[0]
	items = append(items, item(common.MAV_CMD_NAV_WAYPOINT, first.Latitude, first.Longitude, transitAltitude))
	items = append(items, item(common.MAV_CMD_NAV_TAKEOFF, first.Latitude, first.Longitude, surveyAlt))
	for _, wp := range waypoints {
		alt := wp.Altitude
		if alt == 0 {
			alt = surveyAlt
		}
		items = append(items, item(common.MAV_CMD_NAV_WAYPOINT, wp.Latitude, wp.Longitude, alt))
	}
	items = append(items, item(common.MAV_CMD_NAV_RETURN_TO_LAUNCH, 0, 0, 0))
	return items
}

// Upload runs the count/request/item/ack handshake. It returns the
// uploaded item count on success.
func (u *Uploader) Upload(ctx context.Context, vehicleID int, waypoints []Waypoint, surveyAlt float64) (int, error) {
	total, err := u.upload(ctx, vehicleID, waypoints, surveyAlt)

	outcome := "accepted"
	switch err.(type) {
	case nil:
	case *UploadRejectedError:
		outcome = "rejected"
	case *UploadTimeoutError:
		outcome = "timeout"
	default:
		outcome = "error"
	}
	metrics.MissionUploadsTotal.WithLabelValues(strconv.Itoa(vehicleID), outcome).Inc()

	return total, err
}

func (u *Uploader) upload(ctx context.Context, vehicleID int, waypoints []Waypoint, surveyAlt float64) (int, error) {
	if len(waypoints) == 0 {
		return 0, ErrEmptyMission
	}

	u.mu.Lock()
	if u.uploading[vehicleID] {
		u.mu.Unlock()
		return 0, ErrUploadInProgress
	}
	u.uploading[vehicleID] = true
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		delete(u.uploading, vehicleID)
		u.mu.Unlock()
	}()

	lnk, err := u.fleet.Link(vehicleID)
	if err != nil {
		return 0, err
	}

	events, cancel, err := u.fleet.Subscribe(vehicleID)
	if err != nil {
		return 0, err
	}
	defer cancel()

	sys, comp := lnk.Target()
	items := ExpandItems(sys, comp, waypoints, surveyAlt)
	total := len(items)

	u.logger.Info("Mission upload started",
		"vehicle", vehicleID, "waypoints", len(waypoints), "items", total)

	if err := lnk.Send(&common.MessageMissionCount{
		TargetSystem:    sys,
		TargetComponent: comp,
		Count:           uint16(total),
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	}); err != nil {
		return 0, fmt.Errorf("mission: send count: %w", err)
	}

	lastSent := -1
	retransmits := 0

	// One deadline per outstanding send. The subscription keeps carrying
	// heartbeats and telemetry during an upload; only mission traffic may
	// push the deadline back.
	timer := time.NewTimer(u.itemTimeout)
	defer timer.Stop()

	rearm := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(u.itemTimeout)
	}

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()

		case <-timer.C:
			if retransmits >= maxRetransmits {
				u.logger.Warn("Mission upload timed out",
					"vehicle", vehicleID, "last_item", lastSent, "retransmits", retransmits)
				return 0, &UploadTimeoutError{Seq: lastSent}
			}
			retransmits++
			if err := u.retransmit(lnk, items, total, sys, comp, lastSent); err != nil {
				return 0, err
			}
			timer.Reset(u.itemTimeout)

		case ev, ok := <-events:
			if !ok {
				return 0, fmt.Errorf("mission: %w", link.ErrNotOpen)
			}
			m, isMsg := ev.(link.Message)
			if !isMsg {
				continue
			}

			switch msg := m.Msg.(type) {
			case *common.MessageMissionRequest:
				if err := u.sendItem(lnk, items, int(msg.Seq)); err != nil {
					return 0, err
				}
				lastSent = int(msg.Seq)
				retransmits = 0
				rearm()

			case *common.MessageMissionRequestInt:
				if err := u.sendItem(lnk, items, int(msg.Seq)); err != nil {
					return 0, err
				}
				lastSent = int(msg.Seq)
				retransmits = 0
				rearm()

			case *common.MessageMissionAck:
				if msg.Type != common.MAV_MISSION_ACCEPTED {
					u.logger.Warn("Mission upload rejected", "vehicle", vehicleID, "ack", fmt.Sprintf("%v", msg.Type))
					return 0, &UploadRejectedError{Code: msg.Type}
				}
				u.logger.Info("Mission upload accepted", "vehicle", vehicleID, "items", total)
				return total, nil
			}
		}
	}
}

func (u *Uploader) sendItem(lnk link.Link, items []*common.MessageMissionItemInt, seq int) error {
	if seq < 0 || seq >= len(items) {
		return fmt.Errorf("mission: vehicle requested item %d of %d", seq, len(items))
	}
	if err := lnk.Send(items[seq]); err != nil {
		return fmt.Errorf("mission: send item %d: %w", seq, err)
	}
	return nil
}

// retransmit resends the last item, or the count when no request has
// arrived yet.
func (u *Uploader) retransmit(lnk link.Link, items []*common.MessageMissionItemInt, total int, sys, comp uint8, lastSent int) error {
	if lastSent < 0 {
		return lnk.Send(&common.MessageMissionCount{
			TargetSystem:    sys,
			TargetComponent: comp,
			Count:           uint16(total),
			MissionType:     common.MAV_MISSION_TYPE_MISSION,
		})
	}
	return u.sendItem(lnk, items, lastSent)
}
