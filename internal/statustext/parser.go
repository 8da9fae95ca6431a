// Package statustext turns tagged STATUSTEXT records from the payload
// computer into typed domain events.
//
// Record formats, pipe-delimited with the tag first:
//
//	DET|<id>|<lat>|<lon>|<conf>|<area>
//	DSTAT|<total>|<active>|<mission>
//	IMG|<id>|<lat>|<lon>|<type>|<mission>
//	STAT|<cpu>|<mem>|<disk>|<temp>
package statustext

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agrifly-io/agrifly/pkg/log"
)

// DefaultDedupSize bounds the seen-detection-id set.
const DefaultDedupSize = 1000

// Source identifies where a detection entered the broker.
const Source = "serial-link"

// Event is a parsed status record.
type Event interface {
	isStatusEvent()
}

// Detection is a single crop detection reported by the payload computer.
type Detection struct {
	DetectionID string    `json:"detection_id"`
	VehicleID   int       `json:"vehicle_id"`
	Latitude    float64   `json:"lat"`
	Longitude   float64   `json:"lon"`
	Confidence  float64   `json:"confidence"`
	Area        int       `json:"area"`
	Source      string    `json:"source"`
	Time        time.Time `json:"timestamp"`
}

// DetectionStats is a running detection summary.
type DetectionStats struct {
	VehicleID int    `json:"vehicle_id"`
	Total     int    `json:"total_detections"`
	Active    bool   `json:"detection_active"`
	Mission   string `json:"mission_id"`
}

// ImageCaptured is metadata for an image taken by the payload computer.
type ImageCaptured struct {
	VehicleID int     `json:"vehicle_id"`
	ImageID   string  `json:"image_id"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Type      string  `json:"type"`
	Mission   string  `json:"mission_id"`
}

// HostStats reports payload-host health.
type HostStats struct {
	VehicleID   int     `json:"vehicle_id"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	DiskPercent float64 `json:"disk_percent"`
	Temperature float64 `json:"temperature"`
}

func (Detection) isStatusEvent()      {}
func (DetectionStats) isStatusEvent() {}
func (ImageCaptured) isStatusEvent()  {}
func (HostStats) isStatusEvent()      {}

// Parser scans status strings and suppresses duplicate detections.
// Safe for concurrent use.
type Parser struct {
	logger log.Logger

	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	capacity int
}

// NewParser creates a Parser whose duplicate-suppression set holds up to
// dedupSize detection ids, evicted FIFO.
func NewParser(dedupSize int) *Parser {
	if dedupSize <= 0 {
		dedupSize = DefaultDedupSize
	}
	return &Parser{
		logger:   log.WithName("statustext"),
		seen:     make(map[string]struct{}, dedupSize),
		capacity: dedupSize,
	}
}

// Parse scans one status string. It returns the typed event and true on
// a successful parse of a new record; duplicates and malformed or
// untagged records return false.
func (p *Parser) Parse(vehicleID int, text string) (Event, bool) {
	fields := strings.Split(strings.TrimSpace(text), "|")

	switch fields[0] {
	case "DET":
		return p.parseDetection(vehicleID, fields)
	case "DSTAT":
		return p.parseStats(vehicleID, fields)
	case "IMG":
		return p.parseImage(vehicleID, fields)
	case "STAT":
		return p.parseHostStats(vehicleID, fields)
	}
	return nil, false
}

func (p *Parser) parseDetection(vehicleID int, fields []string) (Event, bool) {
	if len(fields) != 6 {
		p.logger.Debug("Malformed detection record", "fields", len(fields))
		return nil, false
	}

	lat, err1 := strconv.ParseFloat(fields[2], 64)
	lon, err2 := strconv.ParseFloat(fields[3], 64)
	conf, err3 := strconv.ParseFloat(fields[4], 64)
	area, err4 := strconv.Atoi(fields[5])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		p.logger.Debug("Non-numeric detection record", "text", strings.Join(fields, "|"))
		return nil, false
	}

	id := fields[1]
	if !p.admit(id) {
		return nil, false
	}

	return Detection{
		DetectionID: id,
		VehicleID:   vehicleID,
		Latitude:    lat,
		Longitude:   lon,
		Confidence:  conf,
		Area:        area,
		Source:      Source,
		Time:        time.Now(),
	}, true
}

func (p *Parser) parseStats(vehicleID int, fields []string) (Event, bool) {
	if len(fields) != 4 {
		p.logger.Debug("Malformed detection-summary record", "fields", len(fields))
		return nil, false
	}

	total, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, false
	}
	active, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, false
	}

	return DetectionStats{
		VehicleID: vehicleID,
		Total:     total,
		Active:    active != 0,
		Mission:   fields[3],
	}, true
}

func (p *Parser) parseImage(vehicleID int, fields []string) (Event, bool) {
	if len(fields) != 6 {
		p.logger.Debug("Malformed image record", "fields", len(fields))
		return nil, false
	}

	lat, err1 := strconv.ParseFloat(fields[2], 64)
	lon, err2 := strconv.ParseFloat(fields[3], 64)
	if err1 != nil || err2 != nil {
		return nil, false
	}

	return ImageCaptured{
		VehicleID: vehicleID,
		ImageID:   fields[1],
		Latitude:  lat,
		Longitude: lon,
		Type:      fields[4],
		Mission:   fields[5],
	}, true
}

func (p *Parser) parseHostStats(vehicleID int, fields []string) (Event, bool) {
	if len(fields) != 5 {
		p.logger.Debug("Malformed host-stats record", "fields", len(fields))
		return nil, false
	}

	vals := make([]float64, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, false
		}
		vals[i] = v
	}

	return HostStats{
		VehicleID:   vehicleID,
		CPUPercent:  vals[0],
		MemPercent:  vals[1],
		DiskPercent: vals[2],
		Temperature: vals[3],
	}, true
}

// admit records a detection id, returning false when it was already seen.
// At capacity the oldest id is evicted first.
func (p *Parser) admit(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.seen[id]; dup {
		return false
	}

	if len(p.order) == p.capacity {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.seen, oldest)
	}

	p.seen[id] = struct{}{}
	p.order = append(p.order, id)
	return true
}
