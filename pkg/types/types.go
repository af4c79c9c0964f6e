package types

import (
	"sort"
	"strings"
	"time"
)

const (
	RoomClassroom string = "classroom"
	RoomLab       string = "lab"
	RoomLibrary   string = "library"
	RoomOffice    string = "office"
	RoomHall      string = "hall"

	RoomAvailable   string = "available"
	RoomUnavailable string = "unavailable"
)

const (
	TreeGood      string = "good"
	TreeDiseased  string = "diseased"
	TreeDangerous string = "dangerous"
)

const (
	EquipmentGood        string = "good"
	EquipmentBroken      string = "broken"
	EquipmentMaintenance string = "maintenance"
)

const (
	AssetEquipment string = "equipment"
	AssetTree      string = "tree"
)

const (
	IncidentOpen       string = "open"
	IncidentProcessing string = "processing"
	IncidentClosed     string = "closed"

	PriorityLow    string = "low"
	PriorityMedium string = "medium"
	PriorityHigh   string = "high"
)

const (
	MaintenanceRepair     string = "repair"
	MaintenanceInspection string = "inspection"
	MaintenanceTrim       string = "trim"
	MaintenanceReplace    string = "replace"
)

var priorityLabels = map[string]string{
	PriorityLow:    "Low",
	PriorityMedium: "Medium",
	PriorityHigh:   "High",
}

var incidentStatusLabels = map[string]string{
	IncidentOpen:       "Open",
	IncidentProcessing: "Processing",
	IncidentClosed:     "Closed",
}

// PriorityLabel returns the display label of an incident priority, or the
// value itself when it is not one of the known priorities.
func PriorityLabel(priority string) string {
	if label, ok := priorityLabels[priority]; ok {
		return label
	}
	return priority
}

func IncidentStatusLabel(status string) string {
	if label, ok := incidentStatusLabels[status]; ok {
		return label
	}
	return status
}

type Collection[T any] struct {
	Data       []T
	Count      uint64
	Offset     uint64
	Limit      uint64
	TotalCount uint64
}

// FieldErrors maps a payload field name to a human readable validation message.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		msgs = append(msgs, f+": "+fe[f])
	}

	return "validation failed: " + strings.Join(msgs, ", ")
}

func (fe FieldErrors) Add(field, msg string) FieldErrors {
	if fe == nil {
		fe = FieldErrors{}
	}
	fe[field] = msg
	return fe
}

type IncidentReported struct {
	IncidentID uint      `json:"incidentID"`
	AssetID    uint      `json:"assetID"`
	AssetType  string    `json:"assetType"`
	Title      string    `json:"title"`
	Priority   string    `json:"priority"`
	ReportedBy string    `json:"reportedBy,omitempty"`
	Location   *Location `json:"location,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e *IncidentReported) ContentType() string {
	return "application/json"
}

func (e *IncidentReported) TopicName() string {
	return "incident.reported"
}

func (e *IncidentReported) EventType() string {
	return "campus.facility.incidentReported"
}

type MaintenanceLogged struct {
	MaintenanceID   uint      `json:"maintenanceID"`
	AssetID         uint      `json:"assetID"`
	MaintenanceType string    `json:"maintenanceType"`
	Staff           string    `json:"staff,omitempty"`
	Cost            float64   `json:"cost"`
	Timestamp       time.Time `json:"timestamp"`
}

func (e *MaintenanceLogged) ContentType() string {
	return "application/json"
}

func (e *MaintenanceLogged) TopicName() string {
	return "maintenance.logged"
}

func (e *MaintenanceLogged) EventType() string {
	return "campus.facility.maintenanceLogged"
}
