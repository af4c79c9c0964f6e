package facility

import "github.com/diwise/facility-mgmt/pkg/types"

type RoomStatus struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
}

// AggregateRoomStatus summarizes the statuses of the equipment in a room. A
// single broken item outranks anything under maintenance.
func AggregateRoomStatus(statuses []string) RoomStatus {
	if len(statuses) == 0 {
		return RoomStatus{Label: "No equipment", Severity: "neutral"}
	}

	maintenance := false
	for _, s := range statuses {
		if s == types.EquipmentBroken {
			return RoomStatus{Label: "Broken", Severity: "danger"}
		}
		if s == types.EquipmentMaintenance {
			maintenance = true
		}
	}

	if maintenance {
		return RoomStatus{Label: "Under repair", Severity: "warning"}
	}

	return RoomStatus{Label: "Good", Severity: "success"}
}
