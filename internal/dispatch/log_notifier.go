package dispatch

import (
	"log/slog"

	"swiftride/internal/types"
)

// LogNotifier writes events to the log instead of delivering them. Used by
// processes with no connected clients (the location consumer) and in tests.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) NotifyDriver(driverID types.ID, ev Event) error {
	l.Logger.Info("notify driver", "driver_id", driverID, "event", ev.Type, "ride_id", ev.RideID)
	return nil
}

func (l *LogNotifier) NotifyRider(riderID types.ID, ev Event) error {
	l.Logger.Info("notify rider", "rider_id", riderID, "event", ev.Type, "ride_id", ev.RideID)
	return nil
}
