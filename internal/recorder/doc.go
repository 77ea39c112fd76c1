// Package recorder persists what the presence tracker observes.
//
// Presence changes and switch status updates are appended to the SQLite
// event journal and, when InfluxDB is enabled, written as time-series
// points. Old journal rows are pruned on an interval.
//
//	rec := recorder.New(tracker, recorder.Options{
//	    History:   device.NewSQLiteEventHistory(db.DB),
//	    Telemetry: influx,
//	    Retention: 30 * 24 * time.Hour,
//	})
//	go rec.Run(ctx)
//
// Storage failures are logged and otherwise ignored.
package recorder
