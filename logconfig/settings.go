package logconfig

import (
	myLogger "github.com/sirupsen/logrus"
)

// This output format is used in the test (has terminal).
func ConfigDebugLogger() {
	myLogger.SetReportCaller(true)
	myLogger.SetLevel(myLogger.DebugLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

func ConfigInfoLogger() {
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

// This output format is used in production.
func ConfigProductionLogger() {
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.JSONFormatter{})
}

// ConfigFromString picks a preset by name: "debug", "info" or "production".
// Any other logrus level name keeps the production format at that level.
func ConfigFromString(level string) error {
	switch level {
	case "", "info":
		ConfigInfoLogger()
		return nil
	case "debug":
		ConfigDebugLogger()
		return nil
	case "production":
		ConfigProductionLogger()
		return nil
	}

	lvl, err := myLogger.ParseLevel(level)
	if err != nil {
		return err
	}
	ConfigProductionLogger()
	myLogger.SetLevel(lvl)
	return nil
}
