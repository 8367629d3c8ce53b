package notify

import (
	"encoding/json"
	"os"
	"time"

	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// LogAlert appends a threshold alert to the JSON-lines log at logPath.
func LogAlert(logPath string, alert *types.Alert) error {
	entry := &types.AlertLogEntry{
		Timestamp:     timestampUTC(alert.At),
		Event:         EventAlert,
		ID:            alert.ID,
		Threshold:     alert.Threshold,
		Peak:          alert.Peak(),
		MaxAmplitudes: alert.MaxAmplitudes,
	}
	if alert.Clip != nil {
		entry.ClipFilename = alert.Clip.Filename
		entry.ClipSizeBytes = len(alert.Clip.Data)
	}
	return appendLogEntry(logPath, entry)
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return ErrNotConfigured
	}
	return appendLogEntry(logPath, &types.AlertLogEntry{
		Timestamp: timestampUTC(time.Now()),
		Event:     EventTest,
	})
}

func appendLogEntry(logPath string, entry *types.AlertLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}
	jsonData = append(jsonData, '\n')

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	if _, err := f.Write(jsonData); err != nil {
		_ = f.Close()
		return util.WrapError("write log entry", err)
	}
	return f.Close()
}
