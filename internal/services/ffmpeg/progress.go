package ffmpeg

import (
	"strconv"
	"strings"
	"time"
)

// parseProgressLine splits one key=value line from the -progress stream.
func parseProgressLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	idx := strings.IndexByte(line, '=')
	if idx <= 0 {
		return "", "", false
	}
	return line[:idx], strings.TrimSpace(line[idx+1:]), true
}

// applyProgressField folds one field into the running update. The stream ends
// each report with a progress= line; that line signals the update is complete
// and ready to emit.
func applyProgressField(update *ProgressUpdate, key, value string, total time.Duration) bool {
	switch key {
	case "out_time_us", "out_time_ms":
		if micros, err := strconv.ParseInt(value, 10, 64); err == nil {
			update.OutTime = time.Duration(micros) * time.Microsecond
		}
	case "out_time":
		if parsed, ok := parseClockTime(value); ok {
			update.OutTime = parsed
		}
	case "speed":
		update.Speed = value
	case "progress":
		update.Finished = value == "end"
		if update.Finished {
			update.Percent = 100
		} else if total > 0 {
			percent := float64(update.OutTime) / float64(total) * 100
			if percent > 100 {
				percent = 100
			}
			update.Percent = percent
		}
		return true
	}
	return false
}

// parseClockTime parses ffmpeg's HH:MM:SS.micros clock format.
func parseClockTime(value string) (time.Duration, bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second)), true
}
