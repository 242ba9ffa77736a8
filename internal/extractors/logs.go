package extractors

import (
	"regexp"
	"strconv"
	"time"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

var (
	// `"GET /path HTTP/1.1" 404` as written by combined/common access logs.
	statusPattern   = regexp.MustCompile(`"\S+\s+\S+\s+HTTP/\d\.\d"\s+(\d{3})`)
	clfTimePattern  = regexp.MustCompile(`\[(\d{2}/\w{3}/\d{4}:\d{2}:\d{2}:\d{2} [+-]\d{4})\]`)
	isoTimePattern  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})`)
	respTimePattern = regexp.MustCompile(`resp_time:(\d+(?:\.\d+)?)`)
)

// LogsExtractor parses the structured fields the funnel cares about out of a raw line.
type LogsExtractor struct{}

// NewLogsExtractor constructs a field parser.
func NewLogsExtractor() *LogsExtractor {
	return &LogsExtractor{}
}

// Parse returns the fields present in line. Missing fields stay zero.
func (e *LogsExtractor) Parse(line string) models.LogFields {
	return models.LogFields{
		StatusCode:   StatusCode(line),
		Timestamp:    timestamp(line),
		ResponseTime: responseTime(line),
	}
}

// StatusCode returns the HTTP status of an access-log line, or 0 when none is present.
func StatusCode(line string) int {
	m := statusPattern.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

func responseTime(line string) float64 {
	m := respTimePattern.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}

func timestamp(line string) time.Time {
	if m := clfTimePattern.FindStringSubmatch(line); m != nil {
		if t, err := utils.ParseLogTime(m[1]); err == nil {
			return t
		}
	}
	if m := isoTimePattern.FindString(line); m != "" {
		if t, err := utils.ParseLogTime(m); err == nil {
			return t
		}
	}
	return time.Time{}
}
