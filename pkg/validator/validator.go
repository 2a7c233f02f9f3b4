// Package validator implements the per-record field validation and
// canonical projection for the GPS and Mobile record families (spec §4.D).
package validator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/luis4nge1/geo-ingest/pkg/record"
)

var sanitizeChars = strings.NewReplacer(
	"<", "",
	">", "",
	`"`, "",
	"'", "",
	"&", "",
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Sanitize strips the five characters spec §3/§4.D names from identity and
// name fields to block downstream injection paths.
func Sanitize(s string) string {
	return sanitizeChars.Replace(s)
}

// Invalid describes one record that failed validation.
type Invalid struct {
	Raw    string
	Errors []string
}

// Result is the outcome of validating+separating one queue key's raw
// entries for one record kind.
type Result struct {
	Kind            record.Kind
	GPSValid        []record.GPS
	MobileValid     []record.Mobile
	Invalid         []Invalid
	Total           int
	ValidCount      int
	InvalidCount    int
	TimestampSubbed int
}

// Rate returns the percentage of records that validated, 0 when Total is 0.
func (r Result) Rate() float64 {
	if r.Total == 0 {
		return 0
	}
	return 100 * float64(r.ValidCount) / float64(r.Total)
}

// ValidateGPS validates and projects every raw queue entry for the GPS
// family. Each entry is a JSON-encoded record.Raw string; already-decoded
// values are not accepted.
func ValidateGPS(entries []string) Result {
	res := Result{Kind: record.KindGPS, Total: len(entries)}
	for _, raw := range entries {
		gps, subbed, errs := validateOneGPS(raw)
		if len(errs) > 0 {
			res.Invalid = append(res.Invalid, Invalid{Raw: raw, Errors: errs})
			res.InvalidCount++
			continue
		}
		if subbed {
			res.TimestampSubbed++
		}
		res.GPSValid = append(res.GPSValid, gps)
		res.ValidCount++
	}
	return res
}

// ValidateMobile validates and projects every raw queue entry for the
// Mobile family.
func ValidateMobile(entries []string) Result {
	res := Result{Kind: record.KindMobile, Total: len(entries)}
	for _, raw := range entries {
		mob, subbed, errs := validateOneMobile(raw)
		if len(errs) > 0 {
			res.Invalid = append(res.Invalid, Invalid{Raw: raw, Errors: errs})
			res.InvalidCount++
			continue
		}
		if subbed {
			res.TimestampSubbed++
		}
		res.MobileValid = append(res.MobileValid, mob)
		res.ValidCount++
	}
	return res
}

func decodeRaw(s string) (record.Raw, error) {
	var r record.Raw
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &r); err != nil {
		return record.Raw{}, fmt.Errorf("parse record: %w", err)
	}
	return r, nil
}

func validateOneGPS(raw string) (record.GPS, bool, []string) {
	r, err := decodeRaw(raw)
	if err != nil {
		return record.GPS{}, false, []string{err.Error()}
	}

	var errs []string
	deviceID := Sanitize(strings.TrimSpace(r.DeviceID))
	if deviceID == "" {
		errs = append(errs, "deviceId is required")
	}

	lat, latErr := coerceFloat(r.Lat)
	if latErr != nil || lat < -90 || lat > 90 {
		errs = append(errs, "lat must be a number in [-90,90]")
	}
	lng, lngErr := coerceFloat(r.Lng)
	if lngErr != nil || lng < -180 || lng > 180 {
		errs = append(errs, "lng must be a number in [-180,180]")
	}

	ts, subbed := coerceTimestamp(r.Timestamp)

	if len(errs) > 0 {
		return record.GPS{}, subbed, errs
	}
	return record.GPS{DeviceID: deviceID, Lat: lat, Lng: lng, Timestamp: ts}, subbed, nil
}

func validateOneMobile(raw string) (record.Mobile, bool, []string) {
	r, err := decodeRaw(raw)
	if err != nil {
		return record.Mobile{}, false, []string{err.Error()}
	}

	var errs []string
	userID := Sanitize(strings.TrimSpace(r.UserID))
	if userID == "" {
		errs = append(errs, "userId is required")
	}

	name := Sanitize(strings.TrimSpace(r.Name))
	if name == "" {
		errs = append(errs, "name is required")
	} else if len(name) > 100 {
		errs = append(errs, "name must be at most 100 characters")
	}

	email := strings.ToLower(strings.TrimSpace(r.Email))
	if email == "" || !emailPattern.MatchString(email) {
		errs = append(errs, "email must be a valid address")
	} else if len(email) > 254 {
		errs = append(errs, "email must be at most 254 characters")
	}

	lat, latErr := coerceFloat(r.Lat)
	if latErr != nil || lat < -90 || lat > 90 {
		errs = append(errs, "lat must be a number in [-90,90]")
	}
	lng, lngErr := coerceFloat(r.Lng)
	if lngErr != nil || lng < -180 || lng > 180 {
		errs = append(errs, "lng must be a number in [-180,180]")
	}

	ts, subbed := coerceTimestamp(r.Timestamp)

	if len(errs) > 0 {
		return record.Mobile{}, subbed, errs
	}
	return record.Mobile{
		UserID: userID, Name: name, Email: email,
		Lat: lat, Lng: lng, Timestamp: ts,
	}, subbed, nil
}

// coerceFloat permits numeric JSON values and numeric strings ("parseFloat"
// style numeric coercion, spec §4.D policy).
func coerceFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// coerceTimestamp parses an RFC3339 timestamp; a missing or unparseable
// value is replaced with the current wall clock (spec §3/§4.D policy),
// reporting whether substitution happened.
func coerceTimestamp(v any) (time.Time, bool) {
	s, ok := v.(string)
	if ok {
		s = strings.TrimSpace(s)
		if s != "" {
			if ts, err := time.Parse(time.RFC3339, s); err == nil {
				return ts, false
			}
		}
	}
	return time.Now().UTC(), true
}
