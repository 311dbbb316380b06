package validate

import (
	"strconv"
	"strings"
)

// cronFields describes the valid numeric range for each of the five
// whitespace-separated cron fields, in order: minute, hour, day-of-month,
// month, day-of-week.
var cronFields = [5]struct{ min, max int }{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 7},  // day of week (0 and 7 both mean Sunday)
}

// cronFieldCharset is the set of characters a single cron field may use.
const cronFieldCharset = "0123456789*/-,"

// IsCronSchedule reports whether s is a syntactically valid five-field cron
// expression with each field over {digit, *, /, -, ,}, per-field ranges
// respected, and a minimum period of 5 minutes when the minute field is a
// step expression (*/N).
func IsCronSchedule(s string) error {
	fields := strings.Fields(s)
	if len(fields) != 5 {
		return validationErr("schedule", "is_cron_schedule_field_count")
	}

	for i, field := range fields {
		if err := validateCronField(field, cronFields[i].min, cronFields[i].max); err != nil {
			return validationErr("schedule", "is_cron_schedule")
		}
	}

	if err := validateMinimumPeriod(fields[0]); err != nil {
		return validationErr("schedule", "is_cron_schedule_min_period")
	}

	return nil
}

func validateCronField(field string, min, max int) error {
	if field == "" {
		return validationErr("schedule", "is_cron_schedule_empty_field")
	}
	for _, r := range field {
		if !strings.ContainsRune(cronFieldCharset, r) {
			return validationErr("schedule", "is_cron_schedule_charset")
		}
	}
	if field == "*" {
		return nil
	}

	// A step expression: "*/N" or "base/N".
	if idx := strings.IndexByte(field, '/'); idx >= 0 {
		base, step := field[:idx], field[idx+1:]
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			return validationErr("schedule", "is_cron_schedule_step")
		}
		if base == "*" {
			return nil
		}
		return validateCronRangeOrList(base, min, max)
	}

	return validateCronRangeOrList(field, min, max)
}

func validateCronRangeOrList(field string, min, max int) error {
	for _, part := range strings.Split(field, ",") {
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			if len(bounds) != 2 {
				return validationErr("schedule", "is_cron_schedule_range")
			}
			lo, err1 := strconv.Atoi(bounds[0])
			hi, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil || lo < min || hi > max || lo > hi {
				return validationErr("schedule", "is_cron_schedule_range")
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < min || n > max {
			return validationErr("schedule", "is_cron_schedule_value")
		}
	}
	return nil
}

// validateMinimumPeriod enforces a minimum run period of 5 minutes by
// rejecting a minute-field step smaller than 5 (e.g. "*/1", "*/2").
func validateMinimumPeriod(minuteField string) error {
	idx := strings.IndexByte(minuteField, '/')
	if idx < 0 {
		return nil
	}
	step, err := strconv.Atoi(minuteField[idx+1:])
	if err != nil {
		return validationErr("schedule", "is_cron_schedule_step")
	}
	if step < 5 {
		return validationErr("schedule", "is_cron_schedule_min_period")
	}
	return nil
}
