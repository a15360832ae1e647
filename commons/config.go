package commons

import (
	"strconv"
	"strings"
)

// This file defines the format of the audit configuration string.
// It is passed on the command line or through PAGINGAUDIT_CONFIG, e.g.,
// "margin:15,retries:1,guards:on,absent4k:off,format:csv".
//
// The grammar is:
// value  := decimal || on || off || csv || json || both
// entry  := name:value
// config := entry1,entry2,... // separated by commas
//
// Every key is optional and may appear at most once.

const (
	DELIMITER_ENTRIES = ","
	DELIMITER_ENTRY   = ":"

	ENV_CONFIG = "PAGINGAUDIT_CONFIG"

	// Keys
	KEY_MARGIN   = "margin"
	KEY_RETRIES  = "retries"
	KEY_GUARDS   = "guards"
	KEY_ABSENT4K = "absent4k"
	KEY_FORMAT   = "format"

	// Switch values
	ON  = "on"
	OFF = "off"

	// Output formats
	FORMAT_CSV  = "csv"
	FORMAT_JSON = "json"
	FORMAT_BOTH = "both"

	DEFAULT_MARGIN  = 15
	DEFAULT_RETRIES = 1
	MAX_MARGIN      = 1 << 16
	MAX_RETRIES     = 8
)

// Config drives one audit invocation.
type Config struct {
	Margin   int    // padding added to every category between walk passes
	Retries  int    // extra fill passes allowed after the first one
	Guards   bool   // consult the guard oracle for absent 4K slots
	Absent4K bool   // keep absent non-guard 4K slots as leaf records
	Format   string // csv, json or both
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		Margin:  DEFAULT_MARGIN,
		Retries: DEFAULT_RETRIES,
		Guards:  true,
		Format:  FORMAT_CSV,
	}
}

// WantCSV reports whether the text records must be written.
func (c Config) WantCSV() bool {
	return c.Format == FORMAT_CSV || c.Format == FORMAT_BOTH
}

// WantJSON reports whether the JSON report must be written.
func (c Config) WantJSON() bool {
	return c.Format == FORMAT_JSON || c.Format == FORMAT_BOTH
}

// ParseConfig parses conf on top of the default configuration.
func ParseConfig(conf string) (Config, error) {
	res := DefaultConfig()
	str, err := strconv.Unquote(conf)
	if err != nil {
		str = conf
	}
	if len(strings.TrimSpace(str)) == 0 {
		return res, nil
	}
	uniq := make(map[string]bool)
	for _, v := range strings.Split(str, DELIMITER_ENTRIES) {
		name, value, err := parseEntry(v)
		if err != nil {
			return DefaultConfig(), err
		}
		if _, ok := uniq[name]; ok {
			return DefaultConfig(), InvalidArgf("Duplicated entry for %v", name)
		}
		uniq[name] = true
		if err := res.apply(name, value); err != nil {
			return DefaultConfig(), err
		}
	}
	return res, nil
}

func parseEntry(entry string) (string, string, error) {
	split := strings.Split(entry, DELIMITER_ENTRY)
	if len(split) != 2 {
		return "", "", InvalidArgf("Parsing error: expected 2 values, got %v: [%v]", len(split), entry)
	}
	name := strings.TrimSpace(split[0])
	if len(name) == 0 {
		return "", "", InvalidArgf("Invalid key of length 0")
	}
	value := strings.TrimSpace(split[1])
	if len(value) == 0 {
		return "", "", InvalidArgf("Unspecified value for %v", name)
	}
	return name, value, nil
}

func (c *Config) apply(name, value string) error {
	var err error
	switch name {
	case KEY_MARGIN:
		c.Margin, err = parseBounded(name, value, MAX_MARGIN)
	case KEY_RETRIES:
		c.Retries, err = parseBounded(name, value, MAX_RETRIES)
	case KEY_GUARDS:
		c.Guards, err = parseSwitch(name, value)
	case KEY_ABSENT4K:
		c.Absent4K, err = parseSwitch(name, value)
	case KEY_FORMAT:
		switch value {
		case FORMAT_CSV, FORMAT_JSON, FORMAT_BOTH:
			c.Format = value
		default:
			err = InvalidArgf("Invalid format %v", value)
		}
	default:
		err = InvalidArgf("Unknown configuration key %v", name)
	}
	return err
}

func parseBounded(name, value string, max int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || n > max {
		return 0, InvalidArgf("Invalid value %v for %v, expected 0..%d", value, name, max)
	}
	return n, nil
}

func parseSwitch(name, value string) (bool, error) {
	switch value {
	case ON:
		return true, nil
	case OFF:
		return false, nil
	}
	return false, InvalidArgf("Invalid switch %v for %v, expected on or off", value, name)
}
