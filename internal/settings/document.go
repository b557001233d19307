package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Never is last_db_update before the first successful update.
const Never = "Never"

// LastUpdateLayout formats last_db_update.
const LastUpdateLayout = "02/01/2006 15:04:05"

// WeekdayDisabled in db_update_weekday means the update runs every day.
const WeekdayDisabled = -1

// ErrInvalid wraps schema violations.
var ErrInvalid = errors.New("invalid settings")

// Document is the user's persisted settings.
type Document struct {
	HashesInDB         int64  `json:"hashes_in_db"`
	LastDBUpdate       string `json:"last_db_update"`
	LoggingIsActive    bool   `json:"logging_is_active"`
	ObfuscatedIsActive bool   `json:"obfuscated_is_active"`
	DBUpdateWeekday    int    `json:"db_update_weekday"`
	DBUpdateTime       string `json:"db_update_time"`
}

// Defaults returns the document used before anything has been loaded.
func Defaults() Document {
	return Document{
		LastDBUpdate:    Never,
		DBUpdateWeekday: WeekdayDisabled,
		DBUpdateTime:    "22:00",
	}
}

// UnmarshalJSON accepts hashes_in_db as a number or a numeric string.
func (d *Document) UnmarshalJSON(b []byte) error {
	type plain Document
	aux := struct {
		*plain
		HashesInDB json.RawMessage `json:"hashes_in_db"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	raw := bytes.TrimSpace(aux.HashesInDB)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		d.HashesInDB = n
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("hashes_in_db: %w", err)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return fmt.Errorf("hashes_in_db: %w", err)
	}
	d.HashesInDB = n
	return nil
}

const documentSchema = `{
  "type": "object",
  "required": ["hashes_in_db", "last_db_update", "logging_is_active",
               "obfuscated_is_active", "db_update_weekday", "db_update_time"],
  "properties": {
    "hashes_in_db":         {"type": "integer", "minimum": 0},
    "last_db_update":       {"type": "string", "minLength": 1},
    "logging_is_active":    {"type": "boolean"},
    "obfuscated_is_active": {"type": "boolean"},
    "db_update_weekday":    {"type": "integer", "minimum": -1, "maximum": 6},
    "db_update_time":       {"type": "string", "pattern": "^([01][0-9]|2[0-3]):[0-5][0-9]$"}
  }
}`

var schema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	if err != nil {
		panic(err)
	}
	return s
}()

// Validate checks d against the document schema.
func (d Document) Validate() error {
	res, err := schema.Validate(gojsonschema.NewGoLoader(d))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}
	return nil
}

// Parse decodes a stored document. Missing fields keep their defaults.
func Parse(raw []byte) (Document, error) {
	doc := Defaults()
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Encode returns the JSON sent as create_config contents.
func (d Document) Encode() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UpdateTime splits db_update_time into hour and minute.
func (d Document) UpdateTime() (hour, minute int, err error) {
	t, err := time.Parse("15:04", d.DBUpdateTime)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: db_update_time %q", ErrInvalid, d.DBUpdateTime)
	}
	return t.Hour(), t.Minute(), nil
}
