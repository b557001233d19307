package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ScanRequest is the start_scanner payload.
type ScanRequest struct {
	Path       string `json:"path"`
	Update     bool   `json:"update"`
	DBFile     string `json:"dbfile"`
	Obfuscated bool   `json:"obfuscated"`
}

// Match is one infected file reported by the engine.
type Match struct {
	Path  string   `json:"path"`
	Rules []string `json:"rules,omitempty"`
}

// ScanResult is a successful start_scanner reply. No matches means clean.
type ScanResult struct {
	Matches []Match
}

func (r ScanResult) Infected() bool { return len(r.Matches) > 0 }

const matchListSchema = `{
  "type": "array",
  "items": {
    "oneOf": [
      {"type": "string", "minLength": 1},
      {
        "type": "object",
        "required": ["path"],
        "properties": {
          "path":  {"type": "string", "minLength": 1},
          "rules": {"type": "array", "items": {"type": "string"}}
        }
      }
    ]
  }
}`

var matchSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(matchListSchema))
	if err != nil {
		panic(err)
	}
	return s
}()

// StartScanner runs a scan and blocks until the engine reports the outcome.
func (g *Gateway) StartScanner(ctx context.Context, req ScanRequest) (ScanResult, error) {
	raw, err := g.Invoke(ctx, StartScanner, req)
	if err != nil {
		return ScanResult{}, err
	}
	return decodeScanResult(raw)
}

// UpdateDatabase downloads signatures and returns the new hash count.
func (g *Gateway) UpdateDatabase(ctx context.Context, dbfile string) (int64, error) {
	raw, err := g.Invoke(ctx, UpdateDatabase, struct {
		DBFile string `json:"dbfile"`
	}{dbfile})
	if err != nil {
		return 0, err
	}
	return decodeCount(raw)
}

// CreateConfig loads the settings document when contents is empty, otherwise
// stores contents. Either way it returns the document the engine persisted.
func (g *Gateway) CreateConfig(ctx context.Context, contents string) (json.RawMessage, error) {
	var payload any = struct{}{}
	if contents != "" {
		payload = struct {
			Contents string `json:"contents"`
		}{contents}
	}
	raw, err := g.Invoke(ctx, CreateConfig, payload)
	if err != nil {
		return nil, err
	}
	doc := unwrapString(raw)
	if len(doc) == 0 || doc[0] != '{' {
		return nil, unexpected(CreateConfig, raw)
	}
	return doc, nil
}

// ListUSBDrives returns the removable drives the engine can see.
func (g *Gateway) ListUSBDrives(ctx context.Context) ([]string, error) {
	raw, err := g.Invoke(ctx, ListUSBDrives, nil)
	if err != nil {
		return nil, err
	}
	raw = unwrapString(raw)
	if isNull(raw) {
		return []string{}, nil
	}
	var drives []string
	if err := json.Unmarshal(raw, &drives); err != nil {
		return nil, unexpected(ListUSBDrives, raw)
	}
	return drives, nil
}

func decodeScanResult(raw json.RawMessage) (ScanResult, error) {
	orig := raw
	var s string
	if json.Unmarshal(raw, &s) == nil {
		s = strings.TrimSpace(s)
		if s == "" || s == "None" {
			return ScanResult{}, nil
		}
		if !json.Valid([]byte(s)) {
			return ScanResult{}, unexpected(StartScanner, orig)
		}
		raw = json.RawMessage(s)
	}
	if isNull(raw) {
		return ScanResult{}, nil
	}

	res, err := matchSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil || !res.Valid() {
		return ScanResult{}, unexpected(StartScanner, orig)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return ScanResult{}, unexpected(StartScanner, orig)
	}
	matches := make([]Match, 0, len(items))
	for _, it := range items {
		var m Match
		if json.Unmarshal(it, &m.Path) != nil {
			if err := json.Unmarshal(it, &m); err != nil {
				return ScanResult{}, unexpected(StartScanner, orig)
			}
		}
		matches = append(matches, m)
	}
	if len(matches) == 0 {
		return ScanResult{}, nil
	}
	return ScanResult{Matches: matches}, nil
}

func decodeCount(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil && n >= 0 {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil && n >= 0 {
			return n, nil
		}
	}
	return 0, unexpected(UpdateDatabase, raw)
}

// unwrapString returns the JSON inside raw when raw is a JSON string.
func unwrapString(raw json.RawMessage) json.RawMessage {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return json.RawMessage(strings.TrimSpace(s))
	}
	return bytes.TrimSpace(raw)
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
