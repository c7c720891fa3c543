// Package adapterconfig validates an optional JSON adapter-config file
// (DNS query-ring capacity, RTSP SETUP-URI set bound, FTP sequence
// caps) against an embedded JSON Schema before the driver starts.
// Grounded on core/types.Validator's jsonschema/v5 Draft2020 compiler
// setup, trimmed to a single fixed schema instead of a per-parameter
// cache.
package adapterconfig

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaText = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "dns_ring_capacity": {"type": "integer", "minimum": 1, "maximum": 4096},
    "rtsp_uri_set_bound": {"type": "integer", "minimum": 1, "maximum": 4096},
    "ftp_sequence_cap": {"type": "integer", "minimum": 1, "maximum": 65536}
  }
}`

// Config is the validated, decoded adapter configuration. Zero values
// mean "use the adapter's built-in default".
type Config struct {
	DNSRingCapacity  int `json:"dns_ring_capacity"`
	RTSPURISetBound  int `json:"rtsp_uri_set_bound"`
	FTPSequenceCap   int `json:"ftp_sequence_cap"`
}

// Default bounds used when a Config field is unset (zero).
const (
	DefaultDNSRingCapacity = 64
	DefaultRTSPURISetBound = 32
	DefaultFTPSequenceCap  = 256
)

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	url := "schema://adapterconfig.json"
	if err := compiler.AddResource(url, strings.NewReader(schemaText)); err != nil {
		return nil, fmt.Errorf("adapterconfig: adding schema resource: %w", err)
	}
	return compiler.Compile(url)
}

// Load validates raw (the contents of a user-supplied JSON file)
// against the embedded schema and decodes it into a Config.
func Load(raw []byte) (*Config, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("adapterconfig: invalid JSON: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("adapterconfig: schema validation failed: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("adapterconfig: decoding: %w", err)
	}
	return cfg, nil
}

// DNSRingCapacityOr returns c's configured ring capacity, or def if c
// is nil or unset.
func (c *Config) DNSRingCapacityOr(def int) int {
	if c == nil || c.DNSRingCapacity == 0 {
		return def
	}
	return c.DNSRingCapacity
}

// RTSPURISetBoundOr returns c's configured SETUP-URI set bound, or def
// if c is nil or unset.
func (c *Config) RTSPURISetBoundOr(def int) int {
	if c == nil || c.RTSPURISetBound == 0 {
		return def
	}
	return c.RTSPURISetBound
}

// FTPSequenceCapOr returns c's configured FTP sequence cap, or def if c
// is nil or unset.
func (c *Config) FTPSequenceCapOr(def int) int {
	if c == nil || c.FTPSequenceCap == 0 {
		return def
	}
	return c.FTPSequenceCap
}
