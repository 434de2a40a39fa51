package airctrl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RawReport is a decrypted device report keyed by protocol field code.
// Values keep their wire type: json.Number, string, bool or nested values.
type RawReport map[string]interface{}

type reportEnvelope struct {
	State struct {
		Reported RawReport `json:"reported"`
	} `json:"state"`
}

// ParseReport decodes a decrypted status payload of the form
// {"state":{"reported":{...}}}.
func ParseReport(data []byte) (RawReport, error) {
	var env reportEnvelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: decode report: %v", ErrProtocol, err)
	}
	if env.State.Reported == nil {
		return nil, fmt.Errorf("%w: report has no state.reported", ErrProtocol)
	}
	return env.State.Reported, nil
}

// Clone returns a shallow copy of the report
func (r RawReport) Clone() RawReport {
	if r == nil {
		return nil
	}
	out := make(RawReport, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the field rendered as a string, whatever its wire type
func (r RawReport) String(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// ModelIdentifiers returns every non-empty field that may name the model,
// in lookup order.
func (r RawReport) ModelIdentifiers() []string {
	var ids []string
	for _, f := range []string{FieldModelID, FieldModelIDAlt, FieldProductID, FieldName, FieldType} {
		if s, ok := r.String(f); ok && s != "" {
			ids = append(ids, s)
		}
	}
	return ids
}

// SerialNumber returns the device serial, or fallback when the report has none
func (r RawReport) SerialNumber(fallback string) string {
	for _, f := range []string{FieldDeviceID, FieldAltDeviceID} {
		if s, ok := r.String(f); ok && s != "" {
			return s
		}
	}
	return fallback
}

// Firmware returns the reported firmware version
func (r RawReport) Firmware() string {
	if s, ok := r.String(FieldFirmware); ok && s != "" {
		return s
	}
	return "0.0.0"
}
