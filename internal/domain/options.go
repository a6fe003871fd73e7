package domain

import (
	"encoding/json"
	"maps"
	"slices"
)

// Options carries pass-through generation parameters and the fields the
// orchestrator records after a run. Keys it does not know about survive a
// JSON round trip through Extra.
type Options struct {
	Template       string   `json:"template,omitempty"`
	NumPages       *int     `json:"num_pages,omitempty"`
	ConvertType    string   `json:"convert_type,omitempty"`
	PowerpointType string   `json:"powerpoint_type,omitempty"`
	Attachments    []string `json:"attachments,omitempty"`
	Style          string   `json:"style,omitempty"`

	GeneratedFilePath  string                    `json:"generated_file_path,omitempty"`
	GeneratedFilePaths []string                  `json:"generated_file_paths,omitempty"`
	TokenStats         map[string]map[string]any `json:"token_stats,omitempty"`
	SuccessfulCount    *int                      `json:"successful_count,omitempty"`
	FailedCount        *int                      `json:"failed_count,omitempty"`

	// Extra holds keys not modelled above. Known keys always win over Extra
	// entries with the same name when marshalling.
	Extra map[string]any `json:"-"`
}

type optionsAlias Options

var knownOptionKeys = []string{
	"template", "num_pages", "convert_type", "powerpoint_type", "attachments", "style",
	"generated_file_path", "generated_file_paths", "token_stats", "successful_count", "failed_count",
}

func (o Options) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(optionsAlias(o))
	if err != nil {
		return nil, err
	}
	if len(o.Extra) == 0 {
		return known, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(o.Extra)+len(fields))
	for k, v := range o.Extra {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (o *Options) UnmarshalJSON(data []byte) error {
	var alias optionsAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownOptionKeys {
		delete(raw, k)
	}
	*o = Options(alias)
	if len(raw) == 0 {
		return nil
	}
	o.Extra = make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		o.Extra[k] = val
	}
	return nil
}

// Clone returns a deep copy of the options.
func (o Options) Clone() Options {
	c := o
	if o.NumPages != nil {
		c.NumPages = Ptr(*o.NumPages)
	}
	if o.SuccessfulCount != nil {
		c.SuccessfulCount = Ptr(*o.SuccessfulCount)
	}
	if o.FailedCount != nil {
		c.FailedCount = Ptr(*o.FailedCount)
	}
	c.Attachments = slices.Clone(o.Attachments)
	c.GeneratedFilePaths = slices.Clone(o.GeneratedFilePaths)
	if o.TokenStats != nil {
		c.TokenStats = make(map[string]map[string]any, len(o.TokenStats))
		for k, v := range o.TokenStats {
			c.TokenStats[k] = maps.Clone(v)
		}
	}
	c.Extra = maps.Clone(o.Extra)
	return c
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
