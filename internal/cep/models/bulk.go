package models

import "encoding/json"

// BulkResult is one entry of a bulk lookup, at the same index as its input.
// Exactly one of Address and Err is set.
type BulkResult struct {
	CEP      string
	Address  *Address
	Provider string
	Err      error
}

// OK reports whether the lookup for this entry succeeded.
func (r BulkResult) OK() bool {
	return r.Err == nil && r.Address != nil
}

type bulkResultJSON struct {
	CEP      string   `json:"cep"`
	Data     *Address `json:"data"`
	Provider string   `json:"provider,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// MarshalJSON renders Err as its message so results can be returned over HTTP.
func (r BulkResult) MarshalJSON() ([]byte, error) {
	out := bulkResultJSON{
		CEP:      r.CEP,
		Data:     r.Address,
		Provider: r.Provider,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}
