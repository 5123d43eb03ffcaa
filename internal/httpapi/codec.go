package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"meshd/internal/marshal"
	"meshd/pkg/types"
)

// decodeBody reads a JSON request body into v. It writes the error response
// itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// decodeArray turns the wire form of an array into a view. The raw b64 form
// is reinterpreted in place when possible.
func decodeArray(arg string, a types.Array) (marshal.View, error) {
	dt, err := marshal.ParseDType(a.DType)
	if err != nil {
		return marshal.View{}, marshal.Errorf(marshal.KindInvalidData, arg, "%v", err)
	}
	if a.B64 != "" {
		if len(a.Data) > 0 {
			return marshal.View{}, marshal.Errorf(marshal.KindInvalidData, arg, "set either data or b64, not both")
		}
		raw, err := base64.StdEncoding.DecodeString(a.B64)
		if err != nil {
			return marshal.View{}, marshal.Errorf(marshal.KindInvalidData, arg, "b64: %v", err)
		}
		v, err := marshal.FromBytes(dt, a.Shape, raw)
		return v, withArg(err, arg)
	}
	raw := a.Data
	if len(raw) == 0 {
		raw = json.RawMessage("[]")
	}
	data, err := marshal.DecodeJSON(dt, raw)
	if err != nil {
		return marshal.View{}, withArg(err, arg)
	}
	return marshal.View{DType: dt, Shape: append([]int(nil), a.Shape...), Data: data}, nil
}

// decodeArrays decodes named arrays in name order.
func decodeArrays(in map[string]types.Array) (map[string]marshal.View, error) {
	if len(in) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(in))
	for n := range in {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make(map[string]marshal.View, len(in))
	for _, n := range names {
		v, err := decodeArray(n, in[n])
		if err != nil {
			return nil, err
		}
		out[n] = v
	}
	return out, nil
}

// encodeArray renders a view in the wire form, as b64 when raw is set.
func encodeArray(v marshal.View, raw bool) (types.Array, error) {
	a := types.Array{DType: v.DType.String(), Shape: append([]int(nil), v.Shape...)}
	if raw {
		a.B64 = base64.StdEncoding.EncodeToString(v.Bytes())
		return a, nil
	}
	b, err := json.Marshal(v.Data)
	if err != nil {
		return types.Array{}, err
	}
	if string(b) == "null" {
		b = []byte("[]")
	}
	a.Data = b
	return a, nil
}

// wantRaw reports whether the client asked for b64 arrays.
func wantRaw(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("encoding"), "b64")
}

func withArg(err error, arg string) error {
	var me *marshal.Error
	if errors.As(err, &me) && me.Arg == "" {
		me.Arg = arg
	}
	return err
}
