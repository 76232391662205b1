package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"sort"

	"github.com/pkg/errors"
)

// multipartForm encodes v as multipart/form-data, one part per JSON field.
// Null fields are skipped; nested values are sent as JSON.
func multipartForm(v interface{}) ([]byte, string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, "", errors.Wrap(err, "encoding form")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, "", errors.Wrap(err, "encoding form")
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, k := range keys {
		var value string
		switch fv := fields[k].(type) {
		case nil:
			continue
		case string:
			value = fv
		case json.Number:
			value = fv.String()
		case bool:
			value = fmt.Sprint(fv)
		default:
			raw, err := json.Marshal(fv)
			if err != nil {
				return nil, "", errors.Wrapf(err, "encoding form field %s", k)
			}
			value = string(raw)
		}
		if err := w.WriteField(k, value); err != nil {
			return nil, "", errors.Wrapf(err, "writing form field %s", k)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "closing form")
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
