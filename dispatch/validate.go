package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/kessig/switchboard/contract"
)

// maxMultipartMemory is the in-memory budget for multipart body parsing;
// anything beyond it spills to temporary files via net/http.
var maxMultipartMemory int64 = 32 << 20 // 32MB

// Input is the fully validated, typed input bundle handed to handlers.
//
// PathParams always holds the raw extracted path segments. Params, Query,
// Headers, and Body hold the corresponding schema outputs; when an endpoint
// declares no schema for a part, the raw value passes through unchanged
// (map[string]string, url.Values, http.Header, and the decoded body
// respectively).
type Input struct {
	Endpoint   *contract.Endpoint
	PathParams map[string]string

	Params  any
	Query   any
	Headers any
	Body    any
}

// validateRequest runs the request-phase validation pipeline for an
// endpoint: params, query, headers, then body. The first schema failure
// aborts with a RequestValidationError naming the failed field; the handler
// never observes malformed input.
//
// withBody is false for upgrade-phase validation (push-event and message
// endpoints), where only params/query/headers apply.
func validateRequest(r *http.Request, ep *contract.Endpoint, rawParams map[string]string, withBody bool) (*Input, error) {
	in := &Input{
		Endpoint:   ep,
		PathParams: rawParams,
	}

	var err error
	if in.Params, err = validatePart("params", ep.Params, rawParams); err != nil {
		return nil, err
	}

	var query url.Values
	if r.URL != nil {
		query = r.URL.Query()
	}
	if in.Query, err = validatePart("query", ep.Query, query); err != nil {
		return nil, err
	}

	if in.Headers, err = validatePart("headers", ep.Headers, r.Header); err != nil {
		return nil, err
	}

	if !withBody {
		return in, nil
	}

	raw, err := decodeBody(r)
	if err != nil {
		return nil, err
	}
	if in.Body, err = validatePart("body", ep.Body, raw); err != nil {
		return nil, err
	}
	return in, nil
}

func validatePart(field string, schema contract.Schema, raw any) (any, error) {
	if schema == nil {
		return raw, nil
	}
	out, issues := schema.Parse(raw)
	if len(issues) > 0 {
		return nil, &RequestValidationError{Field: field, Issues: issues}
	}
	return out, nil
}

// decodeBody turns the request body into the value handed to the body
// schema, branching on the declared content type. JSON and CBOR bodies are
// decoded; urlencoded and multipart forms become a field map (file parts
// keep their multipart headers); any other content type passes through as
// raw text for the schema to interpret.
func decodeBody(r *http.Request) (any, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	mediaType := bodyMediaType(r)
	switch {
	case isJSONMediaType(mediaType):
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyReadError(err)
		}
		if len(b) == 0 {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, &RequestValidationError{
				Field:  "body",
				Issues: contract.Invalid("", "invalid_json", fmt.Sprintf("decode json body: %v", err)),
			}
		}
		return v, nil

	case mediaType == "application/cbor":
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyReadError(err)
		}
		if len(b) == 0 {
			return nil, nil
		}
		var v any
		if err := cbor.Unmarshal(b, &v); err != nil {
			return nil, &RequestValidationError{
				Field:  "body",
				Issues: contract.Invalid("", "invalid_cbor", fmt.Sprintf("decode cbor body: %v", err)),
			}
		}
		return v, nil

	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, &RequestValidationError{
				Field:  "body",
				Issues: contract.Invalid("", "invalid_multipart", fmt.Sprintf("parse multipart body: %v", err)),
			}
		}
		fields := map[string]any{}
		if r.MultipartForm != nil {
			for name, values := range r.MultipartForm.Value {
				if len(values) == 1 {
					fields[name] = values[0]
				} else {
					fields[name] = values
				}
			}
			for name, headers := range r.MultipartForm.File {
				fields[name] = headers
			}
		}
		return fields, nil

	case mediaType == "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, &RequestValidationError{
				Field:  "body",
				Issues: contract.Invalid("", "invalid_form", fmt.Sprintf("parse form body: %v", err)),
			}
		}
		fields := map[string]any{}
		for name, values := range r.PostForm {
			if len(values) == 1 {
				fields[name] = values[0]
			} else {
				fields[name] = values
			}
		}
		return fields, nil

	default:
		// Unrecognized content types are not rejected; the raw text goes to
		// the schema as-is.
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyReadError(err)
		}
		if len(b) == 0 {
			return nil, nil
		}
		return string(b), nil
	}
}

func bodyReadError(err error) error {
	return &RequestValidationError{
		Field:  "body",
		Issues: contract.Invalid("", "unreadable_body", fmt.Sprintf("read body: %v", err)),
	}
}

func bodyMediaType(r *http.Request) string {
	ct := strings.TrimSpace(r.Header.Get("Content-Type"))
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(ct)
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func isJSONMediaType(mt string) bool {
	if mt == "" {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
