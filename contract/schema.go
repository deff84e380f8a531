package contract

// Issue describes a single schema violation: where it happened, a stable
// machine-readable code, and a human-readable message.
//
// The engine never constructs issues itself except for structural problems
// (undecodable body, unknown message type); everything else comes verbatim
// from the Schema implementation.
type Issue struct {
	Path    string `json:"path,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Schema validates a value against a type definition.
//
// Parse returns the (possibly transformed) typed value on success, or a
// non-empty issue list on failure. Implementations are external to this
// module; any validation library can be adapted to this interface.
//
// A Schema must be safe for concurrent use: contracts are shared across
// every in-flight request.
type Schema interface {
	Parse(input any) (any, []Issue)
}

// SchemaFunc adapts a function to a Schema.
type SchemaFunc func(input any) (any, []Issue)

// Parse implements Schema.
func (f SchemaFunc) Parse(input any) (any, []Issue) {
	return f(input)
}

// Invalid is a convenience constructor for a single-issue failure.
func Invalid(path, code, message string) []Issue {
	return []Issue{{Path: path, Code: code, Message: message}}
}
