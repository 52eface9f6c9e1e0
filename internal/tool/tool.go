package tool

import "context"

// Tool is the interface every companion tool must implement. Tools are
// invoked by name when a remote run reports required action.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema
	Execute(ctx context.Context, params map[string]any) (string, error)
}

func getString(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

// getNumber reads a numeric parameter. JSON unmarshals numbers as float64;
// tolerate int for callers constructing params in Go.
func getNumber(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
