package common

import (
	"fmt"
	"strconv"
)

// StringArg extracts an optional string argument, returning fallback
// when the argument is absent or empty.
func StringArg(args map[string]interface{}, name, fallback string) string {
	if val, ok := args[name].(string); ok && val != "" {
		return val
	}
	return fallback
}

// RequiredString extracts a required string argument.
func RequiredString(args map[string]interface{}, name string) (string, error) {
	val, ok := args[name].(string)
	if !ok || val == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return val, nil
}

// IntArg extracts an optional number argument, returning fallback when
// the argument is absent. JSON numbers arrive as float64.
func IntArg(args map[string]interface{}, name string, fallback int) int {
	if val, ok := args[name].(float64); ok {
		return int(val)
	}
	return fallback
}

// BoolArg extracts an optional boolean argument.
func BoolArg(args map[string]interface{}, name string, fallback bool) bool {
	if val, ok := args[name].(bool); ok {
		return val
	}
	return fallback
}

// UIDArg extracts a required IMAP UID argument. Clients send UIDs as
// JSON numbers but a numeric string is accepted too.
func UIDArg(args map[string]interface{}, name string) (uint32, error) {
	switch v := args[name].(type) {
	case float64:
		if v < 1 {
			return 0, fmt.Errorf("%s must be a positive message UID", name)
		}
		return uint32(v), nil
	case string:
		uid, err := strconv.ParseUint(v, 10, 32)
		if err != nil || uid < 1 {
			return 0, fmt.Errorf("%s must be a positive message UID", name)
		}
		return uint32(uid), nil
	default:
		return 0, fmt.Errorf("%s is required", name)
	}
}
