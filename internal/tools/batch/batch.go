package batch

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Result represents the result of a single operation in a batch
type Result struct {
	UID    uint32 `json:"uid"`
	Status string `json:"status"` // "success" or "error"
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BatchResult represents the aggregated results of a batch operation
type BatchResult struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// ParseUIDs parses a parameter that can be a single message UID or an
// array of UIDs. JSON numbers arrive as float64; numeric strings are
// accepted too.
func ParseUIDs(param interface{}, paramName string) ([]uint32, error) {
	if param == nil {
		return nil, fmt.Errorf("%s is required", paramName)
	}

	switch v := param.(type) {
	case float64:
		uid, err := uidFromFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%s %w", paramName, err)
		}
		return []uint32{uid}, nil
	case string:
		uid, err := uidFromString(v)
		if err != nil {
			return nil, fmt.Errorf("%s %w", paramName, err)
		}
		return []uint32{uid}, nil
	case []interface{}:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		uids := make([]uint32, 0, len(v))
		for i, item := range v {
			var (
				uid uint32
				err error
			)
			switch iv := item.(type) {
			case float64:
				uid, err = uidFromFloat(iv)
			case string:
				uid, err = uidFromString(iv)
			default:
				err = fmt.Errorf("must be a number")
			}
			if err != nil {
				return nil, fmt.Errorf("%s[%d] %w", paramName, i, err)
			}
			uids = append(uids, uid)
		}
		return uids, nil
	default:
		return nil, fmt.Errorf("%s must be a UID or array of UIDs", paramName)
	}
}

func uidFromFloat(v float64) (uint32, error) {
	if v < 1 || v != float64(uint32(v)) {
		return 0, fmt.Errorf("must be a positive message UID")
	}
	return uint32(v), nil
}

func uidFromString(v string) (uint32, error) {
	uid, err := strconv.ParseUint(v, 10, 32)
	if err != nil || uid < 1 {
		return 0, fmt.Errorf("must be a positive message UID")
	}
	return uint32(uid), nil
}

// FormatResults creates a formatted JSON string from batch results
func FormatResults(results []Result) string {
	br := BatchResult{
		Total:   len(results),
		Results: results,
	}

	for _, r := range results {
		if r.Status == "success" {
			br.Successful++
		} else {
			br.Failed++
		}
	}

	jsonBytes, _ := json.MarshalIndent(br, "", "  ")
	return string(jsonBytes)
}

// ProcessBatch executes a function on each UID and collects results.
// fn should return (result string, error) for each UID; a failed UID
// does not stop the rest of the batch.
func ProcessBatch(uids []uint32, fn func(uid uint32) (string, error)) []Result {
	results := make([]Result, 0, len(uids))

	for _, uid := range uids {
		result := Result{UID: uid}
		res, err := fn(uid)
		if err != nil {
			result.Status = "error"
			result.Error = err.Error()
		} else {
			result.Status = "success"
			result.Result = res
		}
		results = append(results, result)
	}

	return results
}

// NewSuccessResult creates a success result
func NewSuccessResult(uid uint32, message string) Result {
	return Result{
		UID:    uid,
		Status: "success",
		Result: message,
	}
}

// NewErrorResult creates an error result
func NewErrorResult(uid uint32, err error) Result {
	return Result{
		UID:    uid,
		Status: "error",
		Error:  err.Error(),
	}
}
