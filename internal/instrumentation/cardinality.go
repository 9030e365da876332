package instrumentation

import "strings"

// Operation label values for protocol operation metrics. Keeping these
// to a fixed vocabulary bounds the label cardinality regardless of how
// many tools are registered.
const (
	OperationList   = "list"
	OperationGet    = "get"
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
	OperationSend   = "send"
	OperationSearch = "search"
	OperationMove   = "move"
	OperationFlag   = "flag"
)

// ExtractUserDomain reduces an email address to its domain so metric
// labels track the provider population, not individual mailboxes.
// Anything that is not a well-formed address maps to "unknown".
func ExtractUserDomain(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" || strings.Contains(domain, "@") {
		return "unknown"
	}
	return domain
}
