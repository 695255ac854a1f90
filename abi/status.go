package abi

import "strconv"

// Status is a signed result code returned across the ABI. Zero and
// positive values signal success (open and count calls return counts or
// handles); the documented negative codes are listed below. Codes outside
// this set do occur, the surface being only partially recovered.
type Status = int32

const (
	StatusOK              Status = 0
	StatusInvalidParam    Status = -1
	StatusNotInitialized  Status = -5
	StatusFormatParse     Status = -12
	StatusInvalidArgument Status = -22
	StatusOutOfMemory     Status = -27
	StatusContextRequired Status = -28
)

// statusNames covers the documented codes.
var statusNames = map[Status]string{
	StatusOK:              "ok",
	StatusInvalidParam:    "invalid_parameter",
	StatusNotInitialized:  "not_initialized",
	StatusFormatParse:     "format_parse_error",
	StatusInvalidArgument: "invalid_argument",
	StatusOutOfMemory:     "out_of_memory",
	StatusContextRequired: "context_required",
}

// Statuses returns the documented status codes, success first, then
// descending through the negative codes.
func Statuses() []Status {
	return []Status{
		StatusOK,
		StatusInvalidParam,
		StatusNotInitialized,
		StatusFormatParse,
		StatusInvalidArgument,
		StatusOutOfMemory,
		StatusContextRequired,
	}
}

// StatusName renders a code for reports. Undocumented codes render as
// "status(<n>)" so they stay visible rather than being folded into a
// catch-all bucket.
func StatusName(s Status) string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "status(" + strconv.FormatInt(int64(s), 10) + ")"
}

// DocumentedStatus reports whether s belongs to the recovered code set.
func DocumentedStatus(s Status) bool {
	_, ok := statusNames[s]
	return ok
}
