package domain

import "strings"

// Status is the workflow position of a DeliveryRecord.
//
// The zero value is StatusUnknown: a stored string that could not be mapped
// onto the ordered chain. Unknown statuses are kept as-is in the store and are
// treated permissively by the state machine.
type Status int

const (
	StatusUnknown Status = iota
	StatusRequested
	StatusOrderReceived
	StatusBuildSent
	StatusTestPass
	StatusReleased
)

// Chain is the ordered, strictly linear status sequence.
var Chain = []Status{
	StatusRequested,
	StatusOrderReceived,
	StatusBuildSent,
	StatusTestPass,
	StatusReleased,
}

var statusNames = map[Status]string{
	StatusRequested:     "requested",
	StatusOrderReceived: "order_received",
	StatusBuildSent:     "build_sent",
	StatusTestPass:      "test_pass",
	StatusReleased:      "released",
}

var statusLabels = map[Status]string{
	StatusRequested:     "Requested",
	StatusOrderReceived: "Order received",
	StatusBuildSent:     "Build sent",
	StatusTestPass:      "Test pass",
	StatusReleased:      "Released",
}

// legacyStatuses maps every spelling ever written to the messages table.
// Older deployments stored display strings, some of them Vietnamese.
var legacyStatuses = map[string]Status{
	"request":           StatusRequested,
	"requested":         StatusRequested,
	"sent":              StatusRequested,
	"order received":    StatusOrderReceived,
	"order_received":    StatusOrderReceived,
	"nhận order":        StatusOrderReceived,
	"build sent":        StatusBuildSent,
	"build_sent":        StatusBuildSent,
	"resend build":      StatusBuildSent,
	"resend_build":      StatusBuildSent,
	"gửi lại bản build": StatusBuildSent,
	"test pass":         StatusTestPass,
	"test_pass":         StatusTestPass,
	"pass test":         StatusTestPass,
	"pass_test":         StatusTestPass,
	"release app":       StatusReleased,
	"release_app":       StatusReleased,
	"released":          StatusReleased,
}

// String returns the canonical storage form ("" for StatusUnknown).
func (s Status) String() string { return statusNames[s] }

// Label returns a human readable name.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return "Unknown"
}

// Index returns the position of s in Chain, or -1 when s is not on the chain.
func (s Status) Index() int {
	for i, c := range Chain {
		if c == s {
			return i
		}
	}
	return -1
}

func (s Status) Known() bool { return s.Index() >= 0 }

func (s Status) Terminal() bool { return s == StatusReleased }

// Next returns the status that directly follows s. ok is false when s is
// terminal or unknown.
func (s Status) Next() (Status, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(Chain) {
		return StatusUnknown, false
	}
	return Chain[i+1], true
}

// NormalizeStatus maps a stored or typed status string onto the enum.
// Matching ignores case and surrounding whitespace.
func NormalizeStatus(raw string) Status {
	key := strings.ToLower(strings.TrimSpace(raw))
	if st, ok := legacyStatuses[key]; ok {
		return st
	}
	return StatusUnknown
}

// ParseStatus is NormalizeStatus for operator input: unknown values are an error.
func ParseStatus(raw string) (Status, error) {
	st := NormalizeStatus(raw)
	if st == StatusUnknown {
		return StatusUnknown, &ValidationError{
			Code: CodeInvalidStatus,
			Msg:  "invalid status " + quote(raw) + "; valid: " + strings.Join(StatusNames(), ", "),
		}
	}
	return st, nil
}

// StatusNames lists canonical names in chain order.
func StatusNames() []string {
	out := make([]string, 0, len(Chain))
	for _, s := range Chain {
		out = append(out, s.String())
	}
	return out
}

// LegacySpellings returns every non-canonical stored spelling of s.
func LegacySpellings(s Status) []string {
	var out []string
	for k, v := range legacyStatuses {
		if v == s && k != s.String() {
			out = append(out, k)
		}
	}
	return out
}

// ReplyTag is the vocabulary recipients use to advance a record.
type ReplyTag string

const (
	TagOrderReceived ReplyTag = "order_received"
	TagResendBuild   ReplyTag = "resend_build"
	TagPassTest      ReplyTag = "pass_test"
	TagReleaseApp    ReplyTag = "release_app"
)

// ReplyTags is ordered to match the status chain.
var ReplyTags = []ReplyTag{TagOrderReceived, TagResendBuild, TagPassTest, TagReleaseApp}

var tagTargets = map[ReplyTag]Status{
	TagOrderReceived: StatusOrderReceived,
	TagResendBuild:   StatusBuildSent,
	TagPassTest:      StatusTestPass,
	TagReleaseApp:    StatusReleased,
}

// Target returns the status a reply tag moves a record to.
func (t ReplyTag) Target() (Status, bool) {
	st, ok := tagTargets[t]
	return st, ok
}

// TagFor returns the reply tag that produces st.
func TagFor(st Status) (ReplyTag, bool) {
	for t, s := range tagTargets {
		if s == st {
			return t, true
		}
	}
	return "", false
}
