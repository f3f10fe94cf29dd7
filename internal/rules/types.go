package rules

type ActionType string

type ResourceType string

const ActionRedirect ActionType = "redirect"

const DefaultPriority = 1

const (
	ResourceMainFrame      ResourceType = "main_frame"
	ResourceSubFrame       ResourceType = "sub_frame"
	ResourceStylesheet     ResourceType = "stylesheet"
	ResourceScript         ResourceType = "script"
	ResourceImage          ResourceType = "image"
	ResourceFont           ResourceType = "font"
	ResourceObject         ResourceType = "object"
	ResourceXMLHTTPRequest ResourceType = "xmlhttprequest"
	ResourcePing           ResourceType = "ping"
	ResourceCSPReport      ResourceType = "csp_report"
	ResourceMedia          ResourceType = "media"
	ResourceWebSocket      ResourceType = "websocket"
	ResourceWebTransport   ResourceType = "webtransport"
	ResourceWebBundle      ResourceType = "webbundle"
	ResourceOther          ResourceType = "other"
)

// AllResourceTypes lists every request type a rule can apply to.
var AllResourceTypes = []ResourceType{
	ResourceMainFrame,
	ResourceSubFrame,
	ResourceStylesheet,
	ResourceScript,
	ResourceImage,
	ResourceFont,
	ResourceObject,
	ResourceXMLHTTPRequest,
	ResourcePing,
	ResourceCSPReport,
	ResourceMedia,
	ResourceWebSocket,
	ResourceWebTransport,
	ResourceWebBundle,
	ResourceOther,
}

// Rule is a declarative redirect rule. The JSON shape matches what a
// declarative request-filtering engine accepts.
type Rule struct {
	ID        int       `json:"id"`
	Priority  int       `json:"priority"`
	Action    Action    `json:"action"`
	Condition Condition `json:"condition"`
}

type Action struct {
	Type     ActionType `json:"type"`
	Redirect *Redirect  `json:"redirect,omitempty"`
}

type Redirect struct {
	RegexSubstitution string `json:"regexSubstitution"`
}

type Condition struct {
	RegexFilter   string         `json:"regexFilter"`
	ResourceTypes []ResourceType `json:"resourceTypes,omitempty"`
}

// Substitution returns the redirect template, or "" when the rule has none.
func (r Rule) Substitution() string {
	if r.Action.Redirect == nil {
		return ""
	}
	return r.Action.Redirect.RegexSubstitution
}

// IDs returns the rule IDs in order.
func IDs(rules []Rule) []int {
	out := make([]int, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}
