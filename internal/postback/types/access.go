package types

// AccessDecision is computed fresh for every postback and never stored.
type AccessDecision struct {
	Allowed  bool
	Reason   string // open_mode | allow_listed | not_allow_listed
	CallerIP string
}
