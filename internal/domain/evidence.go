package domain

// Verdict is the reasoner's judgement of a market's recorded outcome.
type Verdict string

const (
	VerdictCorrect   Verdict = "CORRECT"
	VerdictIncorrect Verdict = "INCORRECT"
	VerdictUnclear   Verdict = "UNCLEAR"
)

// Evidence is one item gathered about a market question.
type Evidence struct {
	Source string `json:"source"`
	Kind   string `json:"type"`
	Reason string `json:"reason,omitempty"`
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Analysis is the reasoner output.
type Analysis struct {
	Confidence int     `json:"confidence"`
	Verdict    Verdict `json:"verdict"`
}

// NeutralAnalysis is substituted whenever no reasoning is available.
var NeutralAnalysis = Analysis{Confidence: 50, Verdict: VerdictUnclear}
