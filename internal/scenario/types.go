package scenario

// Case is one navigation assertion within a scenario.
type Case struct {
	Input  string `yaml:"input"`
	Expect string `yaml:"expect"`
	// URL, when set, is the URL the input must settle on after rewrites.
	URL string `yaml:"url,omitempty"`
	// Stage, when set, is the stage that must block the input.
	Stage string `yaml:"stage,omitempty"`
}

// Scenario is a named collection of navigation test cases.
type Scenario struct {
	Name  string `yaml:"name"`
	Cases []Case `yaml:"cases"`
}

// CaseResult is the outcome of checking one test case.
type CaseResult struct {
	Index    int    `json:"index"`
	Passed   bool   `json:"passed"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	URL      string `json:"url,omitempty"`
	Stage    string `json:"stage,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Mismatch string `json:"mismatch,omitempty"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
