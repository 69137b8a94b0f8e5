package gateway

// Wire types for the autopilot parameter service. Parameter values travel as
// float64; the autopilot coerces booleans and integers on its side.

type getParametersRequest struct {
	Names []string `json:"names"`
}

type getParametersResponse struct {
	Values []parameterValue `json:"values"`
}

type parameterValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type setParametersRequest struct {
	Parameters []parameterValue `json:"parameters"`
}

type setParametersResponse struct {
	Results []setResult `json:"results"`
}

type setResult struct {
	Successful bool   `json:"successful"`
	Reason     string `json:"reason,omitempty"`
}

type toggleStepRequest struct {
	Enabled bool `json:"enabled"`
}

type toggleStepResponse struct {
	Enabled bool `json:"enabled"`
}
