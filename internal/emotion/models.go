package emotion

// AnalyzeRequest for POST /analyze
type AnalyzeRequest struct {
	Img              string   `json:"img"` // base64 data URI
	Actions          []string `json:"actions"`
	DetectorBackend  string   `json:"detector_backend"`
	EnforceDetection bool     `json:"enforce_detection"`
}

// AnalyzeResult is one entry of the /analyze response. DeepFace returns
// either a bare list of these or {"results": [...]}.
type AnalyzeResult struct {
	DominantEmotion string             `json:"dominant_emotion"`
	Emotion         map[string]float64 `json:"emotion"`
}

type analyzeEnvelope struct {
	Results []AnalyzeResult `json:"results"`
}
