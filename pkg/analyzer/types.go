package analyzer

// Turn is one utterance in a conversation transcript handed to the model.
type Turn struct {
	Role    string // "user" or "bot"
	Content string
}

// Analysis is the model's judgment of a candidate root comment.
type Analysis struct {
	ShouldReply bool    `json:"should_reply"`
	Score       float64 `json:"score"`
	Emotion     string  `json:"emotion"`
	Reply       string  `json:"reply"`
	Emergency   bool    `json:"emergency"`
	Reason      string  `json:"reason"`
}

// Continuation is the model's judgment of whether to keep a thread going.
type Continuation struct {
	ShouldContinue bool   `json:"should_continue"`
	IsEnding       bool   `json:"is_ending"`
	Reply          string `json:"reply"`
	Reason         string `json:"reason"`
}
