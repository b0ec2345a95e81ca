package reply

import "prefrontal/app/model"

type Request struct {
	Goal    string
	Method  string
	History []model.Message
	// Knowledge maps a source id to retrieved text
	Knowledge map[string]string
	// PreviousReply is a rejected attempt the new reply should improve on
	PreviousReply string
}

type CheckRequest struct {
	Reply   string
	Goal    string
	Retry   int
	History []model.Message
}

type Verdict struct {
	Acceptable bool   `json:"acceptable"`
	Reason     string `json:"reason"`
	NeedReplan bool   `json:"need_replan"`
}
