package replay

import (
	"encoding/json"
	"strings"

	"chronicle/internal/events"
)

// QuestionToolName is the tool an agent invokes to pause and ask the user
// for input. Its calls render as interactive question messages rather than
// ordinary tool uses.
const QuestionToolName = "AskUserQuestion"

// AnswerMarker opens the user message a client sends back after the user
// fills in an interactive question form.
const AnswerMarker = "Here are my answers:"

const (
	QuestionPending    = "pending"
	QuestionAnswered   = "answered"
	QuestionSuperseded = "superseded"
)

type QuestionOption struct {
	Label       string `json:"label"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description,omitempty"`
}

// QuestionItem is one prompt within an interactive question form.
type QuestionItem struct {
	ID         string           `json:"id,omitempty"`
	Prompt     string           `json:"question"`
	Options    []QuestionOption `json:"options,omitempty"`
	Multi      bool             `json:"multiSelect,omitempty"`
	AllowOther bool             `json:"allowOther,omitempty"`
}

// QuestionAnswer is the user's response to one item, recovered from the
// answer message. Either SelectedValues or OtherValue is set; both empty
// means the user explicitly skipped the item.
type QuestionAnswer struct {
	Question       string   `json:"question"`
	SelectedValues []string `json:"selectedValues,omitempty"`
	OtherValue     string   `json:"otherValue,omitempty"`
}

// Question is the display form of an AskUserQuestion tool use, with its
// lifecycle status resolved against the rest of the batch.
type Question struct {
	Status  string           `json:"status"`
	Context string           `json:"context,omitempty"`
	Items   []QuestionItem   `json:"items"`
	Answers []QuestionAnswer `json:"answers,omitempty"`
}

type rawQuestionItem struct {
	ID          string            `json:"id"`
	Question    string            `json:"question"`
	Options     []json.RawMessage `json:"options"`
	Mode        string            `json:"mode"`
	MultiSelect bool              `json:"multiSelect"`
	AllowOther  bool              `json:"allowOther"`
}

type rawQuestionParams struct {
	Context   string            `json:"context"`
	Questions []rawQuestionItem `json:"questions"`
}

// parseQuestionParams decodes AskUserQuestion arguments. Options arrive
// either as bare strings or as {label, value, description} objects; both
// forms normalize to QuestionOption.
func parseQuestionParams(args string) (string, []QuestionItem, error) {
	var raw rawQuestionParams
	if err := json.Unmarshal([]byte(args), &raw); err != nil {
		return "", nil, err
	}
	items := make([]QuestionItem, 0, len(raw.Questions))
	for _, rq := range raw.Questions {
		item := QuestionItem{
			ID:         rq.ID,
			Prompt:     rq.Question,
			Multi:      rq.MultiSelect || rq.Mode == "multi",
			AllowOther: rq.AllowOther,
		}
		for _, ro := range rq.Options {
			var label string
			if err := json.Unmarshal(ro, &label); err == nil {
				item.Options = append(item.Options, QuestionOption{Label: label})
				continue
			}
			var opt QuestionOption
			if err := json.Unmarshal(ro, &opt); err == nil {
				item.Options = append(item.Options, opt)
			}
		}
		items = append(items, item)
	}
	return raw.Context, items, nil
}

// buildQuestion resolves the lifecycle of an interactive question. The scan
// runs forward from the correlated call event (or the embedding assistant
// event when no call was recorded) to the next surviving user message: an
// answer marker means answered, any other user message means the
// conversation moved on, and no user message at all means still pending.
func buildQuestion(ordered []events.Event, pos int, callID, args string, idx *Index) *Question {
	q := &Question{Status: QuestionPending}
	if ctx, items, err := parseQuestionParams(args); err == nil {
		q.Context = ctx
		q.Items = items
	}

	start := pos
	if call, ok := idx.Calls[callID]; ok && call.Pos > start {
		start = call.Pos
	}
	for j := start + 1; j < len(ordered); j++ {
		ev := ordered[j]
		if ev.Type != events.TypeMessageUser || idx.IsDeleted(ev.ID) {
			continue
		}
		p, err := events.DecodeUserMessage(ev.Payload)
		if err != nil {
			continue
		}
		text := userText(p.Content)
		if body, ok := answerBody(text); ok {
			q.Status = QuestionAnswered
			q.Answers = parseAnswers(body, q.Items)
		} else {
			q.Status = QuestionSuperseded
		}
		break
	}
	return q
}

// answerBody returns everything after the marker in an answer message, or
// ok=false when the message is not an answer at all. The marker may appear
// anywhere in the text, not just at the start.
func answerBody(text string) (string, bool) {
	i := strings.Index(text, AnswerMarker)
	if i < 0 {
		return "", false
	}
	return text[i+len(AnswerMarker):], true
}

// parseAnswers recovers one answer per question from the marker message
// body. Each bold header names a question by its exact prompt text; the
// next non-empty line is its answer. A header that matches no known prompt,
// or an answer line that cannot be read, drops that single answer only.
func parseAnswers(body string, items []QuestionItem) []QuestionAnswer {
	var answers []QuestionAnswer
	taken := make(map[string]struct{})
	var current *QuestionItem

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**") && len(line) > 4 {
			prompt := line[2 : len(line)-2]
			current = nil
			for i := range items {
				if items[i].Prompt == prompt {
					if _, dup := taken[prompt]; !dup {
						current = &items[i]
					}
					break
				}
			}
			continue
		}
		if current == nil {
			continue
		}
		ans, ok := parseAnswerLine(line, current.Prompt)
		if ok {
			answers = append(answers, ans)
			taken[current.Prompt] = struct{}{}
		}
		current = nil
	}
	return answers
}

func parseAnswerLine(line, prompt string) (QuestionAnswer, bool) {
	line = strings.TrimSpace(strings.TrimPrefix(line, "Answer:"))
	if line == "" {
		return QuestionAnswer{}, false
	}
	ans := QuestionAnswer{Question: prompt}
	switch {
	case strings.HasPrefix(line, "[Other] "):
		ans.OtherValue = strings.TrimPrefix(line, "[Other] ")
	case line == "(no selection)":
		// explicit skip: no values, no other
	default:
		for _, v := range strings.Split(line, ",") {
			if v = strings.TrimSpace(v); v != "" {
				ans.SelectedValues = append(ans.SelectedValues, v)
			}
		}
	}
	return ans, true
}
