package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/tmc/langchaingo/prompts"
)

// ErrMissingReference indicates a system template without {reference}.
var ErrMissingReference = errors.New("system template must contain {reference}")

// DefaultSystemTemplate instructs the model to answer strictly from the
// injected references and to cite them on a final "References:" line.
const DefaultSystemTemplate = `You are a female medical assistant who understands all languages and responds only in english and you must follow the given algorithm strictly to assist emergency nurses in ICUs. Remember you must give accurate answers otherwise it can risk the patient's life, so stick strictly to the references as explained in algorithm. Your output must be in markdown format find important terms and add bold to it (example **word**) find numbers and add italic to it(example *word*) add bullet points to a list(example -word1\n-word2):
Algorithm:
references = {reference}
/*
The references a dictionary with the key, value pairs in the following format:
<reference_id>: <text>
'text' is the content of the reference from what you can extract the information to solve the nurse's query.
*/

can_query_be_solved_by_given_references = <analyze the given "references" and current nurse's query and return true if "references" strictly contains the information to solve the current query else return false>
if "can_query_be_solved_by_given_references":
(
use_your_knowledge = <analyze "chat history with nurse" and "query" and generate an approriate result for the "query">
result = <analyze "references", chat history with nurse and nurse's current query to give the most descriptive and most accurate answer to solve the nurse's query related to medical emergencies.>
)
else:
(
result = <"Sorry I am not able to find anything related to your query in my database">

Output Format(should contain only one line'):
<enter_result_here> <"IMPORTANT: display reference ids in comma separated format exactly like this (don't change the format): 'References: id1, id2, id3 etc.' and don't apply any formating to references. You must display references at the end in all responses and display only relevant reference_ids from which you formed the answer">`

// DefaultHumanTemplate frames the user's utterance.
const DefaultHumanTemplate = "Nurse: {user_msg}"

// GroundingReminder is appended to the history before the new question.
const GroundingReminder = "@system remember only answer the question if it can be answered with the given references"

// Role is the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior chat turn.
type Message struct {
	Role    Role
	Content string
}

func parseTemplate(op, tpl, variable string) (prompts.PromptTemplate, error) {
	pt := prompts.PromptTemplate{
		Template:       tpl,
		InputVariables: []string{variable},
		TemplateFormat: prompts.TemplateFormatFString,
	}
	if _, err := pt.Format(map[string]any{variable: ""}); err != nil {
		return pt, errkind.E(errkind.Configuration, op, fmt.Errorf("invalid template: %w", err))
	}
	return pt, nil
}

// ValidateSystemTemplate reports whether tpl can be used as a system
// prompt.
func ValidateSystemTemplate(tpl string) error {
	if !strings.Contains(tpl, "{reference}") {
		return errkind.E(errkind.Configuration, "llm.ValidateSystemTemplate", ErrMissingReference)
	}
	_, err := parseTemplate("llm.ValidateSystemTemplate", tpl, "reference")
	return err
}

// mergeTurns drops empty messages and joins consecutive messages of the
// same role so roles strictly alternate.
func mergeTurns(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + content
			continue
		}
		out = append(out, Message{Role: m.Role, Content: content})
	}
	return out
}
