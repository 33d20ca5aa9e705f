package intent

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Category is a kind of conversational follow-up.
type Category string

const (
	CasualFollowup   Category = "casual_followup"
	NegativeFeedback Category = "negative_feedback"
	CancelFeedback   Category = "cancel_feedback"
	ShortenCommand   Category = "shorten_command"
	ExpandCommand    Category = "expand_command"
)

// Categories lists every category in evaluation order.
var Categories = []Category{CasualFollowup, NegativeFeedback, CancelFeedback, ShortenCommand, ExpandCommand}

// Exemplars holds the example phrases of each category.
type Exemplars map[Category][]string

// DefaultExemplars returns the built-in phrase lists.
func DefaultExemplars() Exemplars {
	return Exemplars{
		NegativeFeedback: {
			"no you are wrong", "you're wrong", "that's wrong", "it's wrong", "that's incorrect", "wrong answer",
			"not true", "not correct", "that's not correct", "that's not right",
			"i don't think so", "you are mistaken", "incorrect", "that's false",
			"you are wrong", "i disagree", "not really", "nope", "nah", "that's not what i meant",
			"that's not it", "you got it wrong", "not what i asked", "completely wrong",
			"totally wrong", "absolutely wrong", "that's a mistake", "you messed up",
			"you said it wrong", "false", "no", "that's nonsense", "that makes no sense",
		},
		CancelFeedback: {
			"cancel", "ok", "leave", "nevermind", "forget it", "forget", "skip", "stop",
			"not now", "not interested", "let it go", "ignore that", "just leave it", "nvm",
		},
		CasualFollowup: {
			"ok", "okay", "cool", "great", "thanks", "thank you", "fine", "awesome", "good", "alright", "nice",
		},
		ShortenCommand: {
			"tell shortly", "write short", "short", "summarize", "shortly",
			"keep it short", "make it brief", "brief it", "in short", "concise",
			"tl;dr", "give a summary", "short version", "just a line",
		},
		ExpandCommand: {
			"describe more", "more details", "explain more", "expand",
			"elaborate", "tell me more", "go deeper", "more info",
			"what else", "continue", "explain in detail", "add more",
		},
	}
}

// LoadExemplars reads a YAML file mapping category names to phrase lists.
// Categories present in the file replace the defaults; the rest keep them.
func LoadExemplars(path string) (Exemplars, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading exemplars: %w", err)
	}
	var overrides map[string][]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing exemplars: %w", err)
	}
	ex := DefaultExemplars()
	for name, phrases := range overrides {
		cat := Category(name)
		if !slices.Contains(Categories, cat) {
			return nil, fmt.Errorf("unknown intent category %q", name)
		}
		if len(phrases) == 0 {
			return nil, fmt.Errorf("category %q has no phrases", name)
		}
		ex[cat] = phrases
	}
	return ex, nil
}
