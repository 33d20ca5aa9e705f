// Package tui is the interactive chat client.
package tui

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"learnbot/internal/conversation"
	"learnbot/internal/domain"
)

// ChatPort is the TUI-facing subset of the conversation manager.
type ChatPort interface {
	Handle(ctx context.Context, req conversation.Request) (conversation.Response, error)
	Teach(ctx context.Context, question, answer string) (conversation.Response, error)
	Regenerate(ctx context.Context, question, lastAnswer string) (conversation.Response, error)
	SearchAndLearn(ctx context.Context, sessionID, question string) (conversation.Response, error)
}

const teachPrefix = "/teach "

// replyMsg carries the result of an asynchronous call back into Update.
type replyMsg struct {
	resp conversation.Response
	err  error
}

type line struct {
	who  string
	text string
}

// Model is the Bubble Tea model for the chat client.
type Model struct {
	ctx       context.Context
	chat      ChatPort
	sessionID string
	input     textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	history   []line
	status    string
	busy      bool
	ready     bool

	lastQuestion string
	lastAnswer   string
	lastMissed   string
	canSearch    bool
}

// New creates a chat model bound to one session.
func New(ctx context.Context, chat ChatPort, sessionID string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		ctx:       ctx,
		chat:      chat,
		sessionID: sessionID,
		input:     ti,
		viewport:  viewport.New(0, 0),
		spinner:   sp,
		status:    "Enter ask · ctrl+r another answer · ctrl+s search · /teach <answer> · ctrl+c quit",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and reply events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, hh := historyBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		vh := msg.Height - (1 + 1 + ih + 1 + hh) // header, input line, status
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh)
		m.refresh()
		return m, nil
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case replyMsg:
		m.busy = false
		m.apply(msg)
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if m.busy {
			return m, nil
		}
		switch msg.String() {
		case "enter":
			return m.submit()
		case "ctrl+r":
			if m.lastQuestion == "" {
				m.status = "Nothing to regenerate yet."
				return m, nil
			}
			q, last := m.lastQuestion, m.lastAnswer
			return m.call(func(ctx context.Context) (conversation.Response, error) {
				return m.chat.Regenerate(ctx, q, last)
			})
		case "ctrl+s":
			if !m.canSearch || m.lastMissed == "" {
				m.status = "Nothing to search for."
				return m, nil
			}
			q, id := m.lastMissed, m.sessionID
			m.history = append(m.history, line{who: "you", text: "search: " + q})
			return m.call(func(ctx context.Context) (conversation.Response, error) {
				return m.chat.SearchAndLearn(ctx, id, q)
			})
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.Reset()
	m.history = append(m.history, line{who: "you", text: text})

	if strings.HasPrefix(text, teachPrefix) {
		answer := strings.TrimSpace(strings.TrimPrefix(text, teachPrefix))
		if m.lastMissed == "" || answer == "" {
			m.status = "Use /teach <answer> after a question I could not answer."
			m.refresh()
			return m, nil
		}
		q := m.lastMissed
		return m.call(func(ctx context.Context) (conversation.Response, error) {
			return m.chat.Teach(ctx, q, answer)
		})
	}

	req := conversation.Request{
		SessionID:    m.sessionID,
		Question:     text,
		LastQuestion: m.lastQuestion,
		LastAnswer:   m.lastAnswer,
	}
	return m.call(func(ctx context.Context) (conversation.Response, error) {
		return m.chat.Handle(ctx, req)
	})
}

// call runs fn off the UI goroutine and shows the spinner meanwhile.
func (m Model) call(fn func(ctx context.Context) (conversation.Response, error)) (tea.Model, tea.Cmd) {
	m.busy = true
	m.status = "Thinking..."
	m.refresh()
	ctx := m.ctx
	run := func() tea.Msg {
		resp, err := fn(ctx)
		return replyMsg{resp: resp, err: err}
	}
	return m, tea.Batch(run, m.spinner.Tick)
}

// apply records a reply in the history and the client-side dialogue state.
func (m *Model) apply(msg replyMsg) {
	if msg.err != nil {
		m.status = "Error: " + msg.err.Error()
		m.history = append(m.history, line{who: "bot", text: errorText(msg.err)})
		return
	}
	r := msg.resp
	m.status = sourceLabel(r)
	switch {
	case r.Source == domain.SourceSkip:
		return
	case r.Answer != "":
		m.lastQuestion = r.Query
		m.lastAnswer = r.Answer
		m.lastMissed = ""
		m.canSearch = false
		m.history = append(m.history, line{who: "bot", text: r.Answer})
	case r.Source == domain.SourceLearned:
		m.lastMissed = ""
		m.canSearch = false
	case r.CanTeach:
		m.lastMissed = r.Query
		m.canSearch = r.CanSearch
	}
	if r.Message != "" {
		m.history = append(m.history, line{who: "bot", text: r.Message})
	}
}

func errorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrNothingToCorrect):
		return "There is nothing to correct yet."
	case errors.Is(err, domain.ErrSelfReference):
		return "That is the question itself. Please give the actual answer."
	case domain.IsUserError(err):
		return err.Error()
	default:
		return "Something went wrong: " + err.Error()
	}
}

func sourceLabel(r conversation.Response) string {
	switch {
	case r.AwaitingCorrection:
		return "Waiting for the correct answer (say \"nevermind\" to cancel)."
	case r.Source == domain.SourceExternal:
		return "Answer found online and learned."
	case r.Source == domain.SourceLocal:
		return "Answer from memory. ctrl+r for another one."
	case r.CanSearch:
		return "ctrl+s to search online, or /teach <answer>."
	default:
		return string(r.Source)
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("learnbot")
	status := statusStyle.Render(m.status)
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	history := historyBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	return header + "\n" + history + "\n" + input + "\n" + status
}

func (m Model) renderHistory() string {
	if len(m.history) == 0 {
		return "Ask me anything. If I don't know, teach me."
	}
	var b strings.Builder
	for i, l := range m.history {
		if i > 0 {
			b.WriteString("\n")
		}
		if l.who == "you" {
			b.WriteString(userStyle.Render("you: ") + l.text)
			continue
		}
		b.WriteString(botStyle.Render("bot: ") + highlightBestSentence(l.text, m.lastQuestion))
	}
	return b.String()
}

var (
	historyBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	unicodeWordRe   = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe      = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasizes the sentence of a multi-sentence answer
// that shares the most words with the question.
func highlightBestSentence(text, query string) string {
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) < 2 {
		return text
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}
	bestIdx, bestScore := 0, 0
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestScore == 0 {
		return text
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sent = highlightStyle.Render(sent)
		}
		sentences[i] = sent
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := map[string]struct{}{}
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
