package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sparkrag/internal/domain"
)

// Asker is the TUI-facing subset of the RAG service.
type Asker interface {
	AskStream(ctx context.Context, query string, topK int) (domain.AnswerStream, []domain.SearchResult, error)
}

type turn struct {
	question string
	answer   strings.Builder
	sources  []domain.SearchResult
	err      error
}

type streamStartedMsg struct {
	stream  domain.AnswerStream
	sources []domain.SearchResult
}

type chunkMsg struct {
	stream domain.AnswerStream
	text   string
}

type streamEndMsg struct {
	stream domain.AnswerStream
	err    error
}

// Model is the Bubble Tea model for the streaming chat.
type Model struct {
	ctx      context.Context
	asker    Asker
	topK     int
	input    textinput.Model
	viewport viewport.Model
	turns    []*turn
	stream   domain.AnswerStream
	summary  string
	status   string
	ready    bool
}

// New creates a chat model. summary is shown under the title.
func New(ctx context.Context, asker Asker, topK int, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{ctx: ctx, asker: asker, topK: topK, input: ti, viewport: vp, summary: summary, status: "Ready. Esc stops an answer."}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := transcriptStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			if m.stream != nil {
				_ = m.stream.Close()
			}
			return m, tea.Quit
		}
		switch msg.Type {
		case tea.KeyEsc:
			if m.stream != nil {
				_ = m.stream.Close()
				m.status = "Stopped."
			}
			return m, nil
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.stream != nil {
				return m, nil
			}
			m.input.SetValue("")
			m.turns = append(m.turns, &turn{question: q})
			m.status = "Thinking..."
			m.refresh()
			return m, m.start(q)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	case streamStartedMsg:
		m.stream = msg.stream
		m.current().sources = msg.sources
		m.status = "Answering..."
		return m, next(msg.stream)
	case chunkMsg:
		if msg.stream != m.stream {
			return m, nil
		}
		m.current().answer.WriteString(msg.text)
		m.refresh()
		return m, next(msg.stream)
	case streamEndMsg:
		if msg.stream != nil && msg.stream != m.stream {
			return m, nil
		}
		if msg.stream != nil {
			_ = msg.stream.Close()
		}
		m.stream = nil
		switch {
		case msg.err == nil:
			m.status = fmt.Sprintf("Done. %d sources.", len(m.current().sources))
		case m.status == "Stopped.":
		default:
			m.current().err = msg.err
			m.status = "Error: " + msg.err.Error()
		}
		m.refresh()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) start(query string) tea.Cmd {
	return func() tea.Msg {
		stream, sources, err := m.asker.AskStream(m.ctx, query, m.topK)
		if err != nil {
			return streamEndMsg{err: err}
		}
		return streamStartedMsg{stream: stream, sources: sources}
	}
}

// next reads one chunk; the model re-issues it until the stream ends.
func next(stream domain.AnswerStream) tea.Cmd {
	return func() tea.Msg {
		text, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return streamEndMsg{stream: stream}
		}
		if err != nil {
			return streamEndMsg{stream: stream, err: err}
		}
		return chunkMsg{stream: stream, text: text}
	}
}

func (m *Model) current() *turn {
	if len(m.turns) == 0 {
		m.turns = append(m.turns, &turn{})
	}
	return m.turns[len(m.turns)-1]
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Spark RAG Chat")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + summary + "\n" + transcriptStyle.Render(m.viewport.View()) + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 {
		return "No questions yet."
	}
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("Q: " + t.question))
		b.WriteString("\n")
		b.WriteString(t.answer.String())
		if t.err != nil {
			b.WriteString("\n" + errorStyle.Render(t.err.Error()))
		}
		for j, s := range t.sources {
			fmt.Fprintf(&b, "\n%s %s", sourceStyle.Render(fmt.Sprintf("[%d %.2f]", j+1, s.Score)), highlightBestSentence(s.Chunk.Text, t.question))
		}
	}
	return b.String()
}

var (
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	highlightStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe   = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe      = regexp.MustCompile(`[^.!?。！？]+[.!?。！？]*`)
)

// highlightBestSentence emphasizes the sentence of text sharing most tokens
// with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
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

// toTokenSet splits words; Han runs are split into characters.
func toTokenSet(s string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(s), -1) {
		if !strings.ContainsFunc(t, isHan) {
			m[t] = struct{}{}
			continue
		}
		for _, r := range t {
			m[string(r)] = struct{}{}
		}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	for t := range toTokenSet(sentence) {
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}

func isHan(r rune) bool { return unicode.Is(unicode.Han, r) }
