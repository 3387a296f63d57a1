package delivery

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"mailtriage/internal/triage/domain"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	senderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	keepStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	junkStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	overrideTag  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	promptStyle  = lipgloss.NewStyle().Bold(true)
	borderStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// ConsolePrompter collects triage decisions over an interactive terminal.
// It implements domain.Prompter.
type ConsolePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewConsolePrompter creates a prompter reading from in and writing to out.
func NewConsolePrompter(in io.Reader, out io.Writer) *ConsolePrompter {
	return &ConsolePrompter{in: bufio.NewReader(in), out: out}
}

// PresentThread renders the thread and its recommendation, then reads one
// command: [a]ccept, [r]eject, [s]kip, [u]pdate rule, [q]uit.
func (p *ConsolePrompter) PresentThread(ctx context.Context, t domain.Thread, d domain.ThreadDecision) (domain.HumanAction, error) {
	p.render(t, d)

	for {
		if err := ctx.Err(); err != nil {
			return domain.HumanAction{Kind: domain.ActionQuit}, err
		}
		fmt.Fprint(p.out, promptStyle.Render("[a]ccept  [r]eject  [s]kip  [u]pdate rule  [q]uit")+" > ")
		line, err := p.readLine()
		if err != nil {
			return domain.HumanAction{}, err
		}
		switch strings.ToLower(line) {
		case "a", "accept", "":
			return domain.HumanAction{Kind: domain.ActionAccept}, nil
		case "r", "reject":
			fb, err := p.ask("why was this wrong (blank to skip)?")
			if err != nil {
				return domain.HumanAction{}, err
			}
			return domain.HumanAction{Kind: domain.ActionReject, Feedback: fb}, nil
		case "s", "skip":
			return domain.HumanAction{Kind: domain.ActionSkip}, nil
		case "u", "update":
			return p.readRuleUpdate(t, d)
		case "q", "quit":
			return domain.HumanAction{Kind: domain.ActionQuit}, nil
		default:
			fmt.Fprintln(p.out, warningStyle.Render("unrecognized command: "+line))
		}
	}
}

func (p *ConsolePrompter) render(t domain.Thread, d domain.ThreadDecision) {
	var b strings.Builder

	n := len(t.Messages)
	title := t.Subject()
	if title == "" {
		title = "(no subject)"
	}
	fmt.Fprintln(&b, headerStyle.Render(fmt.Sprintf("%s  (%d message(s))", title, n)))
	for _, m := range t.Messages {
		star := " "
		if m.Starred {
			star = "★"
		}
		fmt.Fprintf(&b, "  %s %s  %s\n",
			star,
			senderStyle.Render(m.Sender),
			dimStyle.Render(m.Date.Format("2006-01-02 15:04")))
	}
	if body := firstBody(t); body != "" {
		fmt.Fprintln(&b, dimStyle.Render(preview(body, 400)))
	}

	cat := keepStyle.Render(string(d.Category))
	if d.Category == domain.CategoryJunkCandidate {
		cat = junkStyle.Render(string(d.Category))
	}
	fmt.Fprintf(&b, "\nrecommendation: %s  confidence: %.2f\n", cat, d.Confidence)
	if d.Overridden() {
		fmt.Fprintln(&b, overrideTag.Render("override: "+d.OverrideReason))
	}

	fmt.Fprintln(p.out, borderStyle.Render(strings.TrimRight(b.String(), "\n")))
}

func (p *ConsolePrompter) readRuleUpdate(t domain.Thread, d domain.ThreadDecision) (domain.HumanAction, error) {
	kindIn, err := p.ask("pattern kind [sender/domain/subject]:")
	if err != nil {
		return domain.HumanAction{}, err
	}
	var kind domain.PatternKind
	switch strings.ToLower(kindIn) {
	case "sender", "":
		kind = domain.PatternSender
	case "domain":
		kind = domain.PatternDomain
	case "subject":
		kind = domain.PatternSubject
	default:
		return domain.HumanAction{}, fmt.Errorf("unknown pattern kind %q", kindIn)
	}

	value, err := p.ask("pattern value (blank uses this thread's sender):")
	if err != nil {
		return domain.HumanAction{}, err
	}
	if value == "" && len(t.Messages) > 0 {
		value = t.Messages[0].Sender
		if kind == domain.PatternDomain {
			value = domain.SenderDomain(t.Messages[0].Sender)
		}
	}

	actIn, err := p.ask("rule action [keep/junk]:")
	if err != nil {
		return domain.HumanAction{}, err
	}
	action := domain.CategoryKeep
	if strings.HasPrefix(strings.ToLower(actIn), "j") {
		action = domain.CategoryJunkCandidate
	}

	spec := &domain.RuleSpec{Pattern: kind, PatternValue: value, Action: action}

	applyIn, err := p.ask("also resolve this thread now [y/N]?")
	if err != nil {
		return domain.HumanAction{}, err
	}
	act := domain.HumanAction{Kind: domain.ActionUpdate, Rule: spec}
	if strings.HasPrefix(strings.ToLower(applyIn), "y") {
		outcome := domain.ActionAccept
		if action != d.Category {
			outcome = domain.ActionReject
		}
		act.Outcome = &outcome
	}
	return act, nil
}

// ResolveConflict asks the operator whether a contradicting learned rule
// replaces the existing one or is discarded.
func (p *ConsolePrompter) ResolveConflict(ctx context.Context, existing, proposed domain.Rule) (domain.ConflictResolution, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConflictKeepExisting, err
	}
	var b strings.Builder
	fmt.Fprintln(&b, warningStyle.Render("rule conflict"))
	fmt.Fprintf(&b, "  existing: %s %q → %s (v%d)\n", existing.Pattern, existing.PatternValue, existing.Action, existing.Version)
	fmt.Fprintf(&b, "  proposed: %s %q → %s\n", proposed.Pattern, proposed.PatternValue, proposed.Action)
	fmt.Fprintln(p.out, borderStyle.Render(strings.TrimRight(b.String(), "\n")))

	for {
		fmt.Fprint(p.out, promptStyle.Render("[k]eep existing  [r]eplace")+" > ")
		line, err := p.readLine()
		if err != nil {
			return domain.ConflictKeepExisting, err
		}
		switch strings.ToLower(line) {
		case "k", "keep", "":
			return domain.ConflictKeepExisting, nil
		case "r", "replace":
			return domain.ConflictReplace, nil
		default:
			fmt.Fprintln(p.out, warningStyle.Render("unrecognized command: "+line))
		}
	}
}

func (p *ConsolePrompter) ask(q string) (string, error) {
	fmt.Fprint(p.out, promptStyle.Render(q)+" ")
	return p.readLine()
}

func (p *ConsolePrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func firstBody(t domain.Thread) string {
	for _, m := range t.Messages {
		if strings.TrimSpace(m.Body) != "" {
			return m.Body
		}
	}
	return ""
}

// preview truncates on a rune boundary so multi-byte text is never split
// mid-sequence.
func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
