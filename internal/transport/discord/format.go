package discord

import (
	"fmt"
	"strings"

	"quizzer/internal/domain"
)

const helpText = "**Commands:** " +
	"`!start [category]` start a quiz (default: random) | " +
	"`!join` join the upcoming quiz | " +
	"`!a <letter>` answer the current question | " +
	"`!categories` list categories | " +
	"`!leaderboard` top scorers | " +
	"`!status` show the running quiz | " +
	"`!stop` stop the quiz (admins)"

// command is one parsed chat command.
type command struct {
	name string
	args []string
}

// parseCommand splits a chat line into a command. Lines without the prefix
// are ignored.
func parseCommand(prefix, content string) (command, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, prefix) {
		return command{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return command{}, false
	}
	name := strings.ToLower(fields[0])
	if name == "answer" {
		name = "a"
	}
	return command{name: name, args: fields[1:]}, true
}

// FormatEvent renders an engine event as chat text.
func FormatEvent(event domain.Event) string {
	switch e := event.(type) {
	case domain.EventSessionAnnounced:
		return fmt.Sprintf("A quiz on **%s** (%d questions) will start in **%d** seconds. Type `!join` to participate.\n"+
			"To answer each question type `!a <letter>`.", e.Category, e.QuestionCount, e.LobbySeconds)

	case domain.EventParticipantJoined:
		return fmt.Sprintf("%s has joined the quiz! Good luck!", e.Identity)

	case domain.EventQuestionAsked:
		var b strings.Builder
		fmt.Fprintf(&b, "[ Category: **%s** ]\n", e.Category)
		fmt.Fprintf(&b, "**Question %02d/%02d:** %s\n", e.Index+1, e.Total, e.Prompt)
		letters := domain.Question{Options: e.Options}.Letters()
		for _, letter := range letters {
			fmt.Fprintf(&b, "**%s**: %s\n", letter, e.Options[letter])
		}
		fmt.Fprintf(&b, "You have **%d** seconds to answer.", e.DeadlineSeconds)
		return b.String()

	case domain.EventQuestionClosed:
		var b strings.Builder
		fmt.Fprintf(&b, "The correct answer was %s: **%s**", e.CorrectOption, e.CorrectText)
		var right []string
		for _, r := range e.Results {
			if r.Answered && r.Correct {
				right = append(right, r.Identity)
			}
		}
		if len(right) > 0 {
			fmt.Fprintf(&b, "\nAnswered correctly: %s", strings.Join(right, ", "))
		}
		return b.String()

	case domain.EventSessionEnded:
		var b strings.Builder
		b.WriteString("Quiz ended.\n")
		if line := winnersLine(e.Winners, e.FinalStandings); line != "" {
			b.WriteString(line + "\n")
		}
		b.WriteString(formatStandings("Scores:", e.FinalStandings, " points"))
		return b.String()

	case domain.EventSessionCancelled:
		return formatCancelled(e)
	}
	return ""
}

func formatCancelled(e domain.EventSessionCancelled) string {
	var head string
	switch e.Reason {
	case domain.CancelNoParticipants:
		return "Nobody joined, the quiz is cancelled."
	case domain.CancelStopped:
		head = "The quiz was stopped by an admin."
	case domain.CancelTransportLost:
		head = "The previous quiz was interrupted by a connection loss."
	case domain.CancelShutdown:
		head = "The quiz was interrupted because the bot is shutting down."
	default:
		head = "The quiz was cancelled."
	}
	if len(e.PartialStandings) == 0 {
		return head
	}
	return head + "\n" + formatStandings("Scores so far:", e.PartialStandings, " points")
}

func winnersLine(winners []string, standings []domain.Standing) string {
	if len(winners) == 0 || len(standings) == 0 {
		return ""
	}
	return fmt.Sprintf("**Winners:** %s with %d points.", strings.Join(winners, ", "), standings[0].Score)
}

// formatStandings lays scores out in a code block with names padded to the
// longest one.
func formatStandings(title string, standings []domain.Standing, suffix string) string {
	rows := make([][2]string, 0, len(standings))
	for _, s := range standings {
		rows = append(rows, [2]string{s.Identity, fmt.Sprintf("%d%s", s.Score, suffix)})
	}
	return formatTable(title, rows)
}

func formatLeaderboard(records []domain.ScoreRecord) string {
	if len(records) == 0 {
		return "No scores to display."
	}
	rows := make([][2]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, [2]string{r.Identity, fmt.Sprintf("%d", r.TotalScore)})
	}
	return formatTable("**Top Scorers:**", rows)
}

func formatTable(title string, rows [][2]string) string {
	width := 0
	for _, r := range rows {
		if n := len([]rune(r[0])); n > width {
			width = n
		}
	}
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n```\n")
	for _, r := range rows {
		fmt.Fprintf(&b, " %-*s : %s\n", width, r[0], r[1])
	}
	b.WriteString("```")
	return b.String()
}

func formatCategories(categories []string) string {
	if len(categories) == 0 {
		return "No categories available."
	}
	return "**Categories:** " + strings.Join(categories, ", ") + "\nUse `!start <category>` or `!start random`."
}

func formatSnapshot(s domain.SessionSnapshot) string {
	switch s.State {
	case domain.StateLobby:
		return fmt.Sprintf("A **%s** quiz is waiting for players (%d joined).", s.Category, len(s.Participants))
	default:
		return fmt.Sprintf("**%s** quiz: question %d of %d, %d players.", s.Category, s.CurrentIndex+1, s.QuestionCount, len(s.Participants))
	}
}
