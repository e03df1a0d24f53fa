package domain

const (
	EventNameSessionAnnounced  = "session.announced"
	EventNameParticipantJoined = "participant.joined"
	EventNameQuestionAsked     = "question.asked"
	EventNameQuestionClosed    = "question.closed"
	EventNameSessionEnded      = "session.ended"
	EventNameSessionCancelled  = "session.cancelled"
)

// Cancellation reasons carried by EventSessionCancelled.
const (
	CancelNoParticipants = "no_participants"
	CancelStopped        = "stopped"
	CancelTransportLost  = "transport_lost"
	CancelShutdown       = "shutdown"
)

// Event is an outbound notification addressed to one channel.
type Event interface {
	Name() string
	ChannelID() string
}

// Header identifies the session an event belongs to.
type Header struct {
	Channel   string `json:"channel"`
	SessionID string `json:"sessionId"`
}

func (h Header) ChannelID() string { return h.Channel }

type EventSessionAnnounced struct {
	Header
	Category      string `json:"category"`
	QuestionCount int    `json:"questionCount"`
	LobbySeconds  int    `json:"lobbySeconds"`
}

func (EventSessionAnnounced) Name() string { return EventNameSessionAnnounced }

type EventParticipantJoined struct {
	Header
	Identity string `json:"identity"`
}

func (EventParticipantJoined) Name() string { return EventNameParticipantJoined }

type EventQuestionAsked struct {
	Header
	Index           int               `json:"index"`
	Total           int               `json:"total"`
	Category        string            `json:"category"`
	Prompt          string            `json:"prompt"`
	Options         map[string]string `json:"options"`
	DeadlineSeconds int               `json:"deadlineSeconds"`
}

func (EventQuestionAsked) Name() string { return EventNameQuestionAsked }

type EventQuestionClosed struct {
	Header
	Index         int              `json:"index"`
	CorrectOption string           `json:"correctOption"`
	CorrectText   string           `json:"correctText"`
	Results       []QuestionResult `json:"results"`
	Standings     []Standing       `json:"standings"`
}

func (EventQuestionClosed) Name() string { return EventNameQuestionClosed }

type EventSessionEnded struct {
	Header
	FinalStandings []Standing `json:"finalStandings"`
	Winners        []string   `json:"winners"`
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }

// EventSessionCancelled carries partial standings whenever participants had joined.
type EventSessionCancelled struct {
	Header
	Reason           string     `json:"reason"`
	PartialStandings []Standing `json:"partialStandings,omitempty"`
}

func (EventSessionCancelled) Name() string { return EventNameSessionCancelled }
