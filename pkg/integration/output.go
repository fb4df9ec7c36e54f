package integration

// Structured answers of the service agents. Optional fields are pointers or
// omitempty slices; the reflected strict schema turns them into required
// nullable properties.

// GmailOutput is the answer of the Gmail agent.
type GmailOutput struct {
	ResponseType         string         `json:"response_type" jsonschema:"enum=draft_mail_for_approval,enum=email_summary,enum=other"`
	EmailSummaries       []EmailSummary `json:"email_summaries,omitempty"`
	DraftMailForApproval *DraftMail     `json:"draft_mail_for_approval,omitempty"`
	Other                *string        `json:"other,omitempty"`
}

// EmailSummary summarises one email.
type EmailSummary struct {
	Summary   string `json:"summary"`
	Subject   string `json:"subject"`
	FromEmail string `json:"from_email"`
}

// DraftMail is an email awaiting the user's confirmation.
type DraftMail struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// SlackOutput is the answer of the Slack agent.
type SlackOutput struct {
	ResponseType string        `json:"response_type" jsonschema:"enum=draft_message_approval,enum=other"`
	Draft        *SlackMessage `json:"draft,omitempty"`
	Other        *string       `json:"other,omitempty"`
}

// SlackMessage is a message awaiting the user's confirmation.
type SlackMessage struct {
	Message string `json:"message"`
	Channel string `json:"channel"`
}

// CalendarOutput is the answer of the Calendar agent.
type CalendarOutput struct {
	ResponseType string          `json:"response_type" jsonschema:"enum=create_event,enum=event_summary,enum=other"`
	CreateEvent  *CalendarEvent  `json:"create_event,omitempty"`
	EventSummary []CalendarEvent `json:"event_summary,omitempty"`
	Other        *string         `json:"other,omitempty"`
}

// CalendarEvent describes an event to create or an existing one.
type CalendarEvent struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
	MeetingLink *string `json:"meeting_link,omitempty"`
}

// NotionOutput is the answer of the Notion agent.
type NotionOutput struct {
	ResponseType   string  `json:"response_type" jsonschema:"enum=notion_response"`
	NotionResponse string  `json:"notion_response"`
	LinkToDocument *string `json:"link_to_document,omitempty"`
}

// WhatsappOutput is the answer of the Whatsapp agent.
type WhatsappOutput struct {
	ResponseType     string `json:"response_type" jsonschema:"enum=whatsapp_response"`
	WhatsappResponse string `json:"whatsapp_response"`
}
