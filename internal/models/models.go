// Package models defines the core data structures for the bot.
//
// It includes the inbound event envelope, conversation state types, and
// the error variables shared across modules.
package models

import (
	"errors"
	"time"
)

// EventType identifies the kind of inbound WhatsApp event.
type EventType string

const (
	// EventTypeText is a plain text message from the sender.
	EventTypeText EventType = "text"
	// EventTypeInteractive is a button or list reply.
	EventTypeInteractive EventType = "interactive"
	// EventTypeSurveyReply is a WhatsApp Flow (NFM) completion payload
	// carrying the answers of a satisfaction survey.
	EventTypeSurveyReply EventType = "nfm_reply"
)

// Validation constants enforced before calling the Cloud API.
const (
	// MaxBodyLength is the maximum body text length accepted by the Cloud API.
	MaxBodyLength = 1024
	// MaxButtonTitleLength is the maximum length for a button title.
	MaxButtonTitleLength = 20
	// MaxButtonIDLength is the maximum length for a button id.
	MaxButtonIDLength = 256
	// MaxButtons is the maximum number of reply buttons per message.
	MaxButtons = 3
)

// Error variables for better error handling and testability.
var (
	ErrEmptyRecipient      = errors.New("recipient cannot be empty")
	ErrEmptyBody           = errors.New("body cannot be empty")
	ErrInvalidPhoneLength  = errors.New("input must be a 10 digit phone or 15 digit IMEI")
	ErrInvalidName         = errors.New("name must have at least two words and not be a greeting")
	ErrRecordNotFound      = errors.New("no warranty record matches the given identifier")
	ErrUnknownOption       = errors.New("interactive selection matches no configured action")
	ErrMissingTemplateName = errors.New("template name and language code are required")
)

// SenderProfile carries the contact information delivered with a webhook event.
type SenderProfile struct {
	Name string `json:"name,omitempty"`
	WaID string `json:"wa_id,omitempty"`
}

// DisplayName returns the best available name for greeting the sender.
func (p SenderProfile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.WaID != "" {
		return p.WaID
	}
	return "Usuario TII"
}

// InteractiveReply holds the selection of a button or list reply.
type InteractiveReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// InboundEvent is a single inbound message as delivered by the channel.
// ID is unique per delivery attempt; the same logical event may be
// redelivered with the same ID.
type InboundEvent struct {
	ID          string            `json:"id"`
	From        string            `json:"from"`
	Type        EventType         `json:"type"`
	Text        string            `json:"text,omitempty"`
	Interactive *InteractiveReply `json:"interactive,omitempty"`
	SurveyJSON  string            `json:"survey_json,omitempty"`
	Profile     SenderProfile     `json:"profile,omitempty"`
}

// Step is the position of a sender within the dialog state machine.
type Step string

const (
	// StepQuestion awaits a free-form question for the generative responder.
	StepQuestion Step = "question"
	// StepWarranty awaits a phone or IMEI for a warranty lookup.
	StepWarranty Step = "warranty"
	// StepContactAdvisor awaits a phone number to hand to an advisor.
	StepContactAdvisor Step = "contact_advisor"
	// StepCaptureName awaits the sender's full name.
	StepCaptureName Step = "capture_name"
	// StepPostPromotion follows a promotion send; the sender is choosing
	// between more info and terminating.
	StepPostPromotion Step = "post_promotion"
	// StepPostAdvisorContact follows a successful advisor notification.
	StepPostAdvisorContact Step = "post_advisor_contact"
	// StepPostPublicity is seeded by the publicity blast so replies from
	// contacted numbers route into the interest flow.
	StepPostPublicity Step = "post_publicity"
)

// Source records how a sender entered the promotion funnel.
type Source string

const (
	// SourceOrganic means the sender browsed promotions from the menu.
	SourceOrganic Source = "organic"
	// SourcePublicity means the sender was reached by the publicity blast.
	SourcePublicity Source = "publicity"
)

// ConversationState is the per-sender dialog position with its context.
// Absence of a state means the sender is idle.
type ConversationState struct {
	Step          Step      `json:"step"`
	PromotionType string    `json:"promotion_type,omitempty"`
	Source        Source    `json:"source,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Button is a single reply button for an interactive message.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListRow is one selectable row inside a list message section.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups rows under a section title in a list message.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// Promotion is a static catalog entry selectable by id or keyword.
type Promotion struct {
	ID       string
	Title    string
	Body     string
	ImageURL string
}

// SurveyResponse holds parsed answers of a satisfaction survey flow.
type SurveyResponse struct {
	Rating    string `json:"calificacion,omitempty"`
	Attention string `json:"atencion,omitempty"`
	Comments  string `json:"comentarios,omitempty"`
	FlowToken string `json:"flow_token,omitempty"`
}
