// Package flow implements the per-sender conversation state machine:
// the dialog router that classifies inbound events and the flow
// handlers bound to each dialog step.
package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/genai"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/models"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/sheets"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/store"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/textnorm"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/whatsapp"
)

// Config holds the fixed identities and paths the handlers depend on.
type Config struct {
	// AdvisorPhone receives warranty hand-off requests.
	AdvisorPhone string
	// Advisors all receive the captured-name notification.
	Advisors []string
}

// Dispatcher routes inbound events to flow handlers. Events are
// processed one at a time in arrival order; handlers may block on
// external I/O.
type Dispatcher struct {
	states    store.StateStore
	messages  *store.DedupLedger
	options   *store.DedupLedger
	sender    whatsapp.Sender
	source    sheets.Source
	responder genai.Responder
	cfg       Config
}

// NewDispatcher wires a dispatcher with its collaborators.
func NewDispatcher(states store.StateStore, messages, options *store.DedupLedger,
	sender whatsapp.Sender, source sheets.Source, responder genai.Responder, cfg Config) *Dispatcher {
	return &Dispatcher{
		states:    states,
		messages:  messages,
		options:   options,
		sender:    sender,
		source:    source,
		responder: responder,
		cfg:       cfg,
	}
}

// Dispatch processes one inbound event. Every event, regardless of
// branch, is acknowledged (marked read) exactly once on the way out.
// Failures are contained here; nothing escapes to the transport.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.InboundEvent) {
	defer d.ack(ctx, ev.ID)

	// Survey completions ride a side channel: they bypass the message
	// ledger and carry their own idempotency (overwrite semantics).
	if ev.Type == models.EventTypeSurveyReply {
		d.handleSurveyReply(ctx, ev)
		return
	}

	if !d.messages.Record(ev.ID) {
		slog.Debug("Dispatcher dropped redelivered event", "id", ev.ID, "from", ev.From)
		return
	}

	switch ev.Type {
	case models.EventTypeText:
		d.dispatchText(ctx, ev)
	case models.EventTypeInteractive:
		if ev.Interactive == nil {
			slog.Warn("Dispatcher interactive event without selection", "id", ev.ID)
			return
		}
		if !d.options.Record(ev.ID) {
			slog.Debug("Dispatcher dropped reprocessed option", "id", ev.ID, "from", ev.From)
			return
		}
		d.handleMenuOption(ctx, ev)
	default:
		slog.Debug("Dispatcher ignoring unsupported event type", "id", ev.ID, "type", ev.Type)
	}
}

// dispatchText routes a free-text message: greetings restart the
// welcome flow; otherwise the sender's current step decides. Text in
// an unrecognized state is silently dropped.
func (d *Dispatcher) dispatchText(ctx context.Context, ev models.InboundEvent) {
	if textnorm.IsGreeting(ev.Text) {
		d.handleWelcome(ctx, ev)
		return
	}

	state, ok := d.states.Get(ev.From)
	if !ok {
		slog.Debug("Dispatcher text with no active step dropped", "from", ev.From)
		return
	}
	switch state.Step {
	case models.StepQuestion:
		d.handleQuestion(ctx, ev)
	case models.StepWarranty:
		d.handleWarranty(ctx, ev)
	case models.StepContactAdvisor:
		d.handleContactAdvisor(ctx, ev)
	case models.StepCaptureName:
		d.handleNameCapture(ctx, ev, state)
	default:
		slog.Debug("Dispatcher text in non-text step dropped", "from", ev.From, "step", state.Step)
	}
}

// handleMenuOption resolves an interactive selection: promotion
// catalog first, then the keyword-alias table. Unmatched selections
// get a generic reply.
func (d *Dispatcher) handleMenuOption(ctx context.Context, ev models.InboundEvent) {
	label := ev.Interactive.Title
	if label == "" {
		label = ev.Interactive.ID
	}
	normalized := textnorm.Normalize(label)
	slog.Debug("Dispatcher menu option", "from", ev.From, "option", normalized)

	if promo, ok := promotionFor(ev.Interactive.ID, normalized); ok {
		d.handlePromotion(ctx, ev, promo)
		return
	}

	act, ok := matchAction(normalized)
	if !ok {
		slog.Info("Dispatcher unrecognized option", "from", ev.From, "option", normalized)
		d.reply(ctx, ev.From, msgUnknownOption)
		return
	}

	switch act {
	case actionQuestion:
		d.reply(ctx, ev.From, msgAskQuestion)
		d.states.Set(ev.From, models.ConversationState{Step: models.StepQuestion})
	case actionWarranty:
		d.reply(ctx, ev.From, msgAskWarrantyPhone)
		d.states.Set(ev.From, models.ConversationState{Step: models.StepWarranty})
	case actionAdvisor:
		d.reply(ctx, ev.From, msgAskAdvisorPhone)
		d.states.Set(ev.From, models.ConversationState{Step: models.StepContactAdvisor})
	case actionPromotions:
		if err := d.sender.SendList(ctx, ev.From, "🎉 Promociones", "Estas son nuestras promociones vigentes:", promotionListSections()); err != nil {
			slog.Error("Dispatcher promotion list send failed", "error", err, "to", ev.From)
		}
	case actionMoreInfo:
		d.handleMoreInfo(ctx, ev)
	case actionTerminate:
		d.reply(ctx, ev.From, msgClosing)
		d.states.Delete(ev.From)
	}
}

// handleMoreInfo moves the sender into name capture, carrying over the
// promotion context accumulated so far.
func (d *Dispatcher) handleMoreInfo(ctx context.Context, ev models.InboundEvent) {
	next := models.ConversationState{Step: models.StepCaptureName, Source: models.SourceOrganic}
	if prev, ok := d.states.Get(ev.From); ok {
		next.PromotionType = prev.PromotionType
		if prev.Source != "" {
			next.Source = prev.Source
		}
	}
	d.reply(ctx, ev.From, msgAskFullName)
	d.states.Set(ev.From, next)
}

// reply sends a plain text message, logging rather than propagating
// failures: a failed send never breaks dispatch.
func (d *Dispatcher) reply(ctx context.Context, to, body string) {
	if err := d.sender.SendText(ctx, to, body, ""); err != nil {
		slog.Error("Dispatcher send failed", "error", err, "to", to)
	}
}

// ack marks the event read. Acknowledgment failures are logged only.
func (d *Dispatcher) ack(ctx context.Context, messageID string) {
	if err := d.sender.MarkRead(ctx, messageID); err != nil {
		slog.Error("Dispatcher mark-read failed", "error", err, "id", messageID)
	}
}

// notifyAdvisors sends one notification per configured advisor and
// returns an error only when every send failed.
func (d *Dispatcher) notifyAdvisors(ctx context.Context, body string) error {
	if len(d.cfg.Advisors) == 0 {
		return fmt.Errorf("flow: no advisors configured")
	}
	failed := 0
	for _, advisor := range d.cfg.Advisors {
		if err := d.sender.SendText(ctx, advisor, body, ""); err != nil {
			slog.Error("Dispatcher advisor notification failed", "error", err, "advisor", advisor)
			failed++
		}
	}
	if failed == len(d.cfg.Advisors) {
		return fmt.Errorf("flow: all %d advisor notifications failed", failed)
	}
	return nil
}
