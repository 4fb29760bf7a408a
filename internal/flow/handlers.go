package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/models"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/sheets"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/textnorm"
)

// handleWelcome greets the sender by profile name and shows the main
// menu. No state is stored; the menu selection creates it.
func (d *Dispatcher) handleWelcome(ctx context.Context, ev models.InboundEvent) {
	welcome := fmt.Sprintf(msgWelcome, ev.Profile.DisplayName())
	if err := d.sender.SendText(ctx, ev.From, welcome, ev.ID); err != nil {
		slog.Error("Welcome send failed", "error", err, "to", ev.From)
	}
	if err := d.sender.SendList(ctx, ev.From, msgMainMenuHeader, msgMainMenuBody, mainMenuSections); err != nil {
		slog.Error("Welcome menu send failed", "error", err, "to", ev.From)
	}
}

// handleQuestion answers a free-form question through the generative
// responder. The question step is always cleared, even on failure, so
// the sender is never left stranded.
func (d *Dispatcher) handleQuestion(ctx context.Context, ev models.InboundEvent) {
	defer d.states.Delete(ev.From)

	answer, err := d.responder.Generate(ctx, ev.Text)
	if err != nil {
		slog.Error("Question responder failed", "error", err, "from", ev.From)
		d.reply(ctx, ev.From, msgApology)
		return
	}
	d.reply(ctx, ev.From, answer)
	if err := d.sender.SendButtons(ctx, ev.From, msgQuestionFollowUp, questionFollowUpButtons); err != nil {
		slog.Error("Question follow-up send failed", "error", err, "to", ev.From)
	}
}

// handleWarranty looks up the sender's warranty record by phone
// (10 digits) or IMEI (15 digits). Invalid input re-prompts without
// touching state or the sheet; once a lookup starts, state is cleared
// no matter the outcome.
func (d *Dispatcher) handleWarranty(ctx context.Context, ev models.InboundEvent) {
	digits := textnorm.Digits(ev.Text)
	var col int
	switch len(digits) {
	case 10:
		col = sheets.ColPhone
	case 15:
		col = sheets.ColIMEI
	default:
		slog.Debug("Warranty input rejected", "from", ev.From, "len", len(digits))
		d.reply(ctx, ev.From, msgWarrantyFormatError)
		return
	}
	defer d.states.Delete(ev.From)

	rows, err := d.source.LoadSheet(ctx, sheets.SheetWarranty)
	if err != nil {
		slog.Error("Warranty sheet load failed", "error", err, "from", ev.From)
		d.reply(ctx, ev.From, msgApology)
		return
	}

	record, found := sheets.LastMatch(rows, col, digits)
	if !found {
		slog.Info("Warranty lookup miss", "from", ev.From, "column", col)
		d.reply(ctx, ev.From, fmt.Sprintf(msgWarrantyNotFound, ev.Text))
	} else {
		d.reply(ctx, ev.From, warrantyStatusMessage(record))
	}

	if err := d.sender.SendButtons(ctx, ev.From, msgFollowUpBody, followUpButtons); err != nil {
		slog.Error("Warranty follow-up send failed", "error", err, "to", ev.From)
	}
}

// warrantyStatusMessage formats a warranty record for the sender.
func warrantyStatusMessage(r sheets.Row) string {
	client := orDefault(r.Field(sheets.ColClient), "cliente")
	model := orDefault(r.Field(sheets.ColModel), "Modelo no especificado")
	imei := orDefault(r.Field(sheets.ColIMEI), "IMEI no especificado")
	status := orDefault(r.EffectiveStatus(), "Estado no disponible")
	return fmt.Sprintf("✨ *Estimad@ %s* ✨\n\n"+
		"📱 *Equipo en garantía:* \"%s\"\n"+
		"🔄 *IMEI:* \"%s\"\n\n"+
		"🔄 *Último estado:* \"%s\"\n\n"+
		"ℹ️ Para más información o asistencia, no dudes en responder a este mensaje.\n\n"+
		"_¡Gracias por confiar en nuestro servicio!_\n"+
		"🔧 Tecnología Inalámbrica del Istmo", client, model, imei, status)
}

// handleContactAdvisor looks up the record for the given phone and
// notifies the fixed warranty advisor. State is cleared on every path
// past validation.
func (d *Dispatcher) handleContactAdvisor(ctx context.Context, ev models.InboundEvent) {
	defer d.states.Delete(ev.From)

	digits := textnorm.Digits(ev.Text)
	rows, err := d.source.LoadSheet(ctx, sheets.SheetWarranty)
	if err != nil {
		slog.Error("Advisor sheet load failed", "error", err, "from", ev.From)
		d.reply(ctx, ev.From, msgApology)
		return
	}

	record, found := sheets.LastMatch(rows, sheets.ColPhone, digits)
	if !found {
		d.reply(ctx, ev.From, fmt.Sprintf(msgWarrantyNotFound, ev.Text))
	} else {
		notice := fmt.Sprintf("El usuario %s con equipo %s e IMEI %s quiere contactar un asesor "+
			"para resolver dudas, llámalo al %s",
			record.Field(sheets.ColClient), record.Field(sheets.ColModel),
			record.Field(sheets.ColIMEI), callbackNumber(ev.From))
		if err := d.sender.SendText(ctx, d.cfg.AdvisorPhone, notice, ""); err != nil {
			slog.Error("Advisor hand-off notification failed", "error", err, "from", ev.From)
			d.reply(ctx, ev.From, msgApology)
			return
		}
		d.reply(ctx, ev.From, msgAdvisorConfirm)
	}

	if err := d.sender.SendButtons(ctx, ev.From, msgFollowUpBody, followUpButtons); err != nil {
		slog.Error("Advisor follow-up send failed", "error", err, "to", ev.From)
	}
}

// handlePromotion sends a promotion's image and body plus the
// post-promotion menu, and records the selection in state.
func (d *Dispatcher) handlePromotion(ctx context.Context, ev models.InboundEvent, promo models.Promotion) {
	slog.Info("Promotion selected", "from", ev.From, "promotion", promo.ID)
	if promo.ImageURL != "" {
		if err := d.sender.SendImage(ctx, ev.From, promo.ImageURL); err != nil {
			// Body text still goes out when the image fails.
			slog.Error("Promotion image send failed", "error", err, "to", ev.From, "promotion", promo.ID)
		}
	}
	d.reply(ctx, ev.From, promo.Body)
	if err := d.sender.SendButtons(ctx, ev.From, msgPostPromotionBody, postPromotionButtons); err != nil {
		slog.Error("Promotion menu send failed", "error", err, "to", ev.From)
	}

	next := models.ConversationState{Step: models.StepPostPromotion, PromotionType: promo.ID, Source: models.SourceOrganic}
	if prev, ok := d.states.Get(ev.From); ok && prev.Source == models.SourcePublicity {
		next.Source = models.SourcePublicity
	}
	d.states.Set(ev.From, next)
}

// handleNameCapture validates the captured full name and notifies the
// advisor list. A valid name always leaves the capture step; an
// invalid one re-prompts with state unchanged.
func (d *Dispatcher) handleNameCapture(ctx context.Context, ev models.InboundEvent, state models.ConversationState) {
	name := strings.TrimSpace(ev.Text)
	if len(strings.Fields(name)) < 2 || textnorm.IsGreeting(name) {
		slog.Debug("Name capture rejected", "from", ev.From)
		d.reply(ctx, ev.From, msgNameInvalid)
		return
	}

	// The capture step is left behind before any external call so a
	// failed notification cannot strand the sender here.
	d.states.Delete(ev.From)

	notice := advisorLeadNotice(name, ev.From, state)
	if err := d.notifyAdvisors(ctx, notice); err != nil {
		slog.Error("Name capture advisor notification failed", "error", err, "from", ev.From)
		d.reply(ctx, ev.From, msgApology)
		return
	}

	d.reply(ctx, ev.From, msgAdvisorConfirm)
	d.states.Set(ev.From, models.ConversationState{
		Step:          models.StepPostAdvisorContact,
		PromotionType: state.PromotionType,
		Source:        state.Source,
	})
}

// advisorLeadNotice formats the captured-name notification with its
// promotion context.
func advisorLeadNotice(name, from string, state models.ConversationState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📣 Nuevo interesado: *%s* (tel. %s)", name, callbackNumber(from))
	if state.PromotionType != "" {
		if promo, ok := promotionByType(state.PromotionType); ok {
			fmt.Fprintf(&b, "\nPromoción: %s", promo.Title)
		} else {
			fmt.Fprintf(&b, "\nPromoción: %s", state.PromotionType)
		}
	}
	if state.Source == models.SourcePublicity {
		b.WriteString("\nOrigen: campaña de publicidad")
	} else {
		b.WriteString("\nOrigen: menú de promociones")
	}
	return b.String()
}

// callbackNumber rewrites a WhatsApp sender id into a dialable Mexican
// number (521... -> 52...).
func callbackNumber(from string) string {
	if strings.HasPrefix(from, "521") {
		return "52" + from[3:]
	}
	return from
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
