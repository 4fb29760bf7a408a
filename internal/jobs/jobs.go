// Package jobs implements the scheduled batch-notification engine.
//
// Each notification type is an independent job on a fixed daily cron
// trigger. A run loads its sheet, filters rows by a target date,
// validates each row, and emits one templated message per matching
// row. A row failure is logged and skipped; it never aborts the batch.
// Jobs do not deduplicate across runs: re-running a job for the same
// date resends to all matching rows (at-most-daily, not exactly-once).
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/models"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/scheduler"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/sheets"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/store"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/textnorm"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/whatsapp"
)

// dateLayout matches the date column written by the sheet operators.
const dateLayout = "2006-01-02"

// Publicity sheet column positions.
const (
	pubColDate      = 0
	pubColPhone     = 1
	pubColName      = 2
	pubColPromo     = 3
	pubColImage     = 4
	pubColContacted = 5
)

// Reminder sheet column positions.
const (
	remColDate   = 0
	remColPhone  = 1
	remColName   = 2
	remColAmount = 3
)

// Config carries the cron triggers and template names for each job.
type Config struct {
	WarrantyCron  string // warranty status updates, target = today
	SurveyCron    string // satisfaction survey, target = today - 2d
	ReminderCron  string // payment reminder, target = today - 1d
	PublicityCron string // promotional blast, all uncontacted rows

	SurveyTemplate    string
	ReminderTemplate  string
	PublicityTemplate string
	TemplateLanguage  string
}

// DefaultConfig returns the production trigger times (17:10 warranty,
// 11:00 survey, 10:00 reminder, 09:00 publicity) and template names.
func DefaultConfig() Config {
	return Config{
		WarrantyCron:      "10 17 * * *",
		SurveyCron:        "0 11 * * *",
		ReminderCron:      "0 10 * * *",
		PublicityCron:     "0 9 * * *",
		SurveyTemplate:    "encuesta_satisfaccion",
		ReminderTemplate:  "recordatorio_pago",
		PublicityTemplate: "promo_general",
		TemplateLanguage:  "es_MX",
	}
}

// Engine runs the scheduled notification jobs against the tabular
// source and the outbound sender. Jobs run on independent timers and
// may overlap with live conversation handling; no mutual exclusion is
// provided.
type Engine struct {
	source sheets.Source
	sender whatsapp.Sender
	states store.StateStore
	cfg    Config
	now    func() time.Time
}

// NewEngine creates a notification engine. The states store is seeded
// by the publicity blast so replies from contacted numbers enter the
// post-publicity flow.
func NewEngine(source sheets.Source, sender whatsapp.Sender, states store.StateStore, cfg Config) *Engine {
	return &Engine{source: source, sender: sender, states: states, cfg: cfg, now: time.Now}
}

// Register adds all four daily jobs to the scheduler.
func (e *Engine) Register(s *scheduler.Scheduler) error {
	entries := []struct {
		name string
		expr string
		run  func(context.Context) (int, error)
	}{
		{"warranty_updates", e.cfg.WarrantyCron, e.RunWarrantyUpdates},
		{"satisfaction_survey", e.cfg.SurveyCron, e.RunSatisfactionSurveys},
		{"payment_reminder", e.cfg.ReminderCron, e.RunPaymentReminders},
		{"publicity_blast", e.cfg.PublicityCron, e.RunPublicityBlast},
	}
	for _, entry := range entries {
		run := entry.run
		name := entry.name
		if err := s.AddJob(entry.expr, func() {
			sent, err := run(context.Background())
			if err != nil {
				slog.Error("Scheduled job failed", "job", name, "error", err)
				return
			}
			slog.Info("Scheduled job completed", "job", name, "sent", sent)
		}); err != nil {
			return fmt.Errorf("jobs: register %s: %w", entry.name, err)
		}
	}
	return nil
}

// RunWarrantyUpdates messages every client whose warranty row was
// updated today with the record's effective status.
func (e *Engine) RunWarrantyUpdates(ctx context.Context) (int, error) {
	rows, err := e.source.LoadSheet(ctx, sheets.SheetWarranty)
	if err != nil {
		return 0, fmt.Errorf("jobs: warranty updates: %w", err)
	}
	target := e.now().Format(dateLayout)
	sent := 0
	for _, row := range rows {
		if !strings.Contains(row.Field(sheets.ColDate), target) {
			continue
		}
		phone := row.Field(sheets.ColPhone)
		name := row.Field(sheets.ColClient)
		imei := row.Field(sheets.ColIMEI)
		model := row.Field(sheets.ColModel)
		status := row.EffectiveStatus()
		if phone == "" || name == "" || model == "" || imei == "" || status == "" {
			slog.Warn("Warranty update row incomplete, skipped", "row", row.Number, "fields", row.Fields)
			continue
		}
		body := fmt.Sprintf("✨ *Estimad@ %s* ✨\n"+
			"Tenemos una actualización para el estatus de tu equipo:\n\n"+
			"📱 *Equipo en garantía:* \"%s\"\n\n"+
			"*IMEI:* \"%s\"\n\n"+
			"🔄 *Estado de garantía:* \"%s\"\n\n"+
			"ℹ️ Para más información o asistencia, no dudes en responder a este mensaje.\n"+
			"_¡Gracias por confiar en nuestro servicio!_ 🔧 Tecnología Inalámbrica del Istmo",
			name, model, imei, status)
		if err := e.sender.SendText(ctx, recipientNumber(phone), body, ""); err != nil {
			slog.Error("Warranty update send failed", "row", row.Number, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// RunSatisfactionSurveys sends the survey template to clients served
// two days ago, leaving time for the repair to be picked up.
func (e *Engine) RunSatisfactionSurveys(ctx context.Context) (int, error) {
	rows, err := e.source.LoadSheet(ctx, sheets.SheetSurvey)
	if err != nil {
		return 0, fmt.Errorf("jobs: satisfaction surveys: %w", err)
	}
	target := e.now().AddDate(0, 0, -2).Format(dateLayout)
	sent := 0
	for _, row := range rows {
		if !strings.Contains(row.Field(sheets.ColDate), target) {
			continue
		}
		phone := row.Field(sheets.ColPhone)
		name := row.Field(sheets.ColClient)
		if phone == "" || name == "" {
			slog.Warn("Survey row incomplete, skipped", "row", row.Number, "fields", row.Fields)
			continue
		}
		tpl := whatsapp.Template{
			Name:         e.cfg.SurveyTemplate,
			LanguageCode: e.cfg.TemplateLanguage,
			BodyParams:   []string{name},
			FlowButton:   true,
		}
		if err := e.sender.SendTemplate(ctx, recipientNumber(phone), tpl); err != nil {
			slog.Error("Survey send failed", "row", row.Number, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// RunPaymentReminders sends the reminder template for rows dated
// yesterday, accounting for the operators' processing lag.
func (e *Engine) RunPaymentReminders(ctx context.Context) (int, error) {
	rows, err := e.source.LoadSheet(ctx, sheets.SheetReminders)
	if err != nil {
		return 0, fmt.Errorf("jobs: payment reminders: %w", err)
	}
	target := e.now().AddDate(0, 0, -1).Format(dateLayout)
	sent := 0
	for _, row := range rows {
		if !strings.Contains(row.Field(remColDate), target) {
			continue
		}
		phone := row.Field(remColPhone)
		name := row.Field(remColName)
		amount := row.Field(remColAmount)
		if phone == "" || name == "" || amount == "" {
			slog.Warn("Reminder row incomplete, skipped", "row", row.Number, "fields", row.Fields)
			continue
		}
		tpl := whatsapp.Template{
			Name:         e.cfg.ReminderTemplate,
			LanguageCode: e.cfg.TemplateLanguage,
			BodyParams:   []string{name, amount},
		}
		if err := e.sender.SendTemplate(ctx, recipientNumber(phone), tpl); err != nil {
			slog.Error("Reminder send failed", "row", row.Number, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// RunPublicityBlast sends the promotional template to every row not
// yet marked contacted, marks the row, and seeds post-publicity state
// so a reply from the recipient routes into the interest flow.
func (e *Engine) RunPublicityBlast(ctx context.Context) (int, error) {
	rows, err := e.source.LoadSheet(ctx, sheets.SheetPublicity)
	if err != nil {
		return 0, fmt.Errorf("jobs: publicity blast: %w", err)
	}
	sent := 0
	for _, row := range rows {
		if row.Field(pubColContacted) != "" {
			continue
		}
		phone := row.Field(pubColPhone)
		name := row.Field(pubColName)
		if phone == "" || name == "" {
			slog.Warn("Publicity row incomplete, skipped", "row", row.Number, "fields", row.Fields)
			continue
		}
		to := recipientNumber(phone)
		tpl := whatsapp.Template{
			Name:         e.cfg.PublicityTemplate,
			LanguageCode: e.cfg.TemplateLanguage,
			BodyParams:   []string{name},
			HeaderImage:  row.Field(pubColImage),
		}
		if err := e.sender.SendTemplate(ctx, to, tpl); err != nil {
			slog.Error("Publicity send failed", "row", row.Number, "error", err)
			continue
		}

		fields := make([]string, max(len(row.Fields), pubColContacted+1))
		copy(fields, row.Fields)
		fields[pubColContacted] = "ENVIADO " + e.now().Format(dateLayout)
		if err := e.source.UpdateRow(ctx, sheets.SheetPublicity, row.Number, fields); err != nil {
			// The message went out; an unmarked row means a resend on
			// the next run, which the at-most-daily guarantee allows.
			slog.Error("Publicity row mark failed", "row", row.Number, "error", err)
		}

		e.states.Set(to, models.ConversationState{
			Step:          models.StepPostPublicity,
			PromotionType: row.Field(pubColPromo),
			Source:        models.SourcePublicity,
		})
		sent++
	}
	return sent, nil
}

// recipientNumber turns a 10-digit local number from a sheet into a
// WhatsApp recipient id with the country prefix.
func recipientNumber(phone string) string {
	digits := textnorm.Digits(phone)
	if len(digits) == 10 {
		return "52" + digits
	}
	return digits
}
