package flow

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/models"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/sheets"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/textnorm"
)

// Survey sheet answer column positions (after date, phone, name).
const (
	surveyColRating    = 3
	surveyColAttention = 4
	surveyColComments  = 5
)

// handleSurveyReply ingests a completed satisfaction survey. It is
// exempt from the message dedup ledger; its idempotency is overwrite
// semantics: a redelivered submission rewrites the same row with the
// same answers, so the sheet always holds the latest response per
// client. No conversation state changes here.
func (d *Dispatcher) handleSurveyReply(ctx context.Context, ev models.InboundEvent) {
	var resp models.SurveyResponse
	if err := json.Unmarshal([]byte(ev.SurveyJSON), &resp); err != nil {
		slog.Error("Survey payload parse failed", "error", err, "from", ev.From)
		return
	}
	slog.Info("Survey response received", "from", ev.From, "rating", resp.Rating)

	if err := d.persistSurvey(ctx, ev.From, resp); err != nil {
		// The sender still gets thanked; the row write is retried on
		// the next redelivery, if any.
		slog.Error("Survey persistence failed", "error", err, "from", ev.From)
	}
	d.reply(ctx, ev.From, msgSurveyThanks)
}

// persistSurvey matches the sender's phone against the survey sheet
// and writes the answers into the row's trailing answer columns.
func (d *Dispatcher) persistSurvey(ctx context.Context, from string, resp models.SurveyResponse) error {
	rows, err := d.source.LoadSheet(ctx, sheets.SheetSurvey)
	if err != nil {
		return err
	}

	phone := localPhone(from)
	row, found := sheets.LastMatch(rows, sheets.ColPhone, phone)
	if !found {
		slog.Warn("Survey response with no matching row", "from", from)
		return nil
	}

	fields := make([]string, max(len(row.Fields), surveyColComments+1))
	copy(fields, row.Fields)
	fields[surveyColRating] = resp.Rating
	fields[surveyColAttention] = resp.Attention
	fields[surveyColComments] = resp.Comments
	return d.source.UpdateRow(ctx, sheets.SheetSurvey, row.Number, fields)
}

// localPhone reduces a WhatsApp sender id to the 10-digit local number
// stored in the sheets.
func localPhone(from string) string {
	digits := textnorm.Digits(from)
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}
