package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/models"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/sheets"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/store"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/whatsapp"
)

const (
	testSender  = "529711234567"
	testAdvisor = "5219711374858"
)

type sentMessage struct {
	kind    string
	to      string
	body    string
	buttons []models.Button
	tpl     whatsapp.Template
}

type fakeSender struct {
	sent     []sentMessage
	reads    []string
	failText bool
}

func (f *fakeSender) SendText(ctx context.Context, to, body, replyToID string) error {
	if f.failText {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, sentMessage{kind: "text", to: to, body: body})
	return nil
}

func (f *fakeSender) SendImage(ctx context.Context, to, imageURL string) error {
	f.sent = append(f.sent, sentMessage{kind: "image", to: to, body: imageURL})
	return nil
}

func (f *fakeSender) SendButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	f.sent = append(f.sent, sentMessage{kind: "buttons", to: to, body: body, buttons: buttons})
	return nil
}

func (f *fakeSender) SendList(ctx context.Context, to, header, body string, sections []models.ListSection) error {
	f.sent = append(f.sent, sentMessage{kind: "list", to: to, body: body})
	return nil
}

func (f *fakeSender) SendTemplate(ctx context.Context, to string, tpl whatsapp.Template) error {
	f.sent = append(f.sent, sentMessage{kind: "template", to: to, tpl: tpl})
	return nil
}

func (f *fakeSender) MarkRead(ctx context.Context, messageID string) error {
	f.reads = append(f.reads, messageID)
	return nil
}

// textsTo returns the text bodies sent to a recipient.
func (f *fakeSender) textsTo(to string) []string {
	var out []string
	for _, m := range f.sent {
		if m.kind == "text" && m.to == to {
			out = append(out, m.body)
		}
	}
	return out
}

type updateCall struct {
	sheet  int
	row    int
	fields []string
}

type fakeSource struct {
	rows    map[int][]sheets.Row
	loadErr error
	loads   int
	updates []updateCall
}

func (f *fakeSource) LoadSheet(ctx context.Context, index int) ([]sheets.Row, error) {
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.rows[index], nil
}

func (f *fakeSource) UpdateRow(ctx context.Context, sheetIndex, rowNumber int, fields []string) error {
	f.updates = append(f.updates, updateCall{sheet: sheetIndex, row: rowNumber, fields: fields})
	return nil
}

type fakeResponder struct {
	answer string
	err    error
}

func (f *fakeResponder) Generate(ctx context.Context, question string) (string, error) {
	return f.answer, f.err
}

func newTestDispatcher(src *fakeSource, snd *fakeSender, resp *fakeResponder) (*Dispatcher, *store.InMemoryStateStore) {
	if src.rows == nil {
		src.rows = map[int][]sheets.Row{}
	}
	states := store.NewInMemoryStateStore()
	d := NewDispatcher(states, store.NewDedupLedger("messages"), store.NewDedupLedger("options"),
		snd, src, resp, Config{
			AdvisorPhone: testAdvisor,
			Advisors:     []string{"5215550000001", "5215550000002"},
		})
	return d, states
}

func textEvent(id, text string) models.InboundEvent {
	return models.InboundEvent{
		ID:      id,
		From:    testSender,
		Type:    models.EventTypeText,
		Text:    text,
		Profile: models.SenderProfile{Name: "Juan", WaID: testSender},
	}
}

func optionEvent(id, optionID, title string) models.InboundEvent {
	return models.InboundEvent{
		ID:          id,
		From:        testSender,
		Type:        models.EventTypeInteractive,
		Interactive: &models.InteractiveReply{ID: optionID, Title: title},
	}
}

func TestGreetingSendsWelcomeAndMenu(t *testing.T) {
	snd := &fakeSender{}
	d, states := newTestDispatcher(&fakeSource{}, snd, &fakeResponder{})

	d.Dispatch(context.Background(), textEvent("wamid.1", "hola"))

	if len(snd.sent) != 2 {
		t.Fatalf("expected welcome + menu, got %d messages", len(snd.sent))
	}
	if !strings.Contains(snd.sent[0].body, "Juan") {
		t.Errorf("welcome should address the sender by name, got %q", snd.sent[0].body)
	}
	if snd.sent[1].kind != "list" {
		t.Errorf("expected main menu list, got %q", snd.sent[1].kind)
	}
	if len(snd.reads) != 1 || snd.reads[0] != "wamid.1" {
		t.Errorf("expected exactly one read ack, got %v", snd.reads)
	}
	if _, ok := states.Get(testSender); ok {
		t.Error("greeting must not store conversation state")
	}
}

func TestRedeliveredEventProducesOneSideEffect(t *testing.T) {
	snd := &fakeSender{}
	d, _ := newTestDispatcher(&fakeSource{}, snd, &fakeResponder{})

	ev := textEvent("wamid.dup", "hola")
	d.Dispatch(context.Background(), ev)
	sentAfterFirst := len(snd.sent)
	d.Dispatch(context.Background(), ev)

	if len(snd.sent) != sentAfterFirst {
		t.Errorf("redelivery produced extra sends: %d -> %d", sentAfterFirst, len(snd.sent))
	}
	// Acknowledgment still happens per delivery attempt.
	if len(snd.reads) != 2 {
		t.Errorf("expected both deliveries acknowledged, got %d", len(snd.reads))
	}
}

func TestMenuOptionStartsWarrantyFlow(t *testing.T) {
	snd := &fakeSender{}
	d, states := newTestDispatcher(&fakeSource{}, snd, &fakeResponder{})

	d.Dispatch(context.Background(), optionEvent("wamid.2", "garantia", "Seguimiento Garantía"))

	st, ok := states.Get(testSender)
	if !ok || st.Step != models.StepWarranty {
		t.Fatalf("expected warranty step, got %+v (ok=%v)", st, ok)
	}
	if texts := snd.textsTo(testSender); len(texts) != 1 || texts[0] != msgAskWarrantyPhone {
		t.Errorf("expected warranty prompt, got %v", texts)
	}
}

func TestUnrecognizedOptionGetsGenericReply(t *testing.T) {
	snd := &fakeSender{}
	d, states := newTestDispatcher(&fakeSource{}, snd, &fakeResponder{})

	d.Dispatch(context.Background(), optionEvent("wamid.3", "zzz", "algo raro"))

	if texts := snd.textsTo(testSender); len(texts) != 1 || texts[0] != msgUnknownOption {
		t.Errorf("expected unknown-option reply, got %v", texts)
	}
	if _, ok := states.Get(testSender); ok {
		t.Error("unrecognized option must not create state")
	}
}

func warrantyRows() []sheets.Row {
	return []sheets.Row{
		{Number: 2, Fields: []string{"2025-03-01", "9711234567", "Juan Pérez", "490154203237518", "Moto G", "", "En revisión", ""}},
		{Number: 3, Fields: []string{"2025-03-02", "9715555555", "Ana Cruz", "521971123456789", "iPhone 12", "Recibido"}},
		{Number: 4, Fields: []string{"2025-03-05", "9711234567", "Juan Pérez", "490154203237518", "Moto G", "Entregado"}},
	}
}

func TestWarrantyLookupByPhoneUsesLastMatch(t *testing.T) {
	snd := &fakeSender{}
	src := &fakeSource{rows: map[int][]sheets.Row{sheets.SheetWarranty: warrantyRows()}}
	d, states := newTestDispatcher(src, snd, &fakeResponder{})
	states.Set(testSender, models.ConversationState{Step: models.StepWarranty})

	d.Dispatch(context.Background(), textEvent("wamid.4", "971-123-4567"))

	texts := snd.textsTo(testSender)
	if len(texts) != 1 {
		t.Fatalf("expected one status reply, got %v", texts)
	}
	if !strings.Contains(texts[0], "Entregado") {
		t.Errorf("expected status of the most recent row, got %q", texts[0])
	}
	if _, ok := states.Get(testSender); ok {
		t.Error("warranty state must be cleared after lookup")
	}
	last := snd.sent[len(snd.sent)-1]
	if last.kind != "buttons" || last.body != msgFollowUpBody {
		t.Errorf("expected follow-up menu last, got %+v", last)
	}
}

func TestWarrantyLookupByIMEIMatchesIMEIColumnOnly(t *testing.T) {
	// A 15-digit input must match the IMEI field even when another
	// row carries the same digits in its phone column.
	rows := []sheets.Row{
		{Number: 2, Fields: []string{"2025-03-01", "521971123456789", "Tramposo", "000000000000000", "Nokia", "Rechazado"}},
		{Number: 3, Fields: []string{"2025-03-02", "9715555555", "Ana Cruz", "521971123456789", "iPhone 12", "Recibido"}},
	}
	snd := &fakeSender{}
	src := &fakeSource{rows: map[int][]sheets.Row{sheets.SheetWarranty: rows}}
	d, _ := newTestDispatcher(src, snd, &fakeResponder{})
	d.states.Set(testSender, models.ConversationState{Step: models.StepWarranty})

	d.Dispatch(context.Background(), textEvent("wamid.5", "521971123456789"))

	texts := snd.textsTo(testSender)
	if len(texts) != 1 || !strings.Contains(texts[0], "Recibido") {
		t.Errorf("expected the IMEI row's status, got %v", texts)
	}
	if strings.Contains(texts[0], "Rechazado") {
		t.Error("15-digit input must not match the phone column")
	}
}

func TestWarrantyInvalidLengthRejectedBeforeLookup(t *testing.T) {
	snd := &fakeSender{}
	src := &fakeSource{rows: map[int][]sheets.Row{sheets.SheetWarranty: warrantyRows()}}
	d, states := newTestDispatcher(src, snd, &fakeResponder{})
	states.Set(testSender, models.ConversationState{Step: models.StepWarranty})

	d.Dispatch(context.Background(), textEvent("wamid.6", "12345"))

	if src.loads != 0 {
		t.Errorf("invalid input must be rejected before any sheet read, got %d loads", src.loads)
	}
	if texts := snd.textsTo(testSender); len(texts) != 1 || texts[0] != msgWarrantyFormatError {
		t.Errorf("expected format error, got %v", texts)
	}
	if st, ok := states.Get(testSender); !ok || st.Step != models.StepWarranty {
		t.Error("state must remain at warranty for a re-prompt")
	}
}

func TestWarrantyLookupMiss(t *testing.T) {
	snd := &fakeSender{}
	src := &fakeSource{rows: map[int][]sheets.Row{sheets.SheetWarranty: warrantyRows()}}
	d, states := newTestDispatcher(src, snd, &fakeResponder{})
	states.Set(testSender, models.ConversationState{Step: models.StepWarranty})

	d.Dispatch(context.Background(), textEvent("wamid.7", "9990001111"))

	texts := snd.textsTo(testSender)
	if len(texts) != 1 || !strings.Contains(texts[0], "No se encontró") {
		t.Errorf("expected not-found message, got %v", texts)
	}
	if _, ok := states.Get(testSender); ok {
		t.Error("state must be cleared after a lookup miss")
	}
}

func TestWarrantySheetFailureRecoversLocally(t *testing.T) {
	snd := &fakeSender{}
	src := &fakeSource{loadErr: errors.New("sheets unavailable")}
	d, states := newTestDispatcher(src, snd, &fakeResponder{})
	states.Set(testSender, models.ConversationState{Step: models.StepWarranty})

	d.Dispatch(context.Background(), textEvent("wamid.8", "9711234567"))

	if texts := snd.textsTo(testSender); len(texts) != 1 || texts[0] != msgApology {
		t.Errorf("expected apology, got %v", texts)
	}
	if _, ok := states.Get(testSender); ok {
		t.Error("sender must never be left stranded in a dead step")
	}
}

func TestTerminateThenGreetingReentersWelcome(t *testing.T) {
	snd := &fakeSender{}
	d, states := newTestDispatcher(&fakeSource{}, snd, &fakeResponder{})
	states.Set(testSender, models.ConversationState{Step: models.StepPostPromotion, PromotionType: "promo_baterias"})

	d.Dispatch(context.Background(), optionEvent("wamid.9", "terminar", "Terminar"))
	if _, ok := states.Get(testSender); ok {
		t.Fatal("terminate must delete conversation state")
	}

	d.Dispatch(context.Background(), textEvent("wamid.10", "hola"))
	texts := snd.textsTo(testSender)
	if len(texts) != 2 || !strings.Contains(texts[1], "Bienvenido") {
		t.Errorf("expected welcome after terminate, got %v", texts)
	}
}

func TestContactAdvisorNotifiesAndConfirms(t *testing.T) {
	snd := &fakeSender{}
	src := &fakeSource{rows: map[int][]sheets.Row{sheets.SheetWarranty: warrantyRows()}}
	d, states := newTestDispatcher(src, snd, &fakeResponder{})
	states.Set(testSender, models.ConversationState{Step: models.StepContactAdvisor})

	d.Dispatch(context.Background(), textEvent("wamid.11", "9711234567"))

	advisorTexts := snd.textsTo(testAdvisor)
	if len(advisorTexts) != 1 || !strings.Contains(advisorTexts[0], "Juan Pérez") {
		t.Fatalf("expected advisor notification with client name, got %v", advisorTexts)
	}
	if texts := snd.textsTo(testSender); len(texts) != 1 || texts[0] != msgAdvisorConfirm {
		t.Errorf("expected confirmation to sender, got %v", texts)
	}
	if _, ok := states.Get(testSender); ok {
		t.Error("advisor state must be cleared")
	}
}

func TestQuestionFlowAnswersAndClearsState(t *testing.T) {
	snd := &fakeSender{}
	d, states := newTestDispatcher(&fakeSource{}, snd, &fakeResponder{answer: "Abrimos de 9 a 7."})
	states.Set(testSender, models.ConversationState{Step: models.StepQuestion})

	d.Dispatch(context.Background(), textEvent("wamid.12", "cual es su horario"))

	texts := snd.textsTo(testSender)
	if len(texts) != 1 || texts[0] != "Abrimos de 9 a 7." {
		t.Errorf("expected responder answer, got %v", texts)
	}
	last := snd.sent[len(snd.sent)-1]
	if last.kind != "buttons" || last.body != msgQuestionFollowUp {
		t.Errorf("expected question follow-up menu, got %+v", last)
	}
	if _, ok := states.Get(testSender); ok {
		t.Error("question state must be cleared after answering")
	}
}

func TestQuestionResponderFailureSendsApology(t *testing.T) {
	snd := &fakeSender{}
	d, states := newTestDispatcher(&fakeSource{}, snd, &fakeResponder{err: errors.New("quota exceeded")})
	states.Set(testSender, models.ConversationState{Step: models.StepQuestion})

	d.Dispatch(context.Background(), textEvent("wamid.13", "hay alguien"))

	if texts := snd.textsTo(testSender); len(texts) != 1 || texts[0] != msgApology {
		t.Errorf("expected apology, got %v", texts)
	}
	if _, ok := states.Get(testSender); ok {
		t.Error("question state must be cleared on failure too")
	}
}

func TestPromotionSelectionStoresContext(t *testing.T) {
	snd := &fakeSender{}
	d, states := newTestDispatcher(&fakeSource{}, snd, &fakeResponder{})

	d.Dispatch(context.Background(), optionEvent("wamid.14", "promo_baterias", "Cambio de batería"))

	kinds := make([]string, len(snd.sent))
	for i, m := range snd.sent {
		kinds[i] = m.kind
	}
	if fmt.Sprint(kinds) != "[image text buttons]" {
		t.Errorf("expected image, body, menu in order, got %v", kinds)
	}
	st, ok := states.Get(testSender)
	if !ok || st.Step != models.StepPostPromotion || st.PromotionType != "promo_baterias" {
		t.Errorf("expected post_promotion state with promotion type, got %+v", st)
	}
}

func TestNameCaptureValidation(t *testing.T) {
	snd := &fakeSender{}
	d, states := newTestDispatcher(&fakeSource{}, snd, &fakeResponder{})
	states.Set(testSender, models.ConversationState{Step: models.StepCaptureName, PromotionType: "promo_pantallas"})

	// Single token rejected, state unchanged.
	d.Dispatch(context.Background(), textEvent("wamid.15", "Juan"))
	if texts := snd.textsTo(testSender); len(texts) != 1 || texts[0] != msgNameInvalid {
		t.Fatalf("expected name validation error, got %v", texts)
	}
	if st, ok := states.Get(testSender); !ok || st.Step != models.StepCaptureName {
		t.Fatal("state must remain at capture_name after invalid input")
	}

	// A greeting is not a name either.
	d.Dispatch(context.Background(), textEvent("wamid.16", "buen dia"))
	if st, ok := states.Get(testSender); !ok || st.Step != models.StepCaptureName {
		t.Fatal("greeting must not pass name validation")
	}
}

func TestNameCaptureNotifiesEveryAdvisor(t *testing.T) {
	snd := &fakeSender{}
	d, states := newTestDispatcher(&fakeSource{}, snd, &fakeResponder{})
	states.Set(testSender, models.ConversationState{
		Step:          models.StepCaptureName,
		PromotionType: "promo_pantallas",
		Source:        models.SourcePublicity,
	})

	d.Dispatch(context.Background(), textEvent("wamid.17", "Juan Pérez"))

	for _, advisor := range []string{"5215550000001", "5215550000002"} {
		texts := snd.textsTo(advisor)
		if len(texts) != 1 {
			t.Fatalf("expected exactly one notification for advisor %s, got %d", advisor, len(texts))
		}
		if !strings.Contains(texts[0], "Juan Pérez") || !strings.Contains(texts[0], "publicidad") {
			t.Errorf("notification missing name or source context: %q", texts[0])
		}
	}
	if texts := snd.textsTo(testSender); len(texts) != 1 || texts[0] != msgAdvisorConfirm {
		t.Errorf("expected confirmation to sender, got %v", texts)
	}
	st, ok := states.Get(testSender)
	if !ok || st.Step != models.StepPostAdvisorContact {
		t.Errorf("expected post_advisor_contact state, got %+v (ok=%v)", st, ok)
	}
}

func TestMoreInfoCarriesPublicityContext(t *testing.T) {
	snd := &fakeSender{}
	d, states := newTestDispatcher(&fakeSource{}, snd, &fakeResponder{})
	states.Set(testSender, models.ConversationState{
		Step:          models.StepPostPublicity,
		PromotionType: "promo_accesorios",
		Source:        models.SourcePublicity,
	})

	d.Dispatch(context.Background(), optionEvent("wamid.18", "quiero_mas_informacion", "Quiero más info"))

	st, ok := states.Get(testSender)
	if !ok || st.Step != models.StepCaptureName {
		t.Fatalf("expected capture_name step, got %+v", st)
	}
	if st.PromotionType != "promo_accesorios" || st.Source != models.SourcePublicity {
		t.Errorf("expected publicity context carried over, got %+v", st)
	}
}

func TestTextInUnknownStateSilentlyDropped(t *testing.T) {
	snd := &fakeSender{}
	d, _ := newTestDispatcher(&fakeSource{}, snd, &fakeResponder{})

	d.Dispatch(context.Background(), textEvent("wamid.19", "necesito ayuda con mi telefono"))

	if len(snd.sent) != 0 {
		t.Errorf("free text in an unrecognized state must be dropped, got %v", snd.sent)
	}
	if len(snd.reads) != 1 {
		t.Errorf("dropped events are still acknowledged, got %d reads", len(snd.reads))
	}
}
