// Package api exposes the webhook HTTP surface: the Meta verification
// handshake, the inbound event endpoint, and a liveness probe.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/models"
)

// Dispatcher is the inbound-event consumer the server hands events to.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.InboundEvent)
}

// Config holds the webhook server settings.
type Config struct {
	Addr        string
	VerifyToken string
	// BusinessPhoneID filters events: webhooks for other phone number
	// ids are acknowledged and ignored.
	BusinessPhoneID string
}

// Server is the webhook HTTP server.
type Server struct {
	cfg        Config
	dispatcher Dispatcher
	httpServer *http.Server
}

// NewServer creates a webhook server delivering events to the dispatcher.
func NewServer(cfg Config, dispatcher Dispatcher) *Server {
	s := &Server{cfg: cfg, dispatcher: dispatcher}
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/health", s.handleHealth)
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Webhook server listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleWebhook serves the Meta verification handshake on GET and
// inbound event delivery on POST. POST always answers 200: processing
// failures are contained in the dispatcher, and a non-2xx here would
// only trigger channel redelivery.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verify(w, r)
	case http.MethodPost:
		s.receive(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verify implements the hub.challenge handshake.
func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.cfg.VerifyToken {
		slog.Info("Webhook verified")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	slog.Warn("Webhook verification rejected", "mode", q.Get("hub.mode"))
	w.WriteHeader(http.StatusForbidden)
}

func (s *Server) receive(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	var env webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		slog.Error("Webhook payload decode failed", "error", err)
		return
	}
	ev, ok := parseEvent(env, s.cfg.BusinessPhoneID)
	if !ok {
		return
	}
	slog.Debug("Webhook event received", "id", ev.ID, "from", ev.From, "type", ev.Type)
	s.dispatcher.Dispatch(r.Context(), ev)
}

// webhookEnvelope mirrors the Graph API webhook payload, limited to
// the fields the dispatcher needs.
type webhookEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Type string `json:"type"`
					Text *struct {
						Body string `json:"body"`
					} `json:"text"`
					Button *struct {
						Payload string `json:"payload"`
						Text    string `json:"text"`
					} `json:"button"`
					Interactive *struct {
						Type        string `json:"type"`
						ButtonReply *struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"button_reply"`
						ListReply *struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"list_reply"`
						NFMReply *struct {
							ResponseJSON string `json:"response_json"`
						} `json:"nfm_reply"`
					} `json:"interactive"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// parseEvent maps the envelope to an InboundEvent, filtering by
// business phone id and normalizing the sender.
func parseEvent(env webhookEnvelope, businessPhoneID string) (models.InboundEvent, bool) {
	if len(env.Entry) == 0 || len(env.Entry[0].Changes) == 0 {
		return models.InboundEvent{}, false
	}
	value := env.Entry[0].Changes[0].Value
	if businessPhoneID != "" && value.Metadata.PhoneNumberID != businessPhoneID {
		slog.Debug("Webhook event for foreign phone id ignored", "phone_id", value.Metadata.PhoneNumberID)
		return models.InboundEvent{}, false
	}
	if len(value.Messages) == 0 {
		return models.InboundEvent{}, false
	}
	msg := value.Messages[0]

	ev := models.InboundEvent{
		ID:   msg.ID,
		From: NormalizeSender(msg.From),
	}
	if len(value.Contacts) > 0 {
		ev.Profile = models.SenderProfile{
			Name: value.Contacts[0].Profile.Name,
			WaID: value.Contacts[0].WaID,
		}
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return models.InboundEvent{}, false
		}
		ev.Type = models.EventTypeText
		ev.Text = msg.Text.Body
	case "button":
		// Template quick replies come back as plain button messages;
		// they route like interactive selections.
		if msg.Button == nil {
			return models.InboundEvent{}, false
		}
		ev.Type = models.EventTypeInteractive
		ev.Interactive = &models.InteractiveReply{ID: msg.Button.Payload, Title: msg.Button.Text}
	case "interactive":
		if msg.Interactive == nil {
			return models.InboundEvent{}, false
		}
		switch {
		case msg.Interactive.NFMReply != nil:
			ev.Type = models.EventTypeSurveyReply
			ev.SurveyJSON = msg.Interactive.NFMReply.ResponseJSON
		case msg.Interactive.ButtonReply != nil:
			ev.Type = models.EventTypeInteractive
			ev.Interactive = &models.InteractiveReply{
				ID:    msg.Interactive.ButtonReply.ID,
				Title: msg.Interactive.ButtonReply.Title,
			}
		case msg.Interactive.ListReply != nil:
			ev.Type = models.EventTypeInteractive
			ev.Interactive = &models.InteractiveReply{
				ID:    msg.Interactive.ListReply.ID,
				Title: msg.Interactive.ListReply.Title,
			}
		default:
			return models.InboundEvent{}, false
		}
	default:
		slog.Debug("Webhook message type ignored", "type", msg.Type)
		return models.InboundEvent{}, false
	}
	return ev, true
}

// NormalizeSender reduces a Mexican WhatsApp id (521 + 10 digits) to
// the dialable 52 + 10 digit form used as the sender identity.
func NormalizeSender(from string) string {
	if len(from) == 13 && strings.HasPrefix(from, "521") {
		return "52" + from[3:]
	}
	return from
}
