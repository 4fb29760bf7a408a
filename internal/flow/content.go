package flow

import (
	"strings"

	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/models"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/textnorm"
)

// Business content text blocks. All customer-facing copy is Spanish.
const (
	msgWelcome = "¡Hola *%s*! 👋 Bienvenido al servicio de Atención a Clientes de " +
		"Tecnología Inalámbrica del Istmo. ¿En qué puedo ayudarte hoy?"
	msgMainMenuHeader = "📋 Menú Principal"
	msgMainMenuBody   = "Selecciona una opción:"

	msgAskQuestion = "¿En qué puedo ayudarte? Puedo resolver cualquier duda que tengas " +
		"acerca de Tecnología Inalámbrica del Istmo"
	msgAskWarrantyPhone = "Ingresa tu número de teléfono (10 dígitos) o el IMEI (15 dígitos) " +
		"correspondiente a tu equipo en garantía:"
	msgAskAdvisorPhone = "Ingresa tu número de teléfono correspondiente a tu equipo en garantía:"
	msgAskFullName     = "Para que un asesor pueda atenderte, escribe tu nombre completo:"

	msgWarrantyFormatError = "El dato ingresado no es válido. Escribe tu número de teléfono " +
		"a 10 dígitos o el IMEI de tu equipo a 15 dígitos."
	msgWarrantyNotFound = "❌ No se encontró ningún equipo en garantía asociado a %s"
	msgNameInvalid      = "Por favor escribe tu nombre y apellido completos (por ejemplo: Juan Pérez)."

	msgAdvisorConfirm = "Un asesor se comunicará contigo en breve. ¡Gracias por tu paciencia!"
	msgClosing        = "¡Espero haberte ayudado! Que tengas un excelente día de parte de " +
		"Tecnología Inalámbrica del Istmo."
	msgUnknownOption = "Opción no reconocida. Por favor, selecciona una opción válida."
	msgApology       = "⚠️ Ocurrió un error al procesar tu solicitud. Por favor intenta más tarde."

	msgFollowUpBody      = "¿Necesitas algo más?"
	msgQuestionFollowUp  = "¿Te ha parecido útil la respuesta?"
	msgSurveyThanks      = "¡Gracias por responder nuestra encuesta! Tu opinión nos ayuda a mejorar. 🙌"
	msgPostPromotionBody = "¿Te interesa esta promoción?"
)

// followUpButtons is shown after warranty and advisor flows complete.
var followUpButtons = []models.Button{
	{ID: "hacer_otro_seguimiento", Title: "Hacer otro seguimiento"},
	{ID: "terminar", Title: "Terminar"},
}

// questionFollowUpButtons is shown after the generative responder answers.
var questionFollowUpButtons = []models.Button{
	{ID: "hacer_otra_consulta", Title: "Hacer otra consulta"},
	{ID: "terminar", Title: "Terminar"},
}

// postPromotionButtons is shown after a promotion is sent.
var postPromotionButtons = []models.Button{
	{ID: "quiero_mas_informacion", Title: "Quiero más info"},
	{ID: "terminar", Title: "Terminar"},
}

// mainMenuSections is the welcome list menu.
var mainMenuSections = []models.ListSection{
	{
		Title: "Atención a clientes",
		Rows: []models.ListRow{
			{ID: "consulta", Title: "Hacer una consulta", Description: "Resuelve tus dudas con nuestro asistente"},
			{ID: "garantia", Title: "Seguimiento Garantía", Description: "Consulta el estado de tu equipo"},
			{ID: "contacto", Title: "Contactar Con Asesor", Description: "Un asesor te llamará"},
			{ID: "promociones", Title: "Promociones", Description: "Conoce nuestras promociones vigentes"},
		},
	},
}

// promotions is the static catalog, selectable by id or keyword.
var promotions = []models.Promotion{
	{
		ID:    "promo_pantallas",
		Title: "Cambio de pantalla",
		Body: "📱 *Cambio de pantalla con 20% de descuento* en todos los modelos. " +
			"Incluye mica de regalo. Válido hasta fin de mes.",
		ImageURL: "https://tii-istmo.com/promos/pantallas.jpg",
	},
	{
		ID:    "promo_baterias",
		Title: "Cambio de batería",
		Body: "🔋 *Batería nueva con instalación gratis.* Recupera la duración " +
			"original de tu equipo el mismo día.",
		ImageURL: "https://tii-istmo.com/promos/baterias.jpg",
	},
	{
		ID:    "promo_accesorios",
		Title: "Accesorios",
		Body: "🎧 *2x1 en accesorios seleccionados:* cargadores, fundas y " +
			"audífonos participantes.",
		ImageURL: "https://tii-istmo.com/promos/accesorios.jpg",
	},
}

// promotionKeywords maps a catalog entry to the keywords that select it
// from a button or list reply.
var promotionKeywords = map[string][]string{
	"promo_pantallas":  {"pantalla"},
	"promo_baterias":   {"bateria"},
	"promo_accesorios": {"accesorio"},
}

// action is the canonical outcome of an interactive selection.
type action string

const (
	actionQuestion   action = "question"
	actionWarranty   action = "warranty"
	actionAdvisor    action = "contact_advisor"
	actionPromotions action = "promotions"
	actionMoreInfo   action = "more_info"
	actionTerminate  action = "terminate"
)

// aliasGroup binds a canonical action to its normalized synonym set.
type aliasGroup struct {
	action  action
	aliases []string
}

// menuAliases is matched in order; the first group whose alias appears
// in the normalized selection wins.
var menuAliases = []aliasGroup{
	{actionTerminate, []string{"terminar", "finalizar", "no gracias"}},
	{actionMoreInfo, []string{"me interesa", "mas informacion", "mas info", "quiero informacion"}},
	{actionQuestion, []string{"consulta", "pregunta"}},
	{actionWarranty, []string{"garantia", "seguimiento"}},
	{actionAdvisor, []string{"contactar", "asesor", "contacto"}},
	{actionPromotions, []string{"promociones", "promos"}},
}

// matchAction resolves a normalized selection against the alias table.
func matchAction(normalized string) (action, bool) {
	for _, g := range menuAliases {
		for _, alias := range g.aliases {
			if strings.Contains(normalized, alias) {
				return g.action, true
			}
		}
	}
	return "", false
}

// promotionFor resolves a selection to a catalog entry by exact id or
// by keyword containment.
func promotionFor(id, normalized string) (models.Promotion, bool) {
	for _, p := range promotions {
		if p.ID == id {
			return p, true
		}
		for _, kw := range promotionKeywords[p.ID] {
			if strings.Contains(normalized, kw) {
				return p, true
			}
		}
	}
	return models.Promotion{}, false
}

// promotionByType returns the catalog entry for a stored promotion type.
func promotionByType(promoType string) (models.Promotion, bool) {
	for _, p := range promotions {
		if p.ID == promoType {
			return p, true
		}
	}
	return models.Promotion{}, false
}

// promotionListSections builds the list message for promotion browsing.
func promotionListSections() []models.ListSection {
	rows := make([]models.ListRow, 0, len(promotions))
	for _, p := range promotions {
		rows = append(rows, models.ListRow{ID: p.ID, Title: p.Title, Description: firstSentence(p.Body)})
	}
	return []models.ListSection{{Title: "Promociones vigentes", Rows: rows}}
}

// firstSentence trims a promotion body to a short list description.
func firstSentence(body string) string {
	cleaned := textnorm.Normalize(body)
	if i := strings.IndexByte(cleaned, '.'); i > 0 {
		cleaned = cleaned[:i]
	}
	if r := []rune(cleaned); len(r) > 72 {
		cleaned = string(r[:72])
	}
	return cleaned
}
