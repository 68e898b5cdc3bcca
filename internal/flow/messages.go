package flow

// Bot messages and input placeholders shown during a conversation.
const (
	Greeting = "¡Hola! Soy <b>GuíaIA</b>. Te haré preguntas secuenciales. Cada respuesta debe ser coherente con las anteriores."

	PlaceholderAnswer     = "Escribe tu respuesta…"
	PlaceholderValidating = "Validando…"

	StatusValidating = "Validando…"
	StatusComposing  = "Construyendo prompt inicial…"
	StatusScoring    = "Calculando Scorecard…"

	MsgAccepted = "✅ Ok. Registrado."

	// NoPromptPlaceholder stands in for a composition response without a prompt.
	NoPromptPlaceholder = "(sin prompt)"
)
