package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscape(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;x&lt;/b&gt; &amp; y", Escape("<b>x</b> & y"))
	assert.Equal(t, "sin cambios", Escape("sin cambios"))
}

func TestLines(t *testing.T) {
	assert.Equal(t, "uno<br>dos &amp; tres", Lines("uno\ndos & tres"))
}

func TestRenderPlain(t *testing.T) {
	got := Render("<b>Pregunta 1/2:</b> ¿Qué quieres lograr?", Plain)
	assert.Equal(t, "Pregunta 1/2: ¿Qué quieres lograr?", got)
}

func TestRenderLineBreaksAndEntities(t *testing.T) {
	got := Render("<b>Prompt inicial:</b><br>a &lt;b&gt; &amp; c<br>fin", Plain)
	assert.Equal(t, "Prompt inicial:\na <b> & c\nfin", got)
}

func TestRenderEscapedTextStaysLiteral(t *testing.T) {
	hostile := "<script>alert(1)</script>"
	got := Render("<pre>"+Escape(hostile)+"</pre>", Plain)
	assert.Equal(t, hostile, got)
}

func TestRenderWhatsApp(t *testing.T) {
	got := Render("❌ <b>No pasa validación:</b> corto<br><i>Responde de nuevo.</i>", WhatsApp)
	assert.Equal(t, "❌ *No pasa validación:* corto\n_Responde de nuevo._", got)
}

func TestWrapTrimmedKeepsSpacesOutside(t *testing.T) {
	assert.Equal(t, " *hola* ", wrapTrimmed(" hola ", "*"))
	assert.Equal(t, "  ", wrapTrimmed("  ", "*"))
}

func TestRenderNilStyle(t *testing.T) {
	assert.Equal(t, "x", Render("<i>x</i>", nil))
}
