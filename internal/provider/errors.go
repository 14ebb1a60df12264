package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// APIError is returned for any non-2xx response. Message is already
// formatted for the end user.
type APIError struct {
	Status  int
	Body    string
	Message string
}

func (e *APIError) Error() string { return e.Message }

// FormatError is returned when a 2xx response does not carry the expected
// choices[0].message.content field.
type FormatError struct {
	Reason string
	Body   string
}

func (e *FormatError) Error() string {
	return "unexpected provider response: " + e.Reason
}

// TransportError wraps network level failures (dial, TLS, timeouts).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "provider transport error: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

var statusMessages = map[int]string{
	400: "Requête invalide",
	401: "Clé API invalide ou expirée",
	403: "Accès refusé",
	404: "Endpoint API non trouvé",
	429: "Limite de requêtes dépassée",
	500: "Erreur serveur API",
	503: "Service API temporairement indisponible",
}

type errorBody struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
	// Mistral style payloads carry type/message at the top level.
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newAPIError(status int, body []byte, debug bool) *APIError {
	return &APIError{
		Status:  status,
		Body:    string(body),
		Message: formatAPIError(status, body, debug),
	}
}

func formatAPIError(status int, body []byte, debug bool) string {
	def, ok := statusMessages[status]
	if !ok {
		def = "Erreur API"
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return fmt.Sprintf("%s (HTTP %d)", def, status)
	}

	if eb.Error != nil && eb.Error.Message != "" {
		msg := friendlyMessage(eb.Error.Message)
		if eb.Error.Type == "insufficient_quota" {
			msg += " (Quota insuffisant)"
		}
		if debug && eb.Error.Code != nil {
			if code := fmt.Sprint(eb.Error.Code); code != "" {
				msg += " [Code: " + code + "]"
			}
		}
		return msg
	}

	if eb.Type != "" && eb.Message != "" {
		return "❌ " + eb.Message
	}

	return fmt.Sprintf("%s (HTTP %d)", def, status)
}

func friendlyMessage(msg string) string {
	switch {
	case strings.Contains(msg, "Service tier capacity exceeded"):
		return "⚠️ Quota du modèle dépassé. Veuillez patienter quelques minutes ou utiliser un autre modèle."
	case strings.Contains(msg, "Rate limit"), strings.Contains(msg, "rate_limit"):
		return "⚠️ Trop de requêtes. Veuillez patienter quelques secondes avant de réessayer."
	case strings.Contains(msg, "Invalid API key"), strings.Contains(msg, "Incorrect API key"):
		return "❌ Clé API invalide. Vérifiez votre configuration."
	case strings.Contains(msg, "model") && strings.Contains(msg, "does not exist"):
		return "❌ Le modèle spécifié n'existe pas ou n'est pas accessible."
	case strings.Contains(msg, "context_length_exceeded"):
		return "⚠️ Message trop long. Le contexte dépasse la limite du modèle."
	default:
		return "❌ " + msg
	}
}
